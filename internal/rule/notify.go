package rule

// Channel describes one notification delivery target. Which field is set
// depends on the channel name (telegram, email, webhook); delivery specifics
// belong to the notification sink, not the engine.
type Channel struct {
	Enabled        bool   `yaml:"enabled"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	Email          string `yaml:"email"`
	WebhookURL     string `yaml:"webhook_url"`
}

// Events selects which engine events produce notifications.
type Events struct {
	Trigger     bool `yaml:"trigger"`
	Reset       bool `yaml:"reset"`
	Error       bool `yaml:"error"`
	CooldownEnd bool `yaml:"cooldown_end"`
}

// CooldownSpec holds the raw cooldown expression; the store parses it into
// Rule.Cooldown at load time and quarantines rules with unparsable values.
type CooldownSpec struct {
	Enabled  bool   `yaml:"enabled"`
	Duration string `yaml:"duration"`
}

type Preferences struct {
	Channels map[string]Channel `yaml:"channels"`
	AlertOn  Events             `yaml:"alert_on"`
	Cooldown CooldownSpec       `yaml:"cooldown"`
}

// DefaultPreferences mirrors the store defaults: trigger and error events on,
// no cooldown.
func DefaultPreferences() Preferences {
	return Preferences{
		Channels: map[string]Channel{},
		AlertOn:  Events{Trigger: true, Error: true},
	}
}
