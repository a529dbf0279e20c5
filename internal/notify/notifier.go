// Package notify delivers rendered alerts to the channels a rule's owner
// enabled. Senders are registered by channel name; dispatch fans out to every
// enabled channel and a single failing sender never blocks the others.
package notify

import (
	"context"
	"fmt"
	"strings"

	"sentinel/internal/logger"
	"sentinel/internal/rule"
)

// Sender delivers one message over a concrete channel. Target carries the
// per-rule override (chat id, email address, webhook URL), empty meaning the
// sender's configured default.
type Sender interface {
	Name() string
	Send(ctx context.Context, target, title, message string) error
}

// Dispatcher routes alerts to registered senders according to rule
// preferences.
type Dispatcher struct {
	senders map[string]Sender
}

func NewDispatcher(senders ...Sender) *Dispatcher {
	byName := make(map[string]Sender, len(senders))
	for _, s := range senders {
		if s != nil {
			byName[s.Name()] = s
		}
	}
	return &Dispatcher{senders: byName}
}

// Notify delivers to every enabled channel that has a registered sender.
// Per-sender failures are collected so the caller can retry the whole
// dispatch; channels without a sender are skipped with a warning.
func (d *Dispatcher) Notify(ctx context.Context, prefs rule.Preferences, title, message string) error {
	var errs []string
	for name, ch := range prefs.Channels {
		if !ch.Enabled {
			continue
		}
		sender, ok := d.senders[name]
		if !ok {
			logger.Warnf("notify: channel %q enabled but no sender configured", name)
			continue
		}
		if err := sender.Send(ctx, channelTarget(name, ch), title, message); err != nil {
			logger.Errorf("notify: %s delivery failed: %v", name, err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		logger.Debugf("notify: delivered via %s", name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d channel(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func channelTarget(name string, ch rule.Channel) string {
	switch name {
	case "telegram":
		return ch.TelegramChatID
	case "email":
		return ch.Email
	case "webhook":
		return ch.WebhookURL
	}
	return ""
}
