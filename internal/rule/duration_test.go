package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCooldown(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"10m": 10 * time.Minute,
		"1h":  time.Hour,
		"2d":  48 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for expr, want := range cases {
		got, err := ParseCooldown(expr)
		assert.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}
}

func TestParseCooldownRejectsInvalid(t *testing.T) {
	for _, expr := range []string{"", "30", "m30", "30 m", "PT30M", "P1D", "1.5h", "-5m", "30min"} {
		_, err := ParseCooldown(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	d, ok := ParseSchedule("5m")
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)

	d, ok = ParseSchedule("1D")
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)

	for _, expr := range []string{"", "m", "0m", "-1m", "1w", "abc"} {
		_, ok := ParseSchedule(expr)
		assert.False(t, ok, expr)
	}
}
