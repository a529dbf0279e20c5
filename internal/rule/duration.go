package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// cooldownPattern is the canonical cooldown grammar: 10s, 10m, 1h, 2d, 1w.
// ISO-8601 durations are rejected rather than guessed at runtime.
var cooldownPattern = regexp.MustCompile(`^\d+(s|m|h|d|w)$`)

// ParseCooldown parses a cooldown duration expression at rule load time.
func ParseCooldown(expr string) (time.Duration, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if !cooldownPattern.MatchString(expr) {
		return 0, fmt.Errorf("unparsable cooldown duration %q (want e.g. 30s/10m/1h/2d/1w)", expr)
	}
	n, err := strconv.Atoi(expr[:len(expr)-1])
	if err != nil {
		return 0, fmt.Errorf("unparsable cooldown duration %q", expr)
	}
	switch expr[len(expr)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unparsable cooldown duration %q", expr)
}

// ParseSchedule parses an evaluation frequency like "1m", "5m", "1h", "1d"
// into a time.Duration. Returns (0, false) on invalid input.
func ParseSchedule(schedule string) (time.Duration, bool) {
	schedule = strings.ToLower(strings.TrimSpace(schedule))
	if schedule == "" {
		return 0, false
	}
	unit := schedule[len(schedule)-1]
	numStr := strings.TrimSpace(schedule[:len(schedule)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}
