package config

import (
	"fmt"
	"strings"
	"time"
)

// fieldDuration parses a Go duration string from a config field. Empty means
// unset (0); negative values are rejected with the field path in the error.
func fieldDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// fieldDurationDefault is fieldDuration with a fallback for unset fields.
func fieldDurationDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := fieldDuration(field, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
