package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock converts "MM:SS" text into seconds. Minutes may exceed 59.
func ParseClock(text string) (int, error) {
	mins, secs, ok := strings.Cut(strings.TrimSpace(text), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q: missing separator", text)
	}
	m, err := strconv.Atoi(mins)
	if err != nil || m < 0 {
		return 0, fmt.Errorf("invalid clock %q: bad minutes", text)
	}
	s, err := strconv.Atoi(secs)
	if err != nil || s < 0 || s > 59 {
		return 0, fmt.Errorf("invalid clock %q: bad seconds", text)
	}
	return m*60 + s, nil
}

// FormatClock renders seconds as zero-padded "MM:SS". Negative values render as 00:00.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
