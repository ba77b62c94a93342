package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultSlotDuration = 60 * time.Minute

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted
// as the end of the day.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 || hours < 0 || hours > 24 || (hours == 24 && mins != 0) {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	return hours*60 + mins, nil
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseSlot parses "HH:MM - HH:MM" and returns both bounds in minutes.
func ParseSlot(slot string) (start, end int, err error) {
	a, b, ok := strings.Cut(slot, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed slot %q", slot)
	}
	if start, err = ParseClock(a); err != nil {
		return 0, 0, err
	}
	if end, err = ParseClock(b); err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("slot %q ends before it starts", slot)
	}
	return start, end, nil
}

func FormatSlot(start, end int) string {
	return FormatClock(start) + " - " + FormatClock(end)
}

// ExpandRange splits [start, end) into consecutive slots of the given
// duration; the last one is clipped to end.
func ExpandRange(start, end string, duration time.Duration) ([]string, error) {
	if start == "" || end == "" {
		return nil, errors.New("time range needs start and end")
	}
	from, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	if to <= from || to > minutesPerDay {
		return nil, fmt.Errorf("invalid range %s to %s", start, end)
	}
	step := int(duration / time.Minute)
	if step <= 0 {
		return nil, fmt.Errorf("invalid slot duration %s", duration)
	}
	var slots []string
	for cur := from; cur < to; cur += step {
		slots = append(slots, FormatSlot(cur, min(cur+step, to)))
	}
	return slots, nil
}
