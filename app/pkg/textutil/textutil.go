// Package textutil holds the text-level helpers shared by the checklist
// engines: time parsing, timezone offset math, tag normalization and
// task text shaping.
package textutil

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTagLength caps normalized tags, counting the leading '#'.
	MaxTagLength = 250

	// MaxTaskLength caps captured task text before it is stored.
	MaxTaskLength = 95

	// MaxWidgetItemLength is the platform limit for a single checklist item.
	MaxWidgetItemLength = 100

	minutesPerDay  = 24 * 60
	halfDayMinutes = 12 * 60
)

var (
	timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// ParseTimeString parses "H:MM" or "HH:MM" and returns the normalized
// "HH:MM" form. ok is false for anything that is not a valid wall-clock time.
func ParseTimeString(text string) (string, bool) {
	m := timePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	var h, mnt int
	fmt.Sscanf(m[1], "%d", &h)
	fmt.Sscanf(m[2], "%d", &mnt)
	if h < 0 || h > 23 || mnt < 0 || mnt > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, mnt), true
}

// OffsetMinutes computes the user's UTC offset from the wall-clock time they
// stated ("HH:MM") and the current UTC instant. The difference is normalized
// to the smallest magnitude, so 23:50 stated against 00:10 UTC yields -20
// minutes rather than +1420.
func OffsetMinutes(statedTime string, nowUTC time.Time) (int, error) {
	normalized, ok := ParseTimeString(statedTime)
	if !ok {
		return 0, fmt.Errorf("invalid time string %q", statedTime)
	}
	var h, mnt int
	fmt.Sscanf(normalized, "%02d:%02d", &h, &mnt)

	stated := h*60 + mnt
	utcNow := nowUTC.UTC().Hour()*60 + nowUTC.UTC().Minute()

	diff := stated - utcNow
	if diff > halfDayMinutes {
		diff -= minutesPerDay
	} else if diff <= -halfDayMinutes {
		diff += minutesPerDay
	}
	return diff, nil
}

// LocalDate returns the user's calendar date (YYYY-MM-DD) for the given UTC
// instant, shifted by their timezone offset in minutes.
func LocalDate(offsetMinutes int, nowUTC time.Time) string {
	local := nowUTC.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
	return local.Format("2006-01-02")
}

// NextLocalMidnight returns the UTC instant at which the user's next local
// day begins.
func NextLocalMidnight(offsetMinutes int, nowUTC time.Time) time.Time {
	offset := time.Duration(offsetMinutes) * time.Minute
	local := nowUTC.UTC().Add(offset)
	nextLocal := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return nextLocal.Add(-offset)
}

// NormalizeTag canonicalizes user tag input: leading '#' optional, spaces
// become underscores, everything lowered, length-capped. ok is false when
// nothing usable remains.
func NormalizeTag(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "#") {
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return "", false
	}
	s = strings.ToLower(strings.ReplaceAll(s, " ", "_"))

	maxRunes := MaxTagLength - 1
	if utf8.RuneCountInString(s) > maxRunes {
		runes := []rune(s)
		s = strings.TrimRight(string(runes[:maxRunes]), "_")
	}
	if s == "" {
		return "", false
	}
	return "#" + s, true
}

// Truncate caps s at max runes, trimming trailing whitespace and appending
// an ellipsis when it had to cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " \t") + "…"
}

// TaskText shapes a captured message into stored task text: trimmed,
// forwarded-sender annotated in parentheses, capped at MaxTaskLength.
// ok is false when there is no text to capture.
func TaskText(raw, forwardedFrom string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}
	text = Truncate(text, MaxTaskLength)
	if forwardedFrom != "" {
		text = Truncate(fmt.Sprintf("%s (%s)", text, forwardedFrom), MaxTaskLength)
	}
	return strings.TrimSpace(text), true
}

// NormalizeKey lowers, trims and collapses internal whitespace, producing the
// key used for cross-checklist task matching.
func NormalizeKey(s string) string {
	return spaceRuns.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// HumanDate renders an ISO date as "2 January". A blank or malformed input
// is returned as-is.
func HumanDate(dateISO string) string {
	t, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return dateISO
	}
	return fmt.Sprintf("%d %s", t.Day(), t.Month().String())
}

// ShortDateTag renders an ISO date as a compact tag-like label, e.g.
// "#7dec_sun", used as the daily option on the tag keyboard.
func ShortDateTag(dateISO string) string {
	t, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return dateISO
	}
	month := strings.ToLower(t.Month().String()[:3])
	weekday := strings.ToLower(t.Weekday().String()[:3])
	return fmt.Sprintf("#%d%s_%s", t.Day(), month, weekday)
}
