// Package mark normalizes published performance marks into elapsed seconds.
package mark

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

// Sentinels are published outcomes that carry no mark.
var Sentinels = []string{"DNF", "DQ", "FS", "DNS", "NT"}

var (
	minutesPattern = regexp.MustCompile(`^(\d+):(\d{2}\.\d+)$`)
	secondsPattern = regexp.MustCompile(`^\d+\.\d+$`)
)

// Parse converts text into total seconds. It returns nil for empty text and for
// sentinels, and *harvest.MarkFormatError for anything else it cannot read.
// Hour-qualified marks are rejected.
func Parse(text string) (*float64, error) {
	text = strings.TrimSpace(text)
	if text == "" || IsSentinel(text) {
		return nil, nil
	}
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		minutes, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &harvest.MarkFormatError{Text: text}
		}
		seconds, err := strconv.ParseFloat(m[2], 64)
		if err != nil || seconds >= 60 {
			return nil, &harvest.MarkFormatError{Text: text}
		}
		total := float64(minutes)*60 + seconds
		return &total, nil
	}
	if secondsPattern.MatchString(text) {
		seconds, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &harvest.MarkFormatError{Text: text}
		}
		return &seconds, nil
	}
	return nil, &harvest.MarkFormatError{Text: text}
}

// IsSentinel reports whether text is one of the case-sensitive non-result tokens.
func IsSentinel(text string) bool {
	return slices.Contains(Sentinels, text)
}
