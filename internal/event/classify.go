// Package event classifies free-text event titles into canonical event types.
//
// Classification runs an ordered table of rules over the title after the
// gender and stage qualifiers are stripped. The first rule that matches
// decides; a matching rule may still reject the title, which is an error
// rather than a fallthrough.
package event

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

type rule struct {
	name  string
	apply func(title string) (harvest.EventType, bool, error)
}

var rules = []rule{
	{name: "distance", apply: classifyDistance},
	{name: "relay", apply: classifyRelay},
	{name: "field", apply: classifyField},
	{name: "long-form 10000", apply: classifyLongForm},
}

var (
	qualifierPattern = regexp.MustCompile(`(?i)\b(wo)?men['’]?s\b`)
	stagePattern     = regexp.MustCompile(`(?i)\b(preliminaries|prelims|finals?|heat\s*\d+|section\s*\d+)\b`)
	spacePattern     = regexp.MustCompile(`\s+`)
	distancePattern  = regexp.MustCompile(`^(\d{2,})\s+([A-Za-z]+)(?:\s+([A-Za-z]+))?`)
	relayPattern     = regexp.MustCompile(`(?i)\b4\s*x\s*(\d+)`)
)

// Classify maps a title such as "Men's 5000 Meters" to its event type. It
// returns *harvest.UnclassifiableEventError when no rule accepts the title.
func Classify(title string) (harvest.EventType, error) {
	stripped := Strip(title)
	for _, r := range rules {
		et, ok, err := r.apply(stripped)
		if err != nil {
			return "", &harvest.UnclassifiableEventError{Title: title, Reason: r.name + " rule: " + err.Error()}
		}
		if ok {
			return et, nil
		}
	}
	return "", &harvest.UnclassifiableEventError{Title: title}
}

// Strip removes gender and stage qualifiers and collapses whitespace.
func Strip(title string) string {
	title = qualifierPattern.ReplaceAllString(title, " ")
	title = stagePattern.ReplaceAllString(title, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(title, " "))
}

type distanceEntry struct {
	plain   harvest.EventType
	variant map[string]harvest.EventType
}

var distances = map[int]distanceEntry{
	100:   {plain: harvest.Event100m, variant: map[string]harvest.EventType{"hurdles": harvest.Event100mH}},
	110:   {variant: map[string]harvest.EventType{"hurdles": harvest.Event110mH}},
	200:   {plain: harvest.Event200m},
	400:   {plain: harvest.Event400m, variant: map[string]harvest.EventType{"hurdles": harvest.Event400mH}},
	800:   {plain: harvest.Event800m},
	1500:  {plain: harvest.Event1500m},
	3000:  {plain: harvest.Event3000m, variant: map[string]harvest.EventType{"steeplechase": harvest.Event3000mSC}},
	5000:  {plain: harvest.Event5000m},
	10000: {plain: harvest.Event10000m},
}

func isUnitWord(word string) bool {
	switch word {
	case "meters", "meter", "metres", "metre", "m":
		return true
	}
	return false
}

func classifyDistance(title string) (harvest.EventType, bool, error) {
	m := distancePattern.FindStringSubmatch(title)
	if m == nil {
		return "", false, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false, fmt.Errorf("distance %q out of range", m[1])
	}
	entry, ok := distances[n]
	if !ok {
		return "", false, fmt.Errorf("unknown distance %d", n)
	}
	word := strings.ToLower(m[2])
	if et, ok := entry.variant[word]; ok {
		return et, true, nil
	}
	if isUnitWord(word) {
		// "100 Meter Hurdles" names the unit before the variant.
		if et, ok := entry.variant[strings.ToLower(m[3])]; ok {
			return et, true, nil
		}
		if entry.plain != "" {
			return entry.plain, true, nil
		}
	}
	return "", false, fmt.Errorf("unknown qualifier %q after distance %d", m[2], n)
}

func classifyRelay(title string) (harvest.EventType, bool, error) {
	m := relayPattern.FindStringSubmatch(title)
	if m == nil {
		return "", false, nil
	}
	switch m[1] {
	case "100":
		return harvest.Event4x100, true, nil
	case "400":
		return harvest.Event4x400, true, nil
	}
	return "", false, fmt.Errorf("unsupported relay leg %s", m[1])
}

var fieldKeywords = []struct {
	keyword string
	event   harvest.EventType
}{
	{"high jump", harvest.EventHighJump},
	{"long jump", harvest.EventLongJump},
	{"triple jump", harvest.EventTripleJump},
	{"vault", harvest.EventPoleVault},
	{"shot", harvest.EventShotPut},
	{"discus", harvest.EventDiscus},
	{"hammer", harvest.EventHammer},
	{"javelin", harvest.EventJavelin},
	{"decathlon", harvest.EventDecathlon},
	{"heptathlon", harvest.EventHeptathlon},
}

func classifyField(title string) (harvest.EventType, bool, error) {
	lower := strings.ToLower(title)
	for _, k := range fieldKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.event, true, nil
		}
	}
	return "", false, nil
}

func classifyLongForm(title string) (harvest.EventType, bool, error) {
	if strings.EqualFold(title, "10,000 Meters") {
		return harvest.Event10000m, true, nil
	}
	return "", false, nil
}
