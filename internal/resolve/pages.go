package resolve

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

var (
	athleteRefPattern = regexp.MustCompile(`/athletes/(\d+)`)
	classYearPattern  = regexp.MustCompile(`\([A-Z]{2}-(\d)\)`)
)

// Detail page selectors.
const (
	athleteHeadingSelector = "h3.panel-title.large-title"
	athleteTeamSelector    = "a.underline-hover-white.pl-0.panel-actions"
	schoolNameSelector     = "h3#team-name"
	schoolHeadingSelector  = "span.panel-heading-normal-text"
)

var divisionPatterns = []struct {
	pattern  *regexp.Regexp
	division harvest.Division
}{
	{regexp.MustCompile(`\bDIII\b`), harvest.DivisionNCAADIII},
	{regexp.MustCompile(`\bDII\b`), harvest.DivisionNCAADII},
	{regexp.MustCompile(`\bDI\b`), harvest.DivisionNCAADI},
	{regexp.MustCompile(`\bNAIA\b`), harvest.DivisionNAIA},
}

// AthleteID extracts the source-assigned athlete identifier from a link.
func AthleteID(ref string) (int64, error) {
	m := athleteRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0, &harvest.ReferenceFormatError{Kind: "athlete", Reference: ref}
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &harvest.ReferenceFormatError{Kind: "athlete", Reference: ref}
	}
	return id, nil
}

// ParseDivision returns the first known division tag in text, checking the
// longest tags first so DIII never reads as DI.
func ParseDivision(text string) harvest.Division {
	for _, d := range divisionPatterns {
		if d.pattern.MatchString(text) {
			return d.division
		}
	}
	return harvest.DivisionUnknown
}

// NormalizeName is the dedup key for display names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// DisplayName title-cases a published name. Casers are not safe for
// concurrent use, so one is built per call.
func DisplayName(name string) string {
	return cases.Title(language.AmericanEnglish).String(strings.Join(strings.Fields(name), " "))
}

type athletePage struct {
	name      string
	classYear int
	schoolRef string
}

func parseAthletePage(doc *goquery.Document) (athletePage, error) {
	heading := doc.Find(athleteHeadingSelector).First()
	if heading.Length() == 0 {
		return athletePage{}, errors.New("athlete heading not found")
	}
	text := strings.TrimSpace(heading.Text())
	name := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		name = text[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return athletePage{}, errors.New("athlete heading has no name")
	}

	out := athletePage{name: DisplayName(name)}
	if m := classYearPattern.FindStringSubmatch(text); m != nil {
		out.classYear, _ = strconv.Atoi(m[1])
	}

	links := doc.Find(athleteTeamSelector)
	if href, ok := links.Eq(1).Attr("href"); ok {
		out.schoolRef = absolute(doc, href)
	} else if href, ok := doc.Find(`a[href*="/teams/"]`).First().Attr("href"); ok {
		out.schoolRef = absolute(doc, href)
	}
	return out, nil
}

type schoolPage struct {
	name       string
	division   harvest.Division
	conference string
}

func parseSchoolPage(doc *goquery.Document) (schoolPage, error) {
	name := strings.Join(strings.Fields(doc.Find(schoolNameSelector).First().Text()), " ")
	if name == "" {
		return schoolPage{}, fmt.Errorf("school name not found")
	}
	out := schoolPage{name: DisplayName(name)}
	for _, token := range headingTokens(doc) {
		if d := ParseDivision(token); d != harvest.DivisionUnknown {
			if out.division == harvest.DivisionUnknown {
				out.division = d
			}
			continue
		}
		if out.conference == "" {
			out.conference = token
		}
	}
	return out, nil
}

// headingTokens lists the text pieces of the heading block under the team
// name, one per child element when the block has children.
func headingTokens(doc *goquery.Document) []string {
	var tokens []string
	doc.Find(schoolHeadingSelector).Each(func(_ int, span *goquery.Selection) {
		children := span.Children()
		if children.Length() == 0 {
			children = span
		}
		children.Each(func(_ int, s *goquery.Selection) {
			if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
				tokens = append(tokens, t)
			}
		})
	})
	return tokens
}

func absolute(doc *goquery.Document, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || doc.Url == nil {
		return strings.TrimSpace(href)
	}
	return doc.Url.ResolveReference(ref).String()
}
