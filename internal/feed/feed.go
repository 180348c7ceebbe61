// Package feed reads the results catalog's root feed into meet descriptors.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

const dateLayout = "January 2, 2006"

var (
	datePattern   = regexp.MustCompile(`([A-Za-z]+)\s*(\d{1,2})(?:\s*-\s*(?:[A-Za-z]+\s*)?\d{1,2})?,\s*(\d{4})`)
	meetIDPattern = regexp.MustCompile(`/results/(?:xc/)?(\d+)`)
)

// Item is one raw feed entry.
type Item struct {
	Title       string
	Description string
	Link        string
}

// Parser wraps gofeed.
type Parser struct {
	gofeedParser *gofeed.Parser
}

// NewParser builds a Parser.
func NewParser() *Parser {
	return &Parser{gofeedParser: gofeed.NewParser()}
}

// Items parses an RSS or Atom body.
func (p *Parser) Items(data []byte) ([]Item, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		items = append(items, Item{
			Title:       strings.TrimSpace(it.Title),
			Description: strings.TrimSpace(it.Description),
			Link:        strings.TrimSpace(it.Link),
		})
	}
	return items, nil
}

// Descriptor converts a feed item into a meet descriptor.
func Descriptor(item Item) (harvest.MeetDescriptor, error) {
	if item.Title == "" {
		return harvest.MeetDescriptor{}, errors.New("feed item has no title")
	}
	date, err := ParseMeetDate(item.Description)
	if err != nil {
		return harvest.MeetDescriptor{}, err
	}
	id, err := ParseMeetID(item.Link)
	if err != nil {
		return harvest.MeetDescriptor{}, err
	}
	return harvest.MeetDescriptor{
		ExternalID: id,
		Title:      item.Title,
		Date:       date,
		SourceURL:  item.Link,
	}, nil
}

// ParseMeetDate finds the first "Month D, YYYY" date in text. A day range such
// as "April 27-29, 2024" or "April 30 - May 2, 2024" yields the first day.
func ParseMeetDate(text string) (time.Time, error) {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, &harvest.DateFormatError{Text: text}
	}
	date, err := time.Parse(dateLayout, fmt.Sprintf("%s %s, %s", m[1], m[2], m[3]))
	if err != nil {
		return time.Time{}, &harvest.DateFormatError{Text: text}
	}
	return date, nil
}

// ParseMeetID extracts the numeric meet identifier from a results link.
func ParseMeetID(link string) (int64, error) {
	m := meetIDPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, &harvest.ReferenceFormatError{Kind: "meet", Reference: link}
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &harvest.ReferenceFormatError{Kind: "meet", Reference: link}
	}
	return id, nil
}
