// Package extract walks a meet results document into normalized row records.
package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/trackmeet-harvester/internal/event"
	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/mark"
)

// Selectors for the results catalog layout.
const (
	blockSelector   = "div.row"
	headingSelector = "div.custom-table-title h3"
	headerSelector  = "thead th"
	rowSelector     = "tbody tr"
)

type column int

const (
	colPlace column = iota
	colName
	colTeam
	colMark
)

var headerAliases = map[string]column{
	"pl":      colPlace,
	"place":   colPlace,
	"name":    colName,
	"athlete": colName,
	"team":    colTeam,
	"school":  colTeam,
	"time":    colMark,
	"mark":    colMark,
}

// Extraction is the outcome of one document walk. Issues lists tables and
// rows that were skipped because their text could not be read.
type Extraction struct {
	Rows          []harvest.RawRow
	Issues        []error
	Continuations int
	FieldTables   int
}

// Extract reads every result table in doc and tags each row with sex.
func Extract(doc *goquery.Document, sex harvest.Sex) Extraction {
	var out Extraction
	doc.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
		if block.Find(blockSelector).Length() > 0 || block.Find("table").Length() == 0 {
			return
		}
		heading := block.Find(headingSelector).First()
		if heading.Length() == 0 {
			out.Continuations++
			return
		}
		title := headingText(heading)
		eventType, err := event.Classify(title)
		if err != nil {
			out.Issues = append(out.Issues, err)
			return
		}
		if eventType.IsField() {
			out.FieldTables++
			return
		}
		rows, issues := extractTable(doc, block, eventType, title, sex)
		out.Rows = append(out.Rows, rows...)
		out.Issues = append(out.Issues, issues...)
	})
	return out
}

func headingText(heading *goquery.Selection) string {
	text := strings.TrimSpace(heading.Text())
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// columnIndex maps each known column to its position in this table.
func columnIndex(block *goquery.Selection) map[column]int {
	idx := make(map[column]int)
	block.Find(headerSelector).Each(func(i int, th *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(th.Text()))
		if col, ok := headerAliases[key]; ok {
			if _, seen := idx[col]; !seen {
				idx[col] = i
			}
		}
	})
	return idx
}

func extractTable(
	doc *goquery.Document,
	block *goquery.Selection,
	eventType harvest.EventType,
	title string,
	sex harvest.Sex,
) ([]harvest.RawRow, []error) {
	cols := columnIndex(block)
	placeCol, ok := cols[colPlace]
	if !ok {
		return nil, []error{fmt.Errorf("table %q: no place column", title)}
	}

	var (
		rows   []harvest.RawRow
		issues []error
	)
	block.Find(rowSelector).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		placeText := cellText(cells, placeCol)
		if placeText == "" {
			return
		}
		row := harvest.RawRow{
			Event:      eventType,
			EventTitle: title,
			Sex:        sex,
			Place:      parsePlace(placeText),
		}
		if i, ok := cols[colName]; ok {
			row.AthleteName = cellText(cells, i)
			row.AthleteRef = cellLink(doc, cells, i)
		}
		if i, ok := cols[colTeam]; ok {
			row.TeamName = cellText(cells, i)
			row.TeamRef = cellLink(doc, cells, i)
		}
		perf := harvest.TimedPerformance{}
		if i, ok := cols[colMark]; ok {
			perf.Raw = cellText(cells, i)
			seconds, err := mark.Parse(perf.Raw)
			if err != nil {
				issues = append(issues, fmt.Errorf("table %q place %s: %w", title, placeText, err))
				return
			}
			perf.Seconds = seconds
		}
		row.Performance = perf
		rows = append(rows, row)
	})
	return rows, issues
}

func cellText(cells *goquery.Selection, i int) string {
	if i >= cells.Length() {
		return ""
	}
	return strings.Join(strings.Fields(cells.Eq(i).Text()), " ")
}

func cellLink(doc *goquery.Document, cells *goquery.Selection, i int) string {
	if i >= cells.Length() {
		return ""
	}
	href, ok := cells.Eq(i).Find("a[href]").First().Attr("href")
	if !ok {
		return ""
	}
	return absolute(doc, strings.TrimSpace(href))
}

func absolute(doc *goquery.Document, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if doc.Url == nil {
		return ref.String()
	}
	return doc.Url.ResolveReference(ref).String()
}

// parsePlace returns nil for non-numeric places such as "--".
func parsePlace(text string) *int {
	n, err := strconv.Atoi(strings.TrimSuffix(text, "."))
	if err != nil {
		return nil
	}
	return &n
}
