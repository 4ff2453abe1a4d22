// Package extractor turns fetched HTML pages into structured pattern records.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cloudscout/archscraper/internal/scraper"
)

// candidateSelectors is the ladder of container selectors tried in order.
// Catalog sites render each architecture entry as some flavor of card.
var candidateSelectors = []string{
	`div[class*="card"]`,
	`div[class*="pattern"]`,
	`div[class*="solution"]`,
	`article`,
	`div[class*="architecture"]`,
}

// typeKeywords promotes a record away from the default pattern type when
// the entry's name, container class, or description carries a stronger
// signal.
var typeKeywords = []struct {
	keyword string
	typ     scraper.PatternType
}{
	{"solution", scraper.PatternTypeSolution},
	{"guide", scraper.PatternTypeGuide},
	{"strategy", scraper.PatternTypeStrategy},
}

// HTMLExtractor implements scraper.Extractor for catalog-style pages.
type HTMLExtractor struct {
	// MaxRecords caps records taken from one page. Zero means no cap.
	MaxRecords int
}

// New creates an HTMLExtractor with no record cap.
func New() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract parses the page body and returns one record per catalog entry.
// A page that parses but yields no entries is an extraction failure: the
// site layout has drifted and retrying will not help.
func (e *HTMLExtractor) Extract(page scraper.Page, source scraper.Source) ([]scraper.PatternRecord, error) {
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return nil, scraper.Extraction("extract", errors.New("empty page body"))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, scraper.Extraction("extract", fmt.Errorf("parse html: %w", err))
	}

	entries := findEntries(doc)
	if entries == nil || entries.Length() == 0 {
		return nil, scraper.Extraction("extract", fmt.Errorf("no catalog entries matched on %s", page.URL))
	}

	base, _ := url.Parse(page.URL)

	records := make([]scraper.PatternRecord, 0, entries.Length())
	seen := make(map[string]bool)
	entries.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rec, ok := entryToRecord(s, base)
		if !ok || seen[rec.Name] {
			return true
		}
		seen[rec.Name] = true
		records = append(records, rec)
		return e.MaxRecords == 0 || len(records) < e.MaxRecords
	})

	if len(records) == 0 {
		return nil, scraper.Extraction("extract", fmt.Errorf("entries matched but none were usable on %s", page.URL))
	}
	return records, nil
}

// findEntries walks the selector ladder and returns the first selection
// that matches anything.
func findEntries(doc *goquery.Document) *goquery.Selection {
	for _, sel := range candidateSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			return found
		}
	}
	return nil
}

func entryToRecord(s *goquery.Selection, base *url.URL) (scraper.PatternRecord, bool) {
	name := strings.TrimSpace(s.Find("h1, h2, h3, h4, h5").First().Text())
	if name == "" {
		return scraper.PatternRecord{}, false
	}

	description := strings.TrimSpace(s.Find("p").First().Text())
	rec := scraper.PatternRecord{
		Name:        name,
		Type:        classifyType(name, containerClass(s), description),
		Description: description,
	}
	if href, exists := s.Find("a[href]").First().Attr("href"); exists {
		rec.Link = resolveLink(base, href)
	}
	return rec, true
}

func containerClass(s *goquery.Selection) string {
	class, _ := s.Attr("class")
	return class
}

// classifyType picks the record type from keywords in the entry name,
// its container class, or its description, defaulting to a plain pattern.
func classifyType(name, class, description string) scraper.PatternType {
	haystack := strings.ToLower(name + " " + class + " " + description)
	for _, tk := range typeKeywords {
		if strings.Contains(haystack, tk.keyword) {
			return tk.typ
		}
	}
	return scraper.PatternTypePattern
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	if base == nil {
		return href
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return href
	}
	return resolved.String()
}
