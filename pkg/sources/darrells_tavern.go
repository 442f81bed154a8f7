package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
)

// DarrellsTavernAdapter scrapes the venue's WordPress page, which lists
// shows as a flat run of date headings followed by band-name paragraphs
// inside a single .entry-content div, grounded on
// original_source/sms-scraper/src/apis/parsers/darrells_tavern.rs. A
// previously-parsed JSON payload is accepted as-is to support replays from
// the ingest log.
type DarrellsTavernAdapter struct {
	fetcher   *HTTPFetcher
	URL       string
	VenueName string
}

func NewDarrellsTavernAdapter(fetcher *HTTPFetcher) *DarrellsTavernAdapter {
	return &DarrellsTavernAdapter{
		fetcher:   fetcher,
		URL:       "https://www.darrellstavern.com/",
		VenueName: "Darrell's Tavern",
	}
}

func (a *DarrellsTavernAdapter) APIName() string { return "darrells_tavern" }

type darrellsEvent struct {
	Title    string `json:"title"`
	EventDay string `json:"event_day"`
}

func (a *DarrellsTavernAdapter) Fetch(ctx context.Context) ([]Document, error) {
	body, _, err := a.fetcher.Get(ctx, a.URL, nil)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var ev darrellsEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err == nil && ev.Title != "" {
			return []Document{{Raw: body, ContentType: "application/json"}}, nil
		}
	}

	return a.extractFromHTML(body)
}

func (a *DarrellsTavernAdapter) extractFromHTML(body []byte) ([]Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytesReader(body))
	if err != nil {
		return nil, fmt.Errorf("sources: darrells_tavern parse html: %w", err)
	}
	content := doc.Find(".entry-content").First()
	if content.Length() == 0 {
		return nil, fmt.Errorf("sources: darrells_tavern could not find .entry-content")
	}

	var docs []Document
	var currentDay canonical.EventDay
	haveDay := false

	content.Children().Each(func(_ int, child *goquery.Selection) {
		text := strings.TrimSpace(child.Text())
		if text == "" {
			return
		}
		if day, ok := tryParseDarrellsDate(text); ok {
			currentDay = day
			haveDay = true
			return
		}
		if !haveDay {
			return
		}
		raw, err := json.Marshal(darrellsEvent{Title: text, EventDay: currentDay.String()})
		if err != nil {
			return
		}
		docs = append(docs, Document{Raw: raw, ContentType: "application/json"})
	})
	return docs, nil
}

// tryParseDarrellsDate recognizes heading lines like "Friday, August 28" —
// the venue page omits the year, so the nearest future occurrence is used.
func tryParseDarrellsDate(text string) (canonical.EventDay, bool) {
	candidates := []string{"Monday, ", "Tuesday, ", "Wednesday, ", "Thursday, ", "Friday, ", "Saturday, ", "Sunday, "}
	matched := false
	for _, c := range candidates {
		if strings.HasPrefix(text, c) {
			matched = true
			break
		}
	}
	if !matched {
		return canonical.EventDay{}, false
	}
	parts := strings.SplitN(text, ", ", 2)
	if len(parts) != 2 {
		return canonical.EventDay{}, false
	}
	monthDay := strings.TrimSpace(parts[1])

	now := time.Now().UTC()
	parsed, err := time.Parse("January 2", monthDay)
	if err != nil {
		return canonical.EventDay{}, false
	}
	candidate := time.Date(now.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	if candidate.Before(now.Truncate(24 * time.Hour)) {
		candidate = time.Date(now.Year()+1, parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	}
	return canonical.NewEventDay(candidate), true
}

func (a *DarrellsTavernAdapter) ExtractSummary(doc Document) (Summary, error) {
	var ev darrellsEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return Summary{}, fmt.Errorf("sources: darrells_tavern decode summary: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.EventDay)
	if err != nil {
		return Summary{}, fmt.Errorf("sources: darrells_tavern event_day: %w", err)
	}
	return Summary{
		EventAPIID: ev.Title + "|" + ev.EventDay,
		EventName:  ev.Title,
		VenueName:  a.VenueName,
		EventDay:   day,
	}, nil
}

func (a *DarrellsTavernAdapter) ExtractArgs(doc Document) (EventArgs, error) {
	var ev darrellsEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return EventArgs{}, fmt.Errorf("sources: darrells_tavern decode args: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.EventDay)
	if err != nil {
		return EventArgs{}, fmt.Errorf("sources: darrells_tavern event_day: %w", err)
	}
	return EventArgs{
		Title:    ev.Title,
		EventDay: day,
	}, nil
}
