package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
)

// BlueMoonAdapter fetches the Blue Moon Tavern's show calendar from its
// booking-site JSON feed. No original_source file documents this venue's
// specific payload shape, so the adapter follows the generic
// {id,title,event_day,...} envelope the other plain-JSON sources (KEXP's
// JSON branch, Darrell's Tavern's JSON branch) already converge on.
type BlueMoonAdapter struct {
	fetcher   *HTTPFetcher
	URL       string
	VenueName string
}

func NewBlueMoonAdapter(fetcher *HTTPFetcher) *BlueMoonAdapter {
	return &BlueMoonAdapter{
		fetcher:   fetcher,
		URL:       "https://www.bluemoontavern.com/api/shows",
		VenueName: "Blue Moon Tavern",
	}
}

func (a *BlueMoonAdapter) APIName() string { return "blue_moon" }

type blueMoonEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	EventDay    string `json:"event_day"`
	EventURL    string `json:"event_url"`
	Description string `json:"description"`
}

func (a *BlueMoonAdapter) Fetch(ctx context.Context) ([]Document, error) {
	body, _, err := a.fetcher.Get(ctx, a.URL, nil)
	if err != nil {
		return nil, err
	}
	var events []blueMoonEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("sources: blue_moon decode response: %w", err)
	}
	docs := make([]Document, 0, len(events))
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("sources: blue_moon marshal event: %w", err)
		}
		docs = append(docs, Document{Raw: raw, ContentType: "application/json"})
	}
	return docs, nil
}

func (a *BlueMoonAdapter) ExtractSummary(doc Document) (Summary, error) {
	var ev blueMoonEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return Summary{}, fmt.Errorf("sources: blue_moon decode summary: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.EventDay)
	if err != nil {
		return Summary{}, fmt.Errorf("sources: blue_moon event_day: %w", err)
	}
	return Summary{
		EventAPIID: ev.ID,
		EventName:  ev.Title,
		VenueName:  a.VenueName,
		EventDay:   day,
	}, nil
}

func (a *BlueMoonAdapter) ExtractArgs(doc Document) (EventArgs, error) {
	var ev blueMoonEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return EventArgs{}, fmt.Errorf("sources: blue_moon decode args: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.EventDay)
	if err != nil {
		return EventArgs{}, fmt.Errorf("sources: blue_moon event_day: %w", err)
	}
	return EventArgs{
		Title:       ev.Title,
		EventDay:    day,
		EventURL:    ev.EventURL,
		Description: ev.Description,
	}, nil
}
