package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
)

// SunsetTavernAdapter queries DICE.fm's partner API, filtered to Sunset
// Tavern's promoter account, grounded on
// original_source/sms-scraper/src/apis/sunset_tavern.rs.
type SunsetTavernAdapter struct {
	fetcher   *HTTPFetcher
	URL       string
	VenueName string
}

func NewSunsetTavernAdapter(fetcher *HTTPFetcher) *SunsetTavernAdapter {
	return &SunsetTavernAdapter{
		fetcher: fetcher,
		URL: "https://partners-endpoint.dice.fm/api/v2/events?page%5Bsize%5D=&types=linkout%2Cevent" +
			"&filter%5Bpromoters%5D%5B%5D=Bars+We+Like%2C+Inc+dba+Sunset+Tavern",
		VenueName: "Sunset Tavern",
	}
}

func (a *SunsetTavernAdapter) APIName() string { return "sunset_tavern" }

type diceEvent struct {
	ID         string `json:"id"`
	Attributes struct {
		Name        string `json:"name"`
		Date        string `json:"date"`
		URL         string `json:"url"`
		Description string `json:"description"`
		Images      []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"attributes"`
}

func (a *SunsetTavernAdapter) Fetch(ctx context.Context) ([]Document, error) {
	body, _, err := a.fetcher.Get(ctx, a.URL, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []diceEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("sources: sunset_tavern decode dice response: %w", err)
	}

	docs := make([]Document, 0, len(parsed.Data))
	for _, ev := range parsed.Data {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("sources: sunset_tavern marshal event: %w", err)
		}
		docs = append(docs, Document{Raw: raw, ContentType: "application/json"})
	}
	return docs, nil
}

func parseDiceDate(s string) (canonical.EventDay, *time.Time, error) {
	if day, err := canonical.ParseEventDay(s); err == nil {
		return day, nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return canonical.EventDay{}, nil, fmt.Errorf("sources: sunset_tavern parse date %q: %w", s, err)
	}
	day := canonical.NewEventDay(t)
	return day, &t, nil
}

func (a *SunsetTavernAdapter) ExtractSummary(doc Document) (Summary, error) {
	var ev diceEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return Summary{}, fmt.Errorf("sources: sunset_tavern decode summary: %w", err)
	}
	day, _, err := parseDiceDate(ev.Attributes.Date)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		EventAPIID: ev.ID,
		EventName:  ev.Attributes.Name,
		VenueName:  a.VenueName,
		EventDay:   day,
	}, nil
}

func (a *SunsetTavernAdapter) ExtractArgs(doc Document) (EventArgs, error) {
	var ev diceEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return EventArgs{}, fmt.Errorf("sources: sunset_tavern decode args: %w", err)
	}
	day, startTime, err := parseDiceDate(ev.Attributes.Date)
	if err != nil {
		return EventArgs{}, err
	}
	var imageURL string
	if len(ev.Attributes.Images) > 0 {
		imageURL = ev.Attributes.Images[0].URL
	}
	return EventArgs{
		Title:       ev.Attributes.Name,
		EventDay:    day,
		StartTime:   startTime,
		EventURL:    ev.Attributes.URL,
		Description: ev.Attributes.Description,
		ImageURL:    imageURL,
	}, nil
}
