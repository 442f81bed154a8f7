package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
)

// SeaMonsterAdapter reads Sea Monster Lounge's Wix-hosted events widget,
// which embeds its event list as a JSON blob inside a
// <script type="application/json" id="wix-warmup-data"> tag rather than
// exposing a public API, grounded on
// original_source/sms-scraper/src/apis/parsers/sea_monster.rs.
type SeaMonsterAdapter struct {
	fetcher   *HTTPFetcher
	URL       string
	VenueName string
}

func NewSeaMonsterAdapter(fetcher *HTTPFetcher) *SeaMonsterAdapter {
	return &SeaMonsterAdapter{
		fetcher:   fetcher,
		URL:       "https://www.seamonsterlounge.com/events",
		VenueName: "Sea Monster Lounge",
	}
}

func (a *SeaMonsterAdapter) APIName() string { return "sea_monster" }

type seaMonsterEvent struct {
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	Scheduling struct {
		StartDateFormatted string `json:"startDateFormatted"`
	} `json:"scheduling"`
	Description string `json:"description"`
	MainImage   struct {
		URL string `json:"url"`
	} `json:"mainImage"`
}

func (a *SeaMonsterAdapter) Fetch(ctx context.Context) ([]Document, error) {
	body, _, err := a.fetcher.Get(ctx, a.URL, nil)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytesReader(body))
	if err != nil {
		return nil, fmt.Errorf("sources: sea_monster parse html: %w", err)
	}
	script := doc.Find(`script[type="application/json"]#wix-warmup-data`).First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("sources: sea_monster could not find wix-warmup-data script tag")
	}

	var warmup struct {
		AppsWarmupData map[string]map[string]struct {
			Events struct {
				Events []json.RawMessage `json:"events"`
			} `json:"events"`
		} `json:"appsWarmupData"`
	}
	if err := json.Unmarshal([]byte(script.Text()), &warmup); err != nil {
		return nil, fmt.Errorf("sources: sea_monster decode warmup data: %w", err)
	}

	var docs []Document
	for _, app := range warmup.AppsWarmupData {
		for widgetKey, widget := range app {
			if len(widgetKey) < 6 || widgetKey[:6] != "widget" {
				continue
			}
			for _, raw := range widget.Events.Events {
				docs = append(docs, Document{Raw: raw, ContentType: "application/json"})
			}
		}
	}
	return docs, nil
}

func (a *SeaMonsterAdapter) ExtractSummary(doc Document) (Summary, error) {
	var ev seaMonsterEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return Summary{}, fmt.Errorf("sources: sea_monster decode summary: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.Scheduling.StartDateFormatted)
	if err != nil {
		day, err = parseLongFormDate(ev.Scheduling.StartDateFormatted)
		if err != nil {
			return Summary{}, fmt.Errorf("sources: sea_monster event_day: %w", err)
		}
	}
	return Summary{
		EventAPIID: ev.Slug,
		EventName:  ev.Title,
		VenueName:  a.VenueName,
		EventDay:   day,
	}, nil
}

func (a *SeaMonsterAdapter) ExtractArgs(doc Document) (EventArgs, error) {
	var ev seaMonsterEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return EventArgs{}, fmt.Errorf("sources: sea_monster decode args: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.Scheduling.StartDateFormatted)
	if err != nil {
		day, err = parseLongFormDate(ev.Scheduling.StartDateFormatted)
		if err != nil {
			return EventArgs{}, fmt.Errorf("sources: sea_monster event_day: %w", err)
		}
	}
	return EventArgs{
		Title:       ev.Title,
		EventDay:    day,
		Description: ev.Description,
		ImageURL:    ev.MainImage.URL,
	}, nil
}
