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

// KEXPAdapter pulls the KEXP in-studio performance calendar. The endpoint
// has historically returned either pre-structured JSON or the public HTML
// events page; both shapes are handled, grounded on
// original_source/sms-scraper/src/apis/parsers/kexp.rs.
type KEXPAdapter struct {
	fetcher   *HTTPFetcher
	URL       string
	VenueName string
}

func NewKEXPAdapter(fetcher *HTTPFetcher) *KEXPAdapter {
	return &KEXPAdapter{
		fetcher:   fetcher,
		URL:       "https://www.kexp.org/events/",
		VenueName: "KEXP",
	}
}

func (a *KEXPAdapter) APIName() string { return "kexp" }

type kexpEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	EventDay    string `json:"event_day"`
	StartTime   string `json:"start_time"`
	EventURL    string `json:"event_url"`
	Venue       string `json:"venue"`
	Description string `json:"description"`
	ImageURL    string `json:"event_image_url"`
}

func (a *KEXPAdapter) Fetch(ctx context.Context) ([]Document, error) {
	body, contentType, err := a.fetcher.Get(ctx, a.URL, nil)
	if err != nil {
		return nil, err
	}

	var probe json.RawMessage
	if json.Unmarshal(body, &probe) == nil {
		return a.fetchFromJSON(body)
	}

	events, err := a.extractFromHTML(body)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(events))
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("sources: kexp marshal event: %w", err)
		}
		docs = append(docs, Document{Raw: raw, ContentType: contentType})
	}
	return docs, nil
}

func (a *KEXPAdapter) fetchFromJSON(body []byte) ([]Document, error) {
	var one kexpEvent
	if err := json.Unmarshal(body, &one); err == nil && one.Title != "" {
		return []Document{{Raw: body, ContentType: "application/json"}}, nil
	}
	var many []kexpEvent
	if err := json.Unmarshal(body, &many); err != nil {
		return nil, fmt.Errorf("sources: kexp decode json response: %w", err)
	}
	docs := make([]Document, 0, len(many))
	for _, ev := range many {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("sources: kexp marshal event: %w", err)
		}
		docs = append(docs, Document{Raw: raw, ContentType: "application/json"})
	}
	return docs, nil
}

func (a *KEXPAdapter) extractFromHTML(body []byte) ([]kexpEvent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("sources: kexp parse html: %w", err)
	}

	var events []kexpEvent
	doc.Find("article.aldryn-events-article").Each(func(_ int, sel *goquery.Selection) {
		titleEl := sel.Find("h3 a").First()
		title := strings.TrimSpace(titleEl.Text())
		if title == "" {
			return
		}
		href, _ := titleEl.Attr("href")
		eventURL := absoluteKEXPURL(href)

		dateText := strings.TrimSpace(sel.Find(".EventItem-DateTime h3").First().Text())
		timeText := strings.TrimSpace(sel.Find(".EventItem-DateTime h5").First().Text())
		venueText := strings.TrimSpace(sel.Find(".u-h3.u-mb1.u-lightWeight a").First().Text())
		if venueText == "" {
			venueText = a.VenueName
		}
		description := strings.TrimSpace(sel.Find(".EventItem-description").First().Text())
		imgSrc, _ := sel.Find(".SquareImage-image").First().Attr("src")

		eventDay, err := parseKEXPDate(dateText)
		if err != nil {
			return
		}

		id := strings.TrimSuffix(lastPathSegment(eventURL), "/")
		if id == "" {
			id = title
		}

		events = append(events, kexpEvent{
			ID:          id,
			Title:       title,
			EventDay:    eventDay.String(),
			StartTime:   timeText,
			EventURL:    eventURL,
			Venue:       venueText,
			Description: description,
			ImageURL:    absoluteKEXPURL(imgSrc),
		})
	})
	return events, nil
}

func absoluteKEXPURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "/") {
		return "https://www.kexp.org" + href
	}
	return href
}

func lastPathSegment(u string) string {
	u = strings.TrimSuffix(u, "/")
	idx := strings.LastIndex(u, "/")
	if idx < 0 {
		return u
	}
	return u[idx+1:]
}

// parseKEXPDate handles "Aug 31st"-style dates, rolling to next year when
// the bare month/day has already passed, matching the original parser's
// ordinal-suffix stripping.
func parseKEXPDate(text string) (canonical.EventDay, error) {
	cleaned := text
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		cleaned = strings.ReplaceAll(cleaned, suffix, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return canonical.EventDay{}, fmt.Errorf("sources: kexp empty date text")
	}

	now := time.Now().UTC()
	year := now.Year()
	parsed, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %d", cleaned, year))
	if err != nil {
		return canonical.EventDay{}, fmt.Errorf("sources: kexp parse date %q: %w", text, err)
	}
	if parsed.Before(now.Truncate(24 * time.Hour)) {
		parsed, err = time.Parse("Jan 2 2006", fmt.Sprintf("%s %d", cleaned, year+1))
		if err != nil {
			return canonical.EventDay{}, fmt.Errorf("sources: kexp parse date %q: %w", text, err)
		}
	}
	return canonical.NewEventDay(parsed), nil
}

func (a *KEXPAdapter) ExtractSummary(doc Document) (Summary, error) {
	var ev kexpEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return Summary{}, fmt.Errorf("sources: kexp decode summary: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.EventDay)
	if err != nil {
		return Summary{}, fmt.Errorf("sources: kexp event_day: %w", err)
	}
	return Summary{
		EventAPIID: ev.ID,
		EventName:  ev.Title,
		VenueName:  a.VenueName,
		EventDay:   day,
	}, nil
}

func (a *KEXPAdapter) ExtractArgs(doc Document) (EventArgs, error) {
	var ev kexpEvent
	if err := json.Unmarshal(doc.Raw, &ev); err != nil {
		return EventArgs{}, fmt.Errorf("sources: kexp decode args: %w", err)
	}
	day, err := canonical.ParseEventDay(ev.EventDay)
	if err != nil {
		return EventArgs{}, fmt.Errorf("sources: kexp event_day: %w", err)
	}
	return EventArgs{
		Title:       ev.Title,
		EventDay:    day,
		StartTime:   parseKEXPStartTime(ev.StartTime, day),
		EventURL:    ev.EventURL,
		Description: ev.Description,
		ImageURL:    ev.ImageURL,
	}, nil
}

func parseKEXPStartTime(text string, day canonical.EventDay) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.EqualFold(text, "noon") {
		text = "12:00 PM"
	}
	layouts := []string{"15:04", "3:04 PM"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			combined := time.Date(day.Year, day.Month, day.Day, t.Hour(), t.Minute(), 0, 0, time.UTC)
			return &combined
		}
	}
	return nil
}
