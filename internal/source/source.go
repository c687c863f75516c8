package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrSourceUnavailable indicates the browser-automation session is not ready.
// Transient: the scheduler retries on the next cycle.
var ErrSourceUnavailable = errors.New("message source unavailable")

// Source yields the messages currently visible in a named group chat.
//
// Fetch returns at most maxCount messages ordered oldest-to-newest. It has no
// side effects and marks nothing as consumed; deduplication is entirely the
// caller's responsibility. An empty slice with a nil error means no messages
// were visible.
type Source interface {
	Fetch(ctx context.Context, group string, maxCount int) ([]RawMessage, error)
}

// scrapedMessage is the wire shape returned by the scraper sidecar.
type scrapedMessage struct {
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

type fetchResponse struct {
	Messages []scrapedMessage `json:"messages"`
	Error    string           `json:"error,omitempty"`
}

// Scraper reads messages through the browser-automation sidecar's HTTP API.
type Scraper struct {
	client *resty.Client
}

// NewScraper creates a Scraper against the sidecar at baseURL.
func NewScraper(baseURL string, timeout time.Duration) *Scraper {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	return &Scraper{client: client}
}

// Fetch implements Source. Any transport or sidecar failure maps to
// ErrSourceUnavailable; the scraper session is flaky by nature.
func (s *Scraper) Fetch(ctx context.Context, group string, maxCount int) ([]RawMessage, error) {
	var out fetchResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("group", group).
		SetQueryParam("limit", fmt.Sprintf("%d", maxCount)).
		SetResult(&out).
		Get("/messages")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: scraper returned %s", ErrSourceUnavailable, res.Status())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, out.Error)
	}

	msgs := make([]RawMessage, 0, len(out.Messages))
	for _, sm := range out.Messages {
		ts := parseTimestamp(sm.Timestamp)
		msgs = append(msgs, NewRawMessage(group, sm.Sender, ts, sm.Text))
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if len(msgs) > maxCount {
		msgs = msgs[len(msgs)-maxCount:]
	}
	return msgs, nil
}

// timestampFormats are the shapes WhatsApp Web renders in the
// data-pre-plain-text attribute, most specific first.
var timestampFormats = []string{
	time.RFC3339,
	"15:04, 2.1.2006",
	"15:04, 02.01.2006",
	"2.1.2006",
	"02.01.2006",
	"02/01/2006",
	"02/01/06",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp tries the known scraper timestamp shapes. Unparseable input
// yields the zero time rather than an error: identity hashing still works and
// dedup does not depend on timestamp ordering.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
