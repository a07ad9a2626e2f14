package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/metrics"
)

// Feed names used in logs, errors and archive keys
const (
	FeedVenues     = "venues"
	FeedEvents     = "events"
	FeedEventDates = "event_dates"
)

// maxFeedSize guards against a misbehaving upstream returning an unbounded body
const maxFeedSize = 64 << 20

// FeedURLs locates the three feeds fetched by an import
type FeedURLs struct {
	Venues     string
	Events     string
	EventDates string
}

// FeedDocuments holds the raw bodies of the three feeds
type FeedDocuments struct {
	Venues     []byte
	Events     []byte
	EventDates []byte
}

// FeedFetcher downloads the feeds concurrently with a per-request timeout
type FeedFetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFeedFetcher creates a fetcher with its own HTTP client
func NewFeedFetcher(timeout time.Duration) *FeedFetcher {
	return NewFeedFetcherWithClient(&http.Client{}, timeout)
}

// NewFeedFetcherWithClient creates a fetcher around an existing HTTP client
func NewFeedFetcherWithClient(client *http.Client, timeout time.Duration) *FeedFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &FeedFetcher{client: client, timeout: timeout}
}

// FetchAll retrieves all three feeds in parallel. The first failure cancels
// the remaining requests and is returned as an ImportError of kind FetchFailed.
// There are no retries.
func (f *FeedFetcher) FetchAll(ctx context.Context, urls FeedURLs) (*FeedDocuments, error) {
	docs := &FeedDocuments{}
	targets := []struct {
		name string
		url  string
		dst  *[]byte
	}{
		{FeedVenues, urls.Venues, &docs.Venues},
		{FeedEvents, urls.Events, &docs.Events},
		{FeedEventDates, urls.EventDates, &docs.EventDates},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			body, err := f.fetchOne(gctx, target.name, target.url)
			if err != nil {
				return &ImportError{Kind: FetchFailed, Op: target.name, Err: err}
			}
			*target.dst = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (f *FeedFetcher) fetchOne(ctx context.Context, name, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("feed URL is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.1")

	start := time.Now()
	logging.Ctx(ctx).Debug().Str("feed", name).Str("url", url).Msg("Fetching feed")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	metrics.ObserveFeedFetch(name, time.Since(start))
	logging.Ctx(ctx).Info().
		Str("feed", name).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched feed")

	return body, nil
}
