package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/source"
)

const (
	// maxBodyBytes caps how much of a page body is read.
	maxBodyBytes = 12 * 1024
	maxTitleLen  = 200
	// minTextLen is the threshold under which the stripped text gets
	// enriched with page metadata and registry keywords.
	minTextLen = 200

	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// PageFetcher fetches government pages and legal databases: one GET,
// stripped and capped.
type PageFetcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewPageFetcher(timeout time.Duration, logger *slog.Logger) *PageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageFetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch returns at most one item for the source page. Failures are
// absorbed: the caller sees an error to log but never aborts the run.
func (f *PageFetcher) Fetch(ctx context.Context, src source.Source) ([]crawl.Item, error) {
	body, err := f.get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	title := extractTitle(body, maxTitleLen)
	if title == "" {
		title = src.Name
	}
	text := stripHTML(body)

	// Sparse pages (heavy JS, cookie walls) still carry useful metadata.
	if len(text) < minTextLen {
		parts := []string{text}
		for _, meta := range []string{
			metaContent(body, "og:description"),
			metaContent(body, "description"),
			metaContent(body, "og:title"),
		} {
			if meta != "" {
				parts = append(parts, meta)
			}
		}
		parts = append(parts, src.Name, src.Description)
		if len(src.SearchKeywords) > 0 {
			parts = append(parts, strings.Join(src.SearchKeywords, " "))
		}
		text = collapseWhitespace(strings.Join(parts, " "))
	}

	if text == "" {
		return nil, fmt.Errorf("empty body from %s", src.URL)
	}

	return []crawl.Item{{
		Source:    src,
		URL:       src.URL,
		Title:     title,
		Text:      text,
		FetchedAt: time.Now().UTC(),
	}}, nil
}

func (f *PageFetcher) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	return string(body), nil
}
