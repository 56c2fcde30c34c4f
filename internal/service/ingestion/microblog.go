package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
)

// MicroblogFetcher queries the rate-limited recent-search API. For a
// microblog source the registry URL field holds the search query.
// Queries run strictly sequentially: the limiter paces them and the
// coordinator never fans microblog sources out.
type MicroblogFetcher struct {
	cfg     config.MicroblogConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewMicroblogFetcher(cfg config.MicroblogConfig, logger *slog.Logger) *MicroblogFetcher {
	delay := cfg.QueryDelay
	if delay <= 0 {
		delay = 1500 * time.Millisecond
	}
	return &MicroblogFetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		logger:  logger,
	}
}

// Enabled reports whether a bearer token is configured; without one
// microblog sources are silently skipped.
func (f *MicroblogFetcher) Enabled() bool { return f.cfg.BearerToken != "" }

type searchResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		CreatedAt     string `json:"created_at"`
		AuthorID      string `json:"author_id"`
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

// Fetch runs one recent-search query and returns one item per post.
// seen deduplicates post IDs across the queries of a run; the caller
// owns the map.
func (f *MicroblogFetcher) Fetch(ctx context.Context, src source.Source, seen map[string]bool) ([]crawl.Item, error) {
	if !f.Enabled() {
		return nil, nil
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := f.search(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	users := map[string]string{}
	for _, u := range resp.Includes.Users {
		users[u.ID] = fmt.Sprintf("%s (@%s)", u.Name, u.Username)
	}

	now := time.Now().UTC()
	var items []crawl.Item
	for _, tweet := range resp.Data {
		if seen[tweet.ID] {
			continue
		}
		seen[tweet.ID] = true

		author := users[tweet.AuthorID]
		if author == "" {
			author = "unknown author"
		}
		postURL := "https://x.com/i/status/" + tweet.ID
		text := fmt.Sprintf("Post by %s\n%s\nPosted: %s\nEngagement: %d reposts, %d replies, %d likes\n\n%s",
			author, postURL, tweet.CreatedAt,
			tweet.PublicMetrics.RetweetCount, tweet.PublicMetrics.ReplyCount, tweet.PublicMetrics.LikeCount,
			tweet.Text)

		title := tweet.Text
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		items = append(items, crawl.Item{
			Source:    src,
			URL:       postURL,
			Title:     collapseWhitespace(title),
			Text:      text,
			FetchedAt: now,
		})
	}
	return items, nil
}

// search performs the HTTP call with retry on 408, 429 and 5xx,
// honoring Retry-After and x-rate-limit-reset when the server provides
// them.
func (f *MicroblogFetcher) search(ctx context.Context, query string) ([]byte, error) {
	endpoint := f.cfg.BaseURL + "/tweets/search/recent?" + url.Values{
		"query":        {query},
		"max_results":  {"100"},
		"tweet.fields": {"created_at,author_id,public_metrics"},
		"expansions":   {"author_id"},
	}.Encode()

	maxAttempts := f.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+f.cfg.BearerToken)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return body, nil
			case !retryableStatus(resp.StatusCode):
				return nil, fmt.Errorf("microblog search: status %d", resp.StatusCode)
			default:
				lastErr = fmt.Errorf("microblog search: status %d", resp.StatusCode)
				if attempt < maxAttempts-1 {
					if err := f.sleep(ctx, f.backoff(attempt, resp.Header)); err != nil {
						return nil, err
					}
					continue
				}
			}
		}
		if attempt < maxAttempts-1 {
			if err := f.sleep(ctx, f.backoff(attempt, nil)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("microblog search exhausted retries: %w", lastErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// backoff is exponential from the configured base, capped, but a
// server-provided reset hint wins when it is longer.
func (f *MicroblogFetcher) backoff(attempt int, headers http.Header) time.Duration {
	base := f.cfg.BaseBackoff
	if base <= 0 {
		base = 1500 * time.Millisecond
	}
	maxDelay := f.cfg.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	d := base << attempt
	if d > maxDelay {
		d = maxDelay
	}

	if headers != nil {
		if ra := headers.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				if hinted := time.Duration(secs) * time.Second; hinted > d && hinted <= maxDelay {
					d = hinted
				}
			}
		}
		if reset := headers.Get("x-rate-limit-reset"); reset != "" {
			if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
				if until := time.Until(time.Unix(epoch, 0)); until > d && until <= maxDelay {
					d = until
				}
			}
		}
	}
	return d
}

func (f *MicroblogFetcher) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
