package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
	"github.com/regradar/regradar-backend/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func pageSource(url string) source.Source {
	return source.Source{
		Name:                "FTC Press Releases",
		URL:                 url,
		Type:                source.TypeGovernmentPage,
		AuthorityType:       source.AuthorityNational,
		Jurisdiction:        "United States",
		JurisdictionCountry: "United States",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"COPPA", "children's privacy"},
		Description:         "FTC announcements",
	}
}

func TestPageFetcherStripsAndCaps(t *testing.T) {
	long := strings.Repeat("Regulatory update on children's online privacy. ", 400)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		fmt.Fprintf(w, `<html><head><title>FTC News &amp; Events</title>
			<script>analytics()</script><style>.x{}</style></head>
			<body><nav>menu</nav><header>banner</header>
			<p>%s</p><footer>footer text</footer></body></html>`, long)
	}))
	defer srv.Close()

	f := NewPageFetcher(5*time.Second, testLogger())
	items, err := f.Fetch(context.Background(), pageSource(srv.URL))
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "FTC News & Events", item.Title)
	assert.NotContains(t, item.Text, "analytics")
	assert.NotContains(t, item.Text, "menu")
	assert.NotContains(t, item.Text, "footer text")
	assert.NotContains(t, item.Text, "<")
	// The response body is read through a 12 kB cap.
	assert.LessOrEqual(t, len(item.Text), maxBodyBytes)
}

func TestPageFetcherEnrichesSparsePages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Portal</title>
			<meta property="og:description" content="Texas legislative updates on the SCOPE Act">
			</head><body><div id="app"></div></body></html>`)
	}))
	defer srv.Close()

	f := NewPageFetcher(5*time.Second, testLogger())
	items, err := f.Fetch(context.Background(), pageSource(srv.URL))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Text, "SCOPE Act")
	assert.Contains(t, items[0].Text, "COPPA", "registry keywords join the enriched text")
}

func TestPageFetcherAbsorbsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewPageFetcher(5*time.Second, testLogger())
	items, err := f.Fetch(context.Background(), pageSource(srv.URL))
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestRSSFetcherExtractsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss><channel>
			<item><title>KOSA advances in committee</title>
				<link>https://example.org/kosa</link>
				<description><![CDATA[The <b>Kids Online Safety Act</b> cleared markup.]]></description></item>
			<item><title>Ofcom publishes children's codes</title>
				<link href="https://example.org/ofcom"/>
				<summary>Age assurance guidance finalized.</summary></item>
			</channel></rss>`)
	}))
	defer srv.Close()

	src := pageSource(srv.URL)
	src.Type = source.TypeRSSFeed

	f := NewRSSFetcher(5*time.Second, testLogger())
	items, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "KOSA advances in committee", items[0].Title)
	assert.Equal(t, "https://example.org/kosa", items[0].URL)
	assert.Contains(t, items[0].Text, "Kids Online Safety Act")
	assert.NotContains(t, items[0].Text, "<b>")

	assert.Equal(t, "https://example.org/ofcom", items[1].URL, "href wins over link text")
	assert.Equal(t, src.Name, items[1].Source.Name, "items reuse the parent source")
}

func TestRSSFetcherCapsItemCount(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<rss><channel>`)
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, `<item><title>Item %d</title><link>https://example.org/%d</link></item>`, i, i)
	}
	sb.WriteString(`</channel></rss>`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sb.String())
	}))
	defer srv.Close()

	src := pageSource(srv.URL)
	src.Type = source.TypeRSSFeed

	f := NewRSSFetcher(5*time.Second, testLogger())
	items, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, items, maxFeedItems)
}

func microblogConfig(baseURL string) config.MicroblogConfig {
	return config.MicroblogConfig{
		BearerToken: "token",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
		QueryDelay:  time.Millisecond,
	}
}

func microblogSource() source.Source {
	return source.Source{
		Name:                "Child Safety Policy Watch",
		URL:                 "child online safety act -is:retweet",
		Type:                source.TypeMicroblogSearch,
		JurisdictionCountry: "United States",
		ReliabilityTier:     2,
	}
}

func TestMicroblogFetcherBuildsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("max_results"))
		assert.Contains(t, q.Get("tweet.fields"), "public_metrics")
		assert.Equal(t, "author_id", q.Get("expansions"))
		fmt.Fprint(w, `{
			"data": [
				{"id":"1","text":"Senate schedules KOSA vote","created_at":"2026-08-20T10:00:00Z",
				 "author_id":"u1","public_metrics":{"retweet_count":12,"reply_count":3,"like_count":80}},
				{"id":"1","text":"dup","author_id":"u1"},
				{"id":"2","text":"New age verification bill in Utah","author_id":"u2"}
			],
			"includes":{"users":[{"id":"u1","name":"Policy Desk","username":"policydesk"}]}
		}`)
	}))
	defer srv.Close()

	f := NewMicroblogFetcher(microblogConfig(srv.URL), testLogger())
	seen := map[string]bool{}
	items, err := f.Fetch(context.Background(), microblogSource(), seen)
	require.NoError(t, err)
	require.Len(t, items, 2, "duplicate post ids collapse")

	assert.Equal(t, "https://x.com/i/status/1", items[0].URL)
	assert.Contains(t, items[0].Text, "Policy Desk (@policydesk)")
	assert.Contains(t, items[0].Text, "12 reposts")
	assert.Contains(t, items[1].Text, "unknown author")
}

func TestMicroblogFetcherRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"9","text":"retry worked","author_id":"u1"}]}`)
	}))
	defer srv.Close()

	f := NewMicroblogFetcher(microblogConfig(srv.URL), testLogger())
	items, err := f.Fetch(context.Background(), microblogSource(), map[string]bool{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMicroblogFetcherExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewMicroblogFetcher(microblogConfig(srv.URL), testLogger())
	_, err := f.Fetch(context.Background(), microblogSource(), map[string]bool{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestMicroblogFetcherDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewMicroblogFetcher(microblogConfig(srv.URL), testLogger())
	_, err := f.Fetch(context.Background(), microblogSource(), map[string]bool{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCrawlAllSkipsMicroblogWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Page</title><body>`+strings.Repeat("regulation text ", 30)+`</body></html>`)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Pipeline.FetchConcurrency = 2
	cfg.Pipeline.FetchTimeout = 5 * time.Second

	svc := NewService(cfg, testLogger(), metrics.NewRegistry())
	items := svc.CrawlAll(context.Background(), []source.Source{
		pageSource(srv.URL),
		microblogSource(),
	})
	require.Len(t, items, 1)
	assert.Equal(t, source.TypeGovernmentPage, items[0].Source.Type)
}

func TestDedupeItems(t *testing.T) {
	src := pageSource("https://example.org")
	items := []crawl.Item{
		{Source: src, URL: "https://example.org/a", Text: "one"},
		{Source: src, URL: "https://example.org/a", Text: "two"},
		{Source: src, URL: "", Text: "Same   Body"},
		{Source: src, URL: "", Text: "same body"},
		{Source: src, URL: "", Text: "different body"},
	}
	out := dedupeItems(items)
	assert.Len(t, out, 3)
}
