package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobharvest/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sleepRecorder replaces real sleeps with a log of requested durations.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type testEnv struct {
	srv       *httptest.Server
	fetcher   *Fetcher
	sleeps    *sleepRecorder
	pageHits  atomic.Int32
	readerHit atomic.Int32
}

// newTestEnv serves reader responses under /reader/ and pages elsewhere.
func newTestEnv(t *testing.T, reader func(w http.ResponseWriter), page func(w http.ResponseWriter, path string)) *testEnv {
	t.Helper()
	env := &testEnv{sleeps: &sleepRecorder{}}
	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/reader/") {
			env.readerHit.Add(1)
			reader(w)
			return
		}
		env.pageHits.Add(1)
		page(w, r.URL.Path)
	}))
	t.Cleanup(env.srv.Close)

	cfg := config.ContentConfig{
		ReaderURL:      env.srv.URL + "/reader/",
		ReaderMinDelay: time.Second,
		ReaderMaxDelay: 3 * time.Second,
		BatchSize:      5,
		BatchPause:     10 * time.Second,
		UserAgent:      "jobharvest-test",
	}
	env.fetcher = NewFetcher(cfg, env.srv.Client(), discardLogger())
	env.fetcher.sleep = env.sleeps.sleep
	return env
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func html(body string) func(w http.ResponseWriter, _ string) {
	return func(w http.ResponseWriter, _ string) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}
}

var longDescription = strings.Repeat("We seek a tenure-track assistant professor in machine learning. ", 6)

func TestFetch_ReaderWins(t *testing.T) {
	env := newTestEnv(t,
		func(w http.ResponseWriter) { fmt.Fprint(w, "  clean text from reader  ") },
		html("<html><body>page</body></html>"),
	)

	got := env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/1")

	assert.Equal(t, "clean text from reader", got)
	assert.Equal(t, int32(0), env.pageHits.Load(), "page should not be fetched when reader succeeds")
}

func TestFetch_FallsBackToStructured(t *testing.T) {
	page := `<html><body>
		<nav>Home | Jobs | Login</nav>
		<header>University Careers</header>
		<div class="job-description"><p>` + longDescription + `</p><script>track()</script></div>
		<footer>Copyright</footer>
	</body></html>`
	env := newTestEnv(t, status(http.StatusInternalServerError), html(page))

	got := env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/2")

	assert.Contains(t, got, "tenure-track assistant professor")
	assert.NotContains(t, got, "Home | Jobs")
	assert.NotContains(t, got, "track()")
	assert.NotContains(t, got, "Copyright")
}

func TestFetch_SelectorOrderPrefersMain(t *testing.T) {
	page := `<html><body>
		<article>` + strings.Repeat("article text ", 30) + `</article>
		<main>` + strings.Repeat("main text ", 30) + `</main>
	</body></html>`
	env := newTestEnv(t, status(http.StatusBadGateway), html(page))

	got := env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/order")

	assert.True(t, strings.HasPrefix(got, "main text"), "got %q", got)
}

func TestFetch_ShortPageFallsBackToBasic(t *testing.T) {
	page := `<html><body><nav>menu</nav><p>Short posting.</p><style>p{}</style></body></html>`
	env := newTestEnv(t, status(http.StatusTooManyRequests), html(page))

	got := env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/3")

	// Basic keeps nav text but drops styles.
	assert.Equal(t, "menu\nShort posting.", got)
	assert.Equal(t, int32(1), env.pageHits.Load(), "page must be fetched once for both HTML strategies")
}

func TestFetch_TotalFailureReturnsEmpty(t *testing.T) {
	env := newTestEnv(t, status(http.StatusNotFound), func(w http.ResponseWriter, _ string) {
		w.WriteHeader(http.StatusNotFound)
	})

	assert.Equal(t, "", env.fetcher.Fetch(context.Background(), env.srv.URL+"/gone"))
	assert.Equal(t, "", env.fetcher.Fetch(context.Background(), ""))
}

func TestFetch_TruncatesRuneSafe(t *testing.T) {
	env := newTestEnv(t,
		func(w http.ResponseWriter) { fmt.Fprint(w, strings.Repeat("é", 10000)) },
		html(""),
	)

	got := env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/long")

	assert.Equal(t, MaxLength, runeLen(got))
	assert.True(t, strings.HasSuffix(got, "é"))
}

func TestFetch_BasicCapIsSmaller(t *testing.T) {
	env := newTestEnv(t, status(http.StatusInternalServerError), func(w http.ResponseWriter, _ string) {
		// Structured strips the nav and finds nothing; basic keeps it.
		fmt.Fprint(w, "<html><body><nav>"+strings.Repeat("x", 9000)+"</nav></body></html>")
	})

	got := env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/basic")

	assert.Equal(t, FallbackMaxLength, runeLen(got))
}

func TestReaderStrategy_RandomisedDelay(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter) { fmt.Fprint(w, "ok") }, html(""))
	reader, ok := env.fetcher.strategies[0].(*ReaderStrategy)
	require.True(t, ok)
	reader.Rand = func() float64 { return 0.5 }

	env.fetcher.Fetch(context.Background(), env.srv.URL+"/job/delay")

	require.Len(t, env.sleeps.delays, 1)
	assert.Equal(t, 2*time.Second, env.sleeps.delays[0])
}

func TestFetchBatch_ChunksWithPauses(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter) { fmt.Fprint(w, "text") }, html(""))
	reader := env.fetcher.strategies[0].(*ReaderStrategy)
	reader.MinDelay, reader.MaxDelay = 0, 0

	var urls []string
	for i := 0; i < 12; i++ {
		urls = append(urls, fmt.Sprintf("%s/job/%d", env.srv.URL, i))
	}

	got := env.fetcher.FetchBatch(context.Background(), urls)

	assert.Len(t, got, 12)
	var pauses int
	for _, d := range env.sleeps.delays {
		if d == 10*time.Second {
			pauses++
		}
	}
	assert.Equal(t, 2, pauses, "12 urls in chunks of 5 pause twice, never after the last chunk")
}

func TestFetchBatch_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter) { fmt.Fprint(w, "text") }, html(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := env.fetcher.FetchBatch(ctx, []string{env.srv.URL + "/a", env.srv.URL + "/b"})

	assert.Empty(t, got)
	assert.Equal(t, int32(0), env.readerHit.Load())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "ab", truncate("ab", 3))
	assert.Equal(t, "日本", truncate("日本語", 2))
	assert.Equal(t, "", truncate("x", 0))
}
