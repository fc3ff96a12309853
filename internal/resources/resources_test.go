package resources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
)

func TestCacheLoadsOnce(t *testing.T) {
	cache := NewCache()
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context, url string) (StructuredResource, error) {
		calls.Add(1)
		<-release
		return StructuredResource{Name: "data.csv", SourceURL: url}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := cache.GetOrLoad(context.Background(), "https://x.example/data.csv", load)
			require.NoError(t, err)
			require.Equal(t, "data.csv", r.Name)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	_, err := cache.GetOrLoad(context.Background(), "https://x.example/data.csv", load)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, cache.Len())
}

func TestCacheKeysByExactURL(t *testing.T) {
	cache := NewCache()
	var calls atomic.Int32
	load := func(ctx context.Context, url string) (StructuredResource, error) {
		calls.Add(1)
		return StructuredResource{SourceURL: url}, nil
	}
	_, _ = cache.GetOrLoad(context.Background(), "https://x.example/a.csv", load)
	_, _ = cache.GetOrLoad(context.Background(), "https://x.example/a.csv?v=2", load)
	require.Equal(t, int32(2), calls.Load())
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	cache := NewCache()
	var calls atomic.Int32
	load := func(ctx context.Context, url string) (StructuredResource, error) {
		if calls.Add(1) == 1 {
			return StructuredResource{}, errors.New("boom")
		}
		return StructuredResource{Name: "ok"}, nil
	}
	_, err := cache.GetOrLoad(context.Background(), "u", load)
	require.Error(t, err)
	r, err := cache.GetOrLoad(context.Background(), "u", load)
	require.NoError(t, err)
	require.Equal(t, "ok", r.Name)
}

func TestCachesAreIndependent(t *testing.T) {
	first, second := NewCache(), NewCache()
	load := func(name string) LoadFunc {
		return func(ctx context.Context, url string) (StructuredResource, error) {
			return StructuredResource{Name: name}, nil
		}
	}
	_, _ = first.GetOrLoad(context.Background(), "u", load("first"))
	r, err := second.GetOrLoad(context.Background(), "u", load("second"))
	require.NoError(t, err)
	require.Equal(t, "second", r.Name)
}

func TestFetchLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.csv":
			require.Equal(t, "llm-quiz-bot/1.0", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/csv")
			_, _ = w.Write([]byte("a,b\n1,2\n"))
		case "/big":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/stream":
			w.Header().Set("Content-Type", "text/plain")
			flusher := w.(http.Flusher)
			for i := 0; i < 8; i++ {
				_, _ = w.Write([]byte(strings.Repeat("y", 16)))
				flusher.Flush()
			}
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{MaxBytes: 32, Timeout: 50 * time.Millisecond})

	got, err := f.Fetch(context.Background(), srv.URL+"/ok.csv")
	require.NoError(t, err)
	require.Equal(t, "text/csv", got.ContentType)

	_, err = f.Fetch(context.Background(), srv.URL+"/big")
	require.True(t, faults.Is(err, faults.CodeFetchTooLarge))

	_, err = f.Fetch(context.Background(), srv.URL+"/stream")
	require.True(t, faults.Is(err, faults.CodeFetchTooLarge))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	require.True(t, faults.Is(err, faults.CodeFetchFail))

	_, err = f.Fetch(context.Background(), srv.URL+"/slow")
	require.True(t, faults.Is(err, faults.CodeFetchFail))
}

func TestLoadAllSkipsFailuresAndKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.csv":
			w.Header().Set("Content-Type", "text/csv")
			_, _ = w.Write([]byte("x\n1\n"))
		case "/b.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"y": 2}]`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	loader, err := NewLoader(NewFetcher(FetcherOptions{}), LoaderOptions{Parallelism: 2})
	require.NoError(t, err)
	cache := NewCache()
	out, err := loader.LoadAll(context.Background(), cache, []string{srv.URL + "/b.json", srv.URL + "/broken", srv.URL + "/a.csv"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "b.json", out[0].Name)
	require.Equal(t, "a.csv", out[1].Name)
	require.Equal(t, 2, cache.Len())
}

func TestLoaderAllowList(t *testing.T) {
	loader, err := NewLoader(NewFetcher(FetcherOptions{}), LoaderOptions{Allow: []string{"https://data.example.com/**"}})
	require.NoError(t, err)
	require.True(t, loader.Allowed("https://data.example.com/files/a.csv"))
	require.False(t, loader.Allowed("https://evil.example.com/a.csv"))

	_, err = loader.Load(context.Background(), "https://evil.example.com/a.csv")
	require.True(t, faults.Is(err, faults.CodeFetchFail))

	_, err = NewLoader(nil, LoaderOptions{Allow: []string{"[unclosed"}})
	require.Error(t, err)
}
