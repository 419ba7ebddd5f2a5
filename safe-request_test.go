package offlineagent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type errorFetcher struct {
	err   error
	calls int
}

func (f *errorFetcher) Fetch(*http.Request, FetchOptions) (*http.Response, error) {
	f.calls++
	return nil, f.err
}

func TestSafeRequestCacheFirstSkipsNetwork(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	ta.store(t, "/about", "cached")

	result := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/about", CheckCacheFirst: true})

	if result.Source != SourceCache {
		t.Fatalf("Source is %s", result.Source)
	}
	if ta.origin.total() != 0 {
		t.Fatal("Network was attempted")
	}
}

func TestSafeRequestOfflineUsesCacheLast(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	ta.store(t, "/about", "cached")
	ta.setStatus(false, false)

	result := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/about", CheckCacheLast: true})

	if result.Source != SourceCache || readBody(t, result.Response) != "cached" {
		t.Fatalf("Result is %+v", result)
	}
	if !errors.Is(result.Failure, ErrOffline) {
		t.Fatalf("Failure is %v", result.Failure)
	}
	if ta.origin.total() != 0 {
		t.Fatal("Network was attempted while offline")
	}
}

func TestSafeRequestNothing(t *testing.T) {
	ta := newTestAgent(t, failingHandler)

	result := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/about", CheckCacheLast: true})

	if result.Response != nil || result.Source != SourceNone {
		t.Fatalf("Result is %+v", result)
	}
	if !errors.Is(result.Failure, ErrUnusableResponse) {
		t.Fatalf("Failure is %v", result.Failure)
	}
}

func TestSafeRequestSwallowsTransportErrors(t *testing.T) {
	transportErr := errors.New("connection refused")
	fetcher := &errorFetcher{err: transportErr}
	ta := newTestAgent(t, siteHandler, func(c *Config) {
		c.Fetcher = fetcher
	})

	result := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/about"})

	if result.Response != nil {
		t.Fatal("Got a response from a failing fetcher")
	}
	if !errors.Is(result.Failure, transportErr) {
		t.Fatalf("Failure is %v", result.Failure)
	}
	if fetcher.calls != 1 {
		t.Fatalf("Fetcher called %d times", fetcher.calls)
	}
}

func TestSafeRequestCachesSuccess(t *testing.T) {
	ta := newTestAgent(t, siteHandler)

	result := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/about", CacheOnSuccess: true})

	if result.Source != SourceNetwork {
		t.Fatalf("Source is %s", result.Source)
	}
	if body := readBody(t, result.Response); body != "page /about" {
		t.Fatalf("Body is %q", body)
	}
	if !ta.cached("/about") {
		t.Fatal("Response was not cached")
	}
}

func TestSafeRequestOnlyCachesGet(t *testing.T) {
	ta := newTestAgent(t, siteHandler)

	ta.safeRequest(context.Background(), nil, SafeRequest{
		Key:            "/add-post",
		Fetch:          FetchOptions{Method: http.MethodPost},
		CacheOnSuccess: true,
	})

	if ta.cached("/add-post") {
		t.Fatal("POST response was cached")
	}
}

func TestSafeRequestRedirects(t *testing.T) {
	ta := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.Write([]byte("new"))
	})

	manual := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/old", Fetch: FetchOptions{ManualRedirect: true}})
	if manual.Response == nil || manual.Response.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("Manual redirect result is %+v", manual)
	}

	followed := ta.safeRequest(context.Background(), nil, SafeRequest{Key: "/old"})
	if followed.Response == nil || readBody(t, followed.Response) != "new" {
		t.Fatalf("Followed redirect result is %+v", followed)
	}
}

func TestSafeRequestOriginalRequest(t *testing.T) {
	var gotQuery string
	ta := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("ok"))
	})
	req := httptest.NewRequest("GET", "/search?q=go", nil)

	ta.safeRequest(context.Background(), req, SafeRequest{Key: "/search", UseOriginalRequest: true})
	if gotQuery != "q=go" {
		t.Fatalf("Original request query is %q", gotQuery)
	}

	ta.safeRequest(context.Background(), req, SafeRequest{Key: "/search"})
	if gotQuery != "" {
		t.Fatalf("Reconstructed request query is %q", gotQuery)
	}
}

func TestFetchOptionsOmitCredentials(t *testing.T) {
	var cookie, cacheControl string
	ta := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		cacheControl = r.Header.Get("Cache-Control")
	})
	req := httptest.NewRequest("GET", "/about", nil)
	req.Header.Set("Cookie", "session=1")

	ta.safeRequest(context.Background(), req, SafeRequest{
		Key:                "/about",
		Fetch:              FetchOptions{OmitCredentials: true, Cache: CacheNoCache},
		UseOriginalRequest: true,
	})

	if cookie != "" {
		t.Fatalf("Cookie sent: %s", cookie)
	}
	if cacheControl != "no-cache" {
		t.Fatalf("Cache-Control is %q", cacheControl)
	}
}
