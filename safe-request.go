package offlineagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrOffline means the network was not attempted because the agent is offline.
	ErrOffline = errors.New("offline")
	// ErrUnusableResponse means the network answered, but not with a success or an opaque redirect.
	ErrUnusableResponse = errors.New("unusable response")
)

// Source tells where a safe request got its response from.
type Source int

const (
	SourceNone Source = iota
	SourceCache
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceNetwork:
		return "network"
	}
	return "none"
}

// SafeRequest describes one network and cache round for a cache key.
type SafeRequest struct {
	Key   string
	Fetch FetchOptions
	// Store a usable network response under Key (GET only).
	CacheOnSuccess  bool
	CheckCacheFirst bool
	CheckCacheLast  bool
	// Send the intercepted request itself instead of a new request for Key.
	UseOriginalRequest bool
}

// Result of a safe request. Response is nil if neither cache nor network produced one,
// in which case Failure tells why the network did not.
type Result struct {
	Response *http.Response
	Source   Source
	Failure  error
}

// networkOutcome is either a usable response or the reason there is none.
type networkOutcome struct {
	res    *http.Response
	err    error
	method string
}

func (o networkOutcome) usable() bool {
	return o.err == nil && o.res != nil
}

// safeRequest is the only place where the agent goes to the network.
// Network failures never escape it; they end up in Result.Failure.
func (a *Agent) safeRequest(ctx context.Context, r *http.Request, sr SafeRequest) Result {
	if sr.CheckCacheFirst {
		if res, ok := a.match(sr.Key); ok {
			return Result{Response: res, Source: SourceCache}
		}
	}

	outcome := a.attempt(ctx, r, sr)
	if outcome.usable() {
		if sr.CacheOnSuccess && outcome.method == http.MethodGet {
			if err := a.put(sr.Key, outcome.res); err != nil {
				a.log.Error().Err(err).Msg("Could not cache response")
			}
		}
		return Result{Response: outcome.res, Source: SourceNetwork}
	}
	a.log.Trace().Err(outcome.err).Str("key", sr.Key).Msg("No usable network response")

	if sr.CheckCacheLast {
		if res, ok := a.match(sr.Key); ok {
			return Result{Response: res, Source: SourceCache, Failure: outcome.err}
		}
	}
	return Result{Failure: outcome.err}
}

func (a *Agent) attempt(ctx context.Context, r *http.Request, sr SafeRequest) (outcome networkOutcome) {
	if !a.status.Snapshot().Online {
		return networkOutcome{err: ErrOffline}
	}
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Error().Interface("panic", rec).Str("key", sr.Key).Msg("Fetch panicked")
			outcome = networkOutcome{err: fmt.Errorf("fetch %s: %v", sr.Key, rec)}
		}
	}()

	req, err := a.networkRequest(ctx, r, sr)
	if err != nil {
		return networkOutcome{err: err}
	}
	method := req.Method
	if sr.Fetch.Method != "" {
		method = sr.Fetch.Method
	}
	res, err := a.fetcher.Fetch(req, sr.Fetch)
	if err != nil {
		return networkOutcome{err: fmt.Errorf("fetch %s: %w", sr.Key, err), method: method}
	}
	if isSuccess(res.StatusCode) || (sr.Fetch.ManualRedirect && isRedirect(res.StatusCode)) {
		return networkOutcome{res: res, method: method}
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return networkOutcome{err: fmt.Errorf("%w: %s returned %d", ErrUnusableResponse, sr.Key, res.StatusCode)}
}

// networkRequest returns the request to send: the intercepted one, or a new one for the key.
// A new request keeps the intercepted request's headers, and its body unless the method is GET or HEAD.
func (a *Agent) networkRequest(ctx context.Context, r *http.Request, sr SafeRequest) (*http.Request, error) {
	if sr.UseOriginalRequest && r != nil {
		return r.WithContext(ctx), nil
	}
	method := sr.Fetch.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.ReadCloser
	if r != nil && r.Body != nil && r.Body != http.NoBody && method != http.MethodGet && method != http.MethodHead {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, method, sr.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", sr.Key, err)
	}
	if r != nil {
		req.Header = r.Header.Clone()
	}
	if body != nil {
		req.Body = body
		req.ContentLength = r.ContentLength
	} else {
		req.Header.Del("Content-Type")
		req.Header.Del("Content-Length")
	}
	return req, nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
