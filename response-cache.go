package offlineagent

import (
	"fmt"
	"net/http"
	"time"

	serializer "github.com/always-cache/offline-agent/pkg/response-serializer"
)

// match returns the response stored under key in the current generation.
// Read or decode failures are logged and count as a miss.
func (a *Agent) match(key string) (*http.Response, bool) {
	b, ok, err := a.generation.Get(key)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		a.log.Trace().Str("key", key).Msg("Cache miss")
		return nil, false
	}
	stored, err := serializer.BytesToStoredResponse(b)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not decode cached response")
		return nil, false
	}
	a.log.Trace().Str("key", key).Time("storedAt", stored.StoredAt).Msg("Cache hit")
	return stored.Response, true
}

// put stores a copy of res under key. The body of res stays readable.
func (a *Agent) put(key string, res *http.Response) error {
	b, err := serializer.ResponseToBytes(res, time.Now())
	if err != nil {
		return fmt.Errorf("serialize %s: %w", key, err)
	}
	if err := a.generation.Put(key, b); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	a.log.Trace().Str("key", key).Int("status", res.StatusCode).Msg("Stored response")
	return nil
}

func (a *Agent) purge(key string) {
	if err := a.generation.Purge(key); err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not purge cache entry")
		return
	}
	a.log.Trace().Str("key", key).Msg("Purged cache entry")
}

func (a *Agent) cached(key string) bool {
	return a.generation.Has(key)
}

// cachedEntries counts the responses in the current generation.
func (a *Agent) cachedEntries() int {
	n := 0
	a.generation.Keys(func(string) { n++ })
	return n
}
