package offlineagent

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	cachekey "github.com/always-cache/offline-agent/pkg/cache-key"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// PrefetchStats summarize a prefetch run.
type PrefetchStats struct {
	Items   int `json:"items"`
	Cached  int `json:"cached"`
	Skipped int `json:"skipped"`
	Retries int `json:"retries"`
}

// Prefetcher makes sure every content item of the listing ends up in the cache.
// At most one run is in progress at any time; triggers during a run are dropped.
type Prefetcher struct {
	agent   *Agent
	log     zerolog.Logger
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	last PrefetchStats
}

func newPrefetcher(a *Agent) *Prefetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		agent:  a,
		log:    a.log.With().Str("component", "prefetch").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger starts a run in the background and reports whether it did.
// With force set, items already in the cache are fetched again.
func (p *Prefetcher) Trigger(force bool) bool {
	if p.ctx.Err() != nil {
		return false
	}
	if !p.running.CompareAndSwap(false, true) {
		p.log.Trace().Bool("force", force).Msg("Prefetch already running, trigger dropped")
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(force)
	}()
	return true
}

// Running reports whether a run is in progress.
func (p *Prefetcher) Running() bool {
	return p.running.Load()
}

// Wait blocks until the current run, if any, is over.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Close ends the current run at its next wait and prevents new ones.
func (p *Prefetcher) Close() {
	p.cancel()
	p.wg.Wait()
}

// LastStats returns the stats of the last finished run.
func (p *Prefetcher) LastStats() PrefetchStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Prefetcher) run(force bool) {
	var ids []string
	for {
		if err := wait(p.ctx, p.agent.delays.Initial); err != nil {
			p.running.Store(false)
			return
		}
		var ok bool
		if ids, ok = p.listing(); ok {
			break
		}
		// no listing anywhere: step aside, then try again unless another run took over
		p.running.Store(false)
		p.log.Debug().Dur("delay", p.agent.delays.Item).Msg("No listing available, deferring prefetch")
		if err := wait(p.ctx, p.agent.delays.Item); err != nil {
			return
		}
		if !p.running.CompareAndSwap(false, true) {
			return
		}
	}
	defer p.running.Store(false)

	stats := PrefetchStats{Items: len(ids)}
	started := time.Now()
	p.log.Info().Bool("force", force).Int("items", len(ids)).Int("version", p.agent.version).Msg("Prefetching content")
	for _, id := range ids {
		key := cachekey.Detail(p.agent.routes.Detail, id)
		if !force && p.agent.cached(key) {
			stats.Skipped++
			continue
		}
		for {
			if err := wait(p.ctx, p.agent.delays.Item); err != nil {
				p.log.Debug().Str("key", key).Msg("Prefetch stopped")
				p.finish(stats)
				return
			}
			if p.fetchItem(key) {
				stats.Cached++
				break
			}
			stats.Retries++
			p.log.Trace().Str("key", key).Int("retries", stats.Retries).Msg("Retrying item")
		}
	}
	p.finish(stats)
	p.log.Info().
		Int("cached", stats.Cached).
		Int("skipped", stats.Skipped).
		Int("retries", stats.Retries).
		Dur("took", time.Since(started)).
		Msg("Prefetch done")
}

func (p *Prefetcher) finish(stats PrefetchStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = stats
}

// listing returns the item identifiers, from the network if online, else from the cache.
// It returns false if there is no listing at all.
func (p *Prefetcher) listing() ([]string, bool) {
	result := p.agent.safeRequest(p.ctx, nil, SafeRequest{
		Key:            p.agent.routes.Listing,
		Fetch:          FetchOptions{Method: http.MethodGet, Cache: CacheNoStore, OmitCredentials: true},
		CacheOnSuccess: true,
		CheckCacheLast: true,
	})
	if result.Response == nil {
		p.log.Debug().Err(result.Failure).Msg("Listing not available")
		return nil, false
	}
	defer result.Response.Body.Close()
	body, err := io.ReadAll(result.Response.Body)
	if err != nil {
		p.log.Warn().Err(err).Msg("Could not read listing")
		return nil, false
	}
	p.log.Trace().Stringer("source", result.Source).Msg("Got listing")
	return parseListing(body), true
}

// fetchItem fetches and caches one item and reports whether it is now cached.
func (p *Prefetcher) fetchItem(key string) bool {
	result := p.agent.safeRequest(p.ctx, nil, SafeRequest{
		Key:   key,
		Fetch: FetchOptions{Method: http.MethodGet, Cache: CacheNoStore, OmitCredentials: true},
	})
	if result.Response == nil {
		p.log.Trace().Err(result.Failure).Str("key", key).Msg("Could not fetch item")
		return false
	}
	defer result.Response.Body.Close()
	if err := p.agent.put(key, result.Response); err != nil {
		p.log.Error().Err(err).Msg("Could not cache item")
		return false
	}
	return true
}

// parseListing reads a JSON array of identifiers (numbers or strings).
// Anything else yields no identifiers.
func parseListing(body []byte) []string {
	if !gjson.ValidBytes(body) {
		return nil
	}
	listing := gjson.ParseBytes(body)
	if !listing.IsArray() {
		return nil
	}
	ids := make([]string, 0)
	listing.ForEach(func(_, value gjson.Result) bool {
		switch value.Type {
		case gjson.Number, gjson.String:
			ids = append(ids, value.String())
		}
		return true
	})
	return ids
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
