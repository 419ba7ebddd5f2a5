package offlineagent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-agent/bus"
	cachekey "github.com/always-cache/offline-agent/pkg/cache-key"

	"golang.org/x/sync/errgroup"
)

const defaultWarmupConcurrency = 4

// Install readies a new generation: it takes over right away instead of waiting for old sessions.
func (a *Agent) Install() {
	a.log.Info().Int("version", a.version).Msg("Agent installed")
	a.host.SkipWaiting()
}

// Activate makes the current generation the only one.
// It deletes all other versions, reloads the shell assets, takes control of open sessions
// and starts a forced prefetch without waiting for it.
// Shell asset failures are skipped, failing to delete an old generation is returned.
func (a *Agent) Activate(ctx context.Context) error {
	if err := a.clearGenerations(); err != nil {
		return err
	}
	a.cacheShellAssets(ctx, true)
	if err := a.host.ClaimSessions(ctx); err != nil {
		return fmt.Errorf("claim sessions: %w", err)
	}
	a.log.Info().Int("version", a.version).Msg("Agent activated")
	a.prefetch.Trigger(true)
	return nil
}

// Resume takes control again after a restart of an already installed generation.
// New sessions are controlled as they attach, open ones are claimed.
func (a *Agent) Resume(ctx context.Context) error {
	a.host.SkipWaiting()
	if err := a.host.ClaimSessions(ctx); err != nil {
		return fmt.Errorf("claim sessions: %w", err)
	}
	a.log.Info().Int("version", a.version).Msg("Agent resumed")
	return nil
}

// Boot brings the agent up: a generation seen for the first time is installed and activated,
// one that was installed before is resumed. Start runs in both cases.
func (a *Agent) Boot(ctx context.Context, installed bool) error {
	if installed {
		if err := a.Resume(ctx); err != nil {
			return err
		}
	} else {
		a.Install()
		if err := a.Activate(ctx); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
	}
	a.Start(ctx)
	return nil
}

// Start runs on every agent start: it asks the sessions for their status,
// fills in missing shell assets and starts a prefetch.
func (a *Agent) Start(ctx context.Context) {
	if err := a.bus.Broadcast(ctx, bus.RequestStatusUpdate(), true); err != nil {
		a.log.Warn().Err(err).Msg("Could not request status update")
	}
	a.cacheShellAssets(ctx, false)
	a.log.Info().Int("version", a.version).Msg("Agent is starting")
	a.prefetch.Trigger(false)
}

// clearGenerations deletes every versioned generation other than the current one.
// Names that do not follow the versioning pattern are left alone.
func (a *Agent) clearGenerations() error {
	names, err := a.cache.Generations()
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	for _, name := range names {
		version, ok := cachekey.ParseGeneration(a.prefix, name)
		if !ok || version == a.version {
			continue
		}
		if err := a.cache.DeleteGeneration(name); err != nil {
			return fmt.Errorf("delete generation %s: %w", name, err)
		}
		a.log.Debug().Str("deleted", name).Msg("Deleted old generation")
	}
	return nil
}

// cacheShellAssets stores every shell asset in the current generation, concurrently.
// Unless forced, assets already cached are not fetched. Failures only leave the asset out.
func (a *Agent) cacheShellAssets(ctx context.Context, force bool) {
	var g errgroup.Group
	g.SetLimit(a.warmup)
	for _, asset := range a.shellAssets {
		key := cachekey.KeyFromString(asset)
		g.Go(func() error {
			a.cacheShellAsset(ctx, key, force)
			return nil
		})
	}
	g.Wait()
}

func (a *Agent) cacheShellAsset(ctx context.Context, key string, force bool) {
	if !force && a.cached(key) {
		return
	}
	result := a.safeRequest(ctx, nil, SafeRequest{
		Key: key,
		Fetch: FetchOptions{
			Method:          http.MethodGet,
			Cache:           CacheNoCache,
			OmitCredentials: true,
		},
		CacheOnSuccess: true,
	})
	if result.Response == nil {
		a.log.Debug().Err(result.Failure).Str("key", key).Msg("Shell asset not cached")
		return
	}
	result.Response.Body.Close()
}
