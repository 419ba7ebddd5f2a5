package offlineagent

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-agent/bus"
)

// loginAware serves the login, logout and add-item pages depending on the Status State.
func (a *Agent) loginAware(ctx context.Context, r *http.Request, key string) reply {
	switch key {
	case a.routes.Login:
		return a.login(ctx, r)
	case a.routes.Logout:
		return a.logout(ctx, r)
	default:
		return a.addItem(ctx, r)
	}
}

func (a *Agent) login(ctx context.Context, r *http.Request) reply {
	if !a.status.Snapshot().Online {
		if a.status.Snapshot().LoggedIn {
			return a.redirect(a.routes.AddItem, "login")
		}
		return a.cachedPage(a.routes.Login, "login")
	}

	result := a.safeRequest(ctx, r, SafeRequest{
		Key:   a.routes.Login,
		Fetch: FetchOptions{Method: r.Method, ManualRedirect: true, Cache: CacheNoStore},
	})
	if result.Response != nil {
		if isRedirect(result.Response.StatusCode) {
			result.Response.Body.Close()
			return a.redirect(a.routes.AddItem, "login")
		}
		return fromResult(result, "login")
	}
	if a.status.Snapshot().LoggedIn {
		return a.redirect(a.routes.AddItem, "login")
	}
	if res, ok := a.match(a.routes.Login); ok {
		return fromResult(Result{Response: res, Source: SourceCache}, "login")
	}
	return a.redirect(a.routes.Home, "login")
}

func (a *Agent) logout(ctx context.Context, r *http.Request) reply {
	if a.status.Snapshot().Online {
		result := a.safeRequest(ctx, r, SafeRequest{
			Key:   a.routes.Logout,
			Fetch: FetchOptions{Method: r.Method, ManualRedirect: true, Cache: CacheNoStore},
		})
		if result.Response != nil {
			if isRedirect(result.Response.StatusCode) {
				result.Response.Body.Close()
				return a.redirect(a.routes.Home, "logout")
			}
			return fromResult(result, "logout")
		}
	}
	a.forceLogout(ctx)
	return a.redirect(a.routes.Home, "logout")
}

func (a *Agent) addItem(ctx context.Context, r *http.Request) reply {
	if !a.status.Snapshot().Online {
		if a.status.Snapshot().LoggedIn {
			return a.cachedPage(a.routes.AddItem, "add-item")
		}
		return a.cachedPage(a.routes.Login, "add-item")
	}

	result := a.safeRequest(ctx, r, SafeRequest{
		Key:            a.routes.AddItem,
		Fetch:          FetchOptions{Method: r.Method, Cache: CacheNoStore},
		CacheOnSuccess: true,
	})
	if result.Response != nil {
		return fromResult(result, "add-item")
	}
	fallback := a.routes.Login
	if a.status.Snapshot().LoggedIn {
		fallback = a.routes.AddItem
	}
	if res, ok := a.match(fallback); ok {
		return fromResult(Result{Response: res, Source: SourceCache}, "add-item")
	}
	return a.redirect(a.routes.Home, "add-item")
}

// forceLogout drops a login the agent can no longer vouch for.
// Controlled sessions are told to clear theirs, and get a moment to do so.
func (a *Agent) forceLogout(ctx context.Context) {
	if !a.status.ClearLogin() {
		return
	}
	a.log.Info().Msg("Forcing logout")
	if err := a.bus.Broadcast(ctx, bus.ForceLogout(), false); err != nil {
		a.log.Warn().Err(err).Msg("Could not broadcast forced logout")
	}
	wait(ctx, a.delays.LogoutWait)
}
