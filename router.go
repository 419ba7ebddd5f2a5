package offlineagent

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	cachekey "github.com/always-cache/offline-agent/pkg/cache-key"
)

// Route is the classification of an intercepted request.
type Route int

const (
	RouteCrossOrigin Route = iota
	RouteAPI
	RouteLoginAware
	RoutePage
	RouteStatic
)

func (r Route) String() string {
	switch r {
	case RouteAPI:
		return "api"
	case RouteLoginAware:
		return "login-aware"
	case RoutePage:
		return "page"
	case RouteStatic:
		return "static"
	}
	return "cross-origin"
}

var apiPath = regexp.MustCompile(`^/api/.+$`)

// reply is a routed response together with how it was obtained.
type reply struct {
	res    *http.Response
	status CacheStatus
}

func fromResult(result Result, detail string) reply {
	rep := reply{res: result.Response}
	if result.Source == SourceCache {
		rep.status.Hit()
	} else {
		rep.status.Forward(CacheStatusFwdRequest)
	}
	rep.status.Detail(detail)
	return rep
}

func synthetic(res *http.Response, detail string) reply {
	rep := reply{res: res}
	rep.status.Forward(CacheStatusFwdMiss)
	rep.status.Detail(detail)
	return rep
}

// Classify returns the route of a request.
func (a *Agent) Classify(r *http.Request) Route {
	if !a.sameOrigin(r) {
		return RouteCrossOrigin
	}
	path := cachekey.Key(r.URL)
	if apiPath.MatchString(path) {
		return RouteAPI
	}
	if acceptsMarkup(r) {
		if path == a.routes.Login || path == a.routes.Logout || path == a.routes.AddItem {
			return RouteLoginAware
		}
		return RoutePage
	}
	return RouteStatic
}

func (a *Agent) dispatch(ctx context.Context, r *http.Request) reply {
	route := a.Classify(r)
	key := cachekey.Key(r.URL)
	a.log.Trace().Str("key", key).Stringer("route", route).Str("method", r.Method).Msg("Routing request")
	switch route {
	case RouteAPI:
		return a.networkFirst(ctx, r, key)
	case RouteLoginAware:
		return a.loginAware(ctx, r, key)
	case RoutePage:
		return a.networkAndCache(ctx, r, key)
	default:
		return a.cacheFirst(ctx, r, key)
	}
}

// networkFirst serves API requests. The cache is only read when the network fails.
func (a *Agent) networkFirst(ctx context.Context, r *http.Request, key string) reply {
	result := a.safeRequest(ctx, r, SafeRequest{
		Key:                key,
		Fetch:              FetchOptions{Cache: CacheNoStore},
		CacheOnSuccess:     true,
		CheckCacheLast:     true,
		UseOriginalRequest: true,
	})
	if result.Response == nil {
		return synthetic(notFoundResponse(), "api")
	}
	if result.Source == SourceNetwork && r.Method != http.MethodGet && key == a.routes.AddItemAPI {
		a.clearBackup()
	}
	return fromResult(result, "api")
}

// networkAndCache serves pages: network, then cache, then the offline page.
// Network responses replace the cached copy, unless marked as not found.
func (a *Agent) networkAndCache(ctx context.Context, r *http.Request, key string) reply {
	result := a.safeRequest(ctx, r, SafeRequest{
		Key:                key,
		Fetch:              FetchOptions{Cache: CacheNoStore},
		CheckCacheLast:     true,
		UseOriginalRequest: true,
	})
	if result.Response == nil {
		return a.offlinePage("page")
	}
	if result.Source == SourceNetwork {
		if result.Response.Header.Get(a.routes.NotFoundHeader) != "" {
			a.purge(key)
		} else if r.Method == http.MethodGet {
			if err := a.put(key, result.Response); err != nil {
				a.log.Error().Err(err).Msg("Could not cache page")
			}
		}
	}
	return fromResult(result, "page")
}

// cacheFirst serves static assets. The network is only used on a cache miss.
func (a *Agent) cacheFirst(ctx context.Context, r *http.Request, key string) reply {
	result := a.safeRequest(ctx, r, SafeRequest{
		Key:                key,
		Fetch:              FetchOptions{Cache: CacheNoStore},
		CacheOnSuccess:     true,
		CheckCacheFirst:    true,
		UseOriginalRequest: true,
	})
	if result.Response == nil {
		return synthetic(notFoundResponse(), "static")
	}
	rep := fromResult(result, "static")
	if result.Source == SourceNetwork {
		rep.status.Forward(CacheStatusFwdUriMiss)
	}
	return rep
}

func (a *Agent) clearBackup() {
	if err := a.backup.Delete(a.routes.BackupKey); err != nil {
		a.log.Error().Err(err).Str("backupKey", a.routes.BackupKey).Msg("Could not clear offline submission backup")
		return
	}
	a.log.Debug().Str("backupKey", a.routes.BackupKey).Msg("Cleared offline submission backup")
}

func acceptsMarkup(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
