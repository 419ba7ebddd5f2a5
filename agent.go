// Package offlineagent implements an offline-first interception agent for a content site.
//
// The agent sits between browser sessions and the site. For every request it picks a
// strategy (network-first, network-and-cache, cache-first, login-aware or pass-through),
// serves from the network or from a versioned response cache, and keeps that cache
// warm with the site's shell assets and every content item in the background.
package offlineagent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/always-cache/offline-agent/backup"
	"github.com/always-cache/offline-agent/cache"
	cachekey "github.com/always-cache/offline-agent/pkg/cache-key"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Routes are the site paths the agent knows about.
type Routes struct {
	// Listing returns a JSON array of content item identifiers.
	Listing string
	// Detail is the path pattern of a content item, with {id} as placeholder.
	Detail string
	// AddItem is the login-aware page for adding content.
	AddItem string
	// AddItemAPI is the API endpoint whose success clears the offline submission backup.
	AddItemAPI string
	Login      string
	Logout     string
	Home       string
	Offline    string
	// Responses carrying this header are never cached and evict any cached copy.
	NotFoundHeader string
	// Key of the offline submission in the backup store.
	BackupKey string
}

// Delays of the background jobs. Zero or negative values are replaced by DefaultDelays.
type Delays struct {
	// Before a prefetch run fetches the listing.
	Initial time.Duration
	// Before each item fetch, and between retries.
	Item time.Duration
	// After broadcasting a forced logout, before redirecting.
	LogoutWait time.Duration
}

type Config struct {
	// URL of the site. Requests for other hosts are passed through.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Cache generations are named "<Prefix>-<Version>".
	Prefix  string
	Version int
	// Assets that must be cached for the site to work offline.
	ShellAssets []string
	// Empty routes are set to their defaults.
	Routes Routes
	Delays Delays
	// Storage for cached responses.
	Cache cache.Provider
	// Storage for offline submissions. In-memory if nil.
	Backup backup.Store
	// Network access. Requests go to OriginURL over HTTP if nil.
	Fetcher Fetcher
	// Transport for cross-origin requests. http.DefaultTransport if nil.
	PassThrough http.RoundTripper
	// Message bus to sessions. Messages are dropped if nil.
	Bus  Bus
	Host Host
	// Maximum number of shell assets fetched at the same time.
	WarmupConcurrency int
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Agent struct {
	origin      url.URL
	originHost  string
	prefix      string
	version     int
	shellAssets []string
	routes      Routes
	delays      Delays
	warmup      int

	cache       cache.Provider
	generation  cache.Generation
	backup      backup.Store
	fetcher     Fetcher
	passThrough httputil.ReverseProxy
	bus         Bus
	host        Host

	status   *StatusState
	prefetch *Prefetcher
	log      zerolog.Logger
}

// New creates an agent and opens its cache generation.
// No background work starts until Activate or Start is called.
func New(config Config) (*Agent, error) {
	if config.Cache == nil {
		return nil, errors.New("offlineagent: no cache provider")
	}
	if config.Prefix == "" {
		return nil, errors.New("offlineagent: no cache prefix")
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	generationName := cachekey.GenerationName(config.Prefix, config.Version)
	logger = logger.With().
		Str("generation", generationName).
		Logger()

	generation, err := config.Cache.Open(generationName)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		origin:      config.OriginURL,
		originHost:  config.OriginHost,
		prefix:      config.Prefix,
		version:     config.Version,
		shellAssets: config.ShellAssets,
		routes:      config.Routes.withDefaults(),
		delays:      config.Delays.withDefaults(),
		warmup:      config.WarmupConcurrency,
		cache:       config.Cache,
		generation:  generation,
		backup:      config.Backup,
		fetcher:     config.Fetcher,
		bus:         config.Bus,
		host:        config.Host,
		status:      NewStatusState(),
		log:         logger,
	}
	if a.backup == nil {
		a.backup = backup.NewMemStore()
	}
	if a.fetcher == nil {
		a.fetcher = NewOriginFetcher(config.OriginURL, config.OriginHost)
	}
	if a.bus == nil {
		a.bus = noopBus{}
	}
	if a.host == nil {
		a.host = noopHost{}
	}
	if a.warmup <= 0 {
		a.warmup = defaultWarmupConcurrency
	}
	transport := config.PassThrough
	if transport == nil {
		transport = http.DefaultTransport
	}
	a.passThrough = httputil.ReverseProxy{
		// the request already targets its real destination
		Director:  func(*http.Request) {},
		Transport: transport,
	}
	a.prefetch = newPrefetcher(a)
	return a, nil
}

// CurrentGeneration returns the name of the cache generation this agent serves from.
func (a *Agent) CurrentGeneration() string {
	return a.generation.Name()
}

func (a *Agent) Status() *StatusState {
	return a.status
}

func (a *Agent) Prefetcher() *Prefetcher {
	return a.prefetch
}

// Close stops background work.
func (a *Agent) Close() {
	a.prefetch.Close()
}

// ServeHTTP implements the http.Handler interface.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer a.recover(w, r)
	if !a.sameOrigin(r) {
		a.log.Trace().Str("url", r.URL.String()).Msg("Passing through cross-origin request")
		a.passThrough.ServeHTTP(w, r)
		return
	}
	rep := a.dispatch(r.Context(), r)
	a.send(w, r, rep)
}

// Route returns the response for an intercepted request,
// or nil if the agent does not handle it (cross-origin).
func (a *Agent) Route(ctx context.Context, r *http.Request) *http.Response {
	if !a.sameOrigin(r) {
		return nil
	}
	return a.dispatch(ctx, r).res
}

// recover recovers from panics and sends the offline page, so the session always gets a response.
func (a *Agent) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		if errors.Is(asError(err), http.ErrAbortHandler) {
			panic(err)
		}
		a.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("url", r.URL.String()).Msg("Panic in agent handler")
		a.send(w, r, a.escapeHatch())
	}
}

// escapeHatch is the fallback when routing failed unexpectedly.
func (a *Agent) escapeHatch() reply {
	return a.offlinePage("escape-hatch")
}

func (a *Agent) send(w http.ResponseWriter, r *http.Request, rep reply) {
	res := rep.res
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", rep.status.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten := int64(0)
	if res.Body != nil && r.Method != http.MethodHead {
		var err error
		bytesWritten, err = io.Copy(w, res.Body)
		if err != nil {
			a.log.Error().Err(err).Msg("Could not write response body to client")
		}
	}
	a.logRequest(r, res, rep.status)
	a.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (a *Agent) logRequest(r *http.Request, res *http.Response, cs CacheStatus) {
	isHit := 0
	if cs.status == CacheStatusHit {
		isHit = 1
	}
	a.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", res.StatusCode).
		Str("fwd", string(cs.fwdReason)).
		Str("detail", cs.detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}

// sameOrigin reports whether the request is for the site itself.
// Relative request URLs (reverse proxy mode) always are.
func (a *Agent) sameOrigin(r *http.Request) bool {
	if r.URL.Host == "" {
		return true
	}
	host := r.URL.Host
	return strings.EqualFold(host, a.origin.Host) ||
		(a.originHost != "" && strings.EqualFold(host, a.originHost))
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// set by an upstream proxy, not part of the response
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}
