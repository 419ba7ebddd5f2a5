package offlineagent

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	tee "github.com/always-cache/offline-agent/pkg/response-writer-tee"
)

// CacheMode is sent to the network as the request's Cache-Control directive.
type CacheMode string

const (
	CacheDefault CacheMode = ""
	CacheNoStore CacheMode = "no-store"
	CacheNoCache CacheMode = "no-cache"
)

const defaultMaxRedirects = 10

var errTooManyRedirects = errors.New("too many redirects")

// FetchOptions adjust how a request is sent to the network.
type FetchOptions struct {
	// Method overrides the request method if set.
	Method string
	// Header values replace the request's values for the same names.
	Header http.Header
	// Do not follow redirects, return them to the caller instead.
	ManualRedirect bool
	Cache          CacheMode
	// Strip cookies and authorization.
	OmitCredentials bool
}

// Fetcher performs network requests for the agent.
type Fetcher interface {
	Fetch(req *http.Request, opts FetchOptions) (*http.Response, error)
}

// OriginFetcher sends requests to the origin server over HTTP.
type OriginFetcher struct {
	origin     url.URL
	hostHeader string
	follow     *http.Client
	manual     *http.Client
}

// NewOriginFetcher returns a fetcher for the given origin.
// If originHost is set, it is used as the Host header and TLS server name,
// e.g. when the origin URL is just an IP address.
func NewOriginFetcher(origin url.URL, originHost string) *OriginFetcher {
	transport := http.DefaultTransport
	hostHeader := origin.Host
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &OriginFetcher{
		origin:     origin,
		hostHeader: hostHeader,
		follow:     &http.Client{Transport: transport},
		manual: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *OriginFetcher) Fetch(req *http.Request, opts FetchOptions) (*http.Response, error) {
	out := prepareRequest(req, opts)
	out.URL.Scheme = f.origin.Scheme
	out.URL.Host = f.origin.Host
	out.Host = f.hostHeader
	if opts.ManualRedirect {
		return f.manual.Do(out)
	}
	return f.follow.Do(out)
}

// HandlerFetcher serves requests with an in-process handler instead of the network.
type HandlerFetcher struct {
	Handler http.Handler
	// Zero means the default of 10.
	MaxRedirects int
}

func (f HandlerFetcher) Fetch(req *http.Request, opts FetchOptions) (*http.Response, error) {
	limit := f.MaxRedirects
	if limit <= 0 {
		limit = defaultMaxRedirects
	}
	out := prepareRequest(req, opts)
	for redirects := 0; ; redirects++ {
		saver := tee.NewResponseSaver()
		f.Handler.ServeHTTP(saver, out)
		res, err := saver.Result(out)
		if err != nil {
			return nil, err
		}
		if opts.ManualRedirect || !isRedirect(res.StatusCode) {
			return res, nil
		}
		res.Body.Close()
		if redirects >= limit {
			return nil, errTooManyRedirects
		}
		location, err := res.Location()
		if err != nil {
			return nil, fmt.Errorf("redirect without location: %w", err)
		}
		method := out.Method
		if res.StatusCode != http.StatusTemporaryRedirect && res.StatusCode != http.StatusPermanentRedirect {
			method = http.MethodGet
		}
		next, err := http.NewRequestWithContext(out.Context(), method, location.String(), nil)
		if err != nil {
			return nil, err
		}
		next.Header = out.Header.Clone()
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
		out = next
	}
}

func prepareRequest(req *http.Request, opts FetchOptions) *http.Request {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	if opts.Method != "" {
		out.Method = opts.Method
	}
	for name, values := range opts.Header {
		out.Header[http.CanonicalHeaderKey(name)] = values
	}
	if opts.OmitCredentials {
		out.Header.Del("Cookie")
		out.Header.Del("Authorization")
	}
	if opts.Cache != CacheDefault {
		out.Header.Set("Cache-Control", string(opts.Cache))
	}
	return out
}

func isRedirect(statusCode int) bool {
	if statusCode == 301 ||
		statusCode == 302 ||
		statusCode == 303 ||
		statusCode == 307 ||
		statusCode == 308 {
		return true
	}
	return false
}
