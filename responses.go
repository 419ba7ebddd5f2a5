package offlineagent

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const offlineText = "You are offline and this page is not available offline yet.\n"

func newResponse(statusCode int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// notFoundResponse is a network-level 404 with an empty body.
func notFoundResponse() *http.Response {
	return newResponse(http.StatusNotFound, nil, "")
}

func redirectResponse(location string) *http.Response {
	return newResponse(http.StatusTemporaryRedirect, http.Header{"Location": {location}}, "")
}

func (a *Agent) redirect(location, detail string) reply {
	return synthetic(redirectResponse(location), detail)
}

// offlinePage serves the cached offline page, or a plain 503 if even that is missing.
func (a *Agent) offlinePage(detail string) reply {
	if res, ok := a.match(a.routes.Offline); ok {
		rep := reply{res: res}
		rep.status.Hit()
		rep.status.Detail(detail + "-offline")
		return rep
	}
	a.log.Warn().Str("key", a.routes.Offline).Msg("Offline page not cached")
	return synthetic(newResponse(
		http.StatusServiceUnavailable,
		http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		offlineText,
	), detail+"-offline")
}

// cachedPage serves the cached copy of key, falling back to the offline page.
func (a *Agent) cachedPage(key, detail string) reply {
	if res, ok := a.match(key); ok {
		rep := reply{res: res}
		rep.status.Hit()
		rep.status.Detail(detail)
		return rep
	}
	return a.offlinePage(detail)
}
