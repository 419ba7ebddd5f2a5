package offlineagent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBackupEndpoints(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	handler := ta.Handler(nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("PUT", "/.agent/backup/add-post-backup", strings.NewReader(`{"title":"draft"}`)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("PUT status is %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/.agent/backup/add-post-backup", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != `{"title":"draft"}` {
		t.Fatalf("GET returned %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %s", ct)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("DELETE", "/.agent/backup/add-post-backup", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE status is %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/.agent/backup/add-post-backup", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET after DELETE status is %d", rr.Code)
	}
	if ta.origin.total() != 0 {
		t.Fatal("Agent endpoints went to the origin")
	}
}

func TestStatusEndpoint(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	ta.setStatus(false, true)
	ta.store(t, "/", "home")
	ta.store(t, "/offline", "offline page")

	rr := httptest.NewRecorder()
	ta.Handler(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/.agent/status", nil))

	var status statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Online || !status.LoggedIn || status.Generation != "test-2" || status.Cached != 2 {
		t.Fatalf("Status is %+v", status)
	}
	if status.Prefetching || status.Prefetch != (PrefetchStats{}) {
		t.Fatalf("Prefetch status is %+v", status.Prefetch)
	}
}

func TestHandlerRoutesSiteToAgent(t *testing.T) {
	ta := newTestAgent(t, siteHandler)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/about", nil)
	req.Header.Set("Accept", "text/html")
	ta.Handler(nil).ServeHTTP(rr, req)

	if rr.Body.String() != "page /about" {
		t.Fatalf("Body is %q", rr.Body.String())
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "Offline-Agent; fwd=request; detail=page" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}
