package offlineagent

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/always-cache/offline-agent/backup"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const maxBackupSize = 1 << 20

type statusResponse struct {
	Status
	Generation  string        `json:"generation"`
	Cached      int           `json:"cached"`
	Prefetching bool          `json:"prefetching"`
	Prefetch    PrefetchStats `json:"lastPrefetch"`
}

// Handler returns the agent's HTTP surface: the agent endpoints under /.agent/
// (session bus, status and backup store) and the agent itself for everything else.
// sessions may be nil if the agent has no bus endpoint.
func (a *Agent) Handler(sessions http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(a.log))
	r.Use(hlog.RequestIDHandler("reqId", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))

	r.Route("/.agent", func(r chi.Router) {
		if sessions != nil {
			r.Handle("/bus", sessions)
		}
		r.Get("/status", a.serveStatus)
		r.Get("/backup/{key}", a.getBackup)
		r.Put("/backup/{key}", a.putBackup)
		r.Delete("/backup/{key}", a.deleteBackup)
	})
	r.Handle("/*", a)
	return r
}

func (a *Agent) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(statusResponse{
		Status:      a.status.Snapshot(),
		Generation:  a.CurrentGeneration(),
		Cached:      a.cachedEntries(),
		Prefetching: a.prefetch.Running(),
		Prefetch:    a.prefetch.LastStats(),
	})
}

func (a *Agent) getBackup(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := a.backup.Get(key)
	if errors.Is(err, backup.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	} else if err != nil {
		getLogger(r).Error().Err(err).Str("backupKey", key).Msg("Could not read backup")
		http.Error(w, "Could not read backup", http.StatusInternalServerError)
		return
	}
	if gjson.ValidBytes(value) {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Write(value)
}

func (a *Agent) putBackup(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBackupSize))
	if err != nil {
		http.Error(w, "Could not read body", http.StatusBadRequest)
		return
	}
	if err := a.backup.Put(key, value); err != nil {
		getLogger(r).Error().Err(err).Str("backupKey", key).Msg("Could not write backup")
		http.Error(w, "Could not write backup", http.StatusInternalServerError)
		return
	}
	getLogger(r).Debug().Str("backupKey", key).Int("size", len(value)).Msg("Stored backup")
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) deleteBackup(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := a.backup.Delete(key); err != nil {
		getLogger(r).Error().Err(err).Str("backupKey", key).Msg("Could not delete backup")
		http.Error(w, "Could not delete backup", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the default logger.
func getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	return logger
}
