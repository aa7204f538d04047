package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sqlnice/graticule/internal/core/model"
	"github.com/sqlnice/graticule/internal/core/observability"
)

// Sessions is the slice of the session table the HTTP layer drives.
type Sessions interface {
	Create(view model.View, opts model.SessionOptions) (string, error)
	View(id string) (model.View, bool)
	UpdateView(id string, v model.View) (bool, error)
	UpdateOptions(id string, o model.SessionOptions) (bool, error)
	Overlay(id, format string) ([]byte, bool, error)
	Delete(id string) bool
}

// observe wraps a handler body with status capture and request metrics
// under a fixed route label.
func observe(route string, next func(w *statusWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleSessionCreate serves POST /sessions. The body carries the
// initial view plus optional overrides; the response is the new id.
func HandleSessionCreate(logger *slog.Logger, sm Sessions) http.HandlerFunc {
	return observe("/sessions", func(w *statusWriter, r *http.Request) {
		var req struct {
			View    model.View           `json:"view"`
			Options model.SessionOptions `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		id, err := sm.Create(req.View, req.Options)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("session created", slog.String("session_id", id))
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	})
}

// HandleSessionView serves GET /sessions/{id}/view.
func HandleSessionView(sm Sessions) http.HandlerFunc {
	return observe("/sessions/{id}/view", func(w *statusWriter, r *http.Request) {
		v, found := sm.View(chi.URLParam(r, "id"))
		if !found {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
}

// HandleSessionViewUpdate serves POST /sessions/{id}/view. Whether the
// recompute ran already or is waiting out the debounce is not exposed;
// both answer 204.
func HandleSessionViewUpdate(sm Sessions) http.HandlerFunc {
	return observe("/sessions/{id}/view", func(w *statusWriter, r *http.Request) {
		var v model.View
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		found, err := sm.UpdateView(chi.URLParam(r, "id"), v)
		if !found {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleSessionOptions serves POST /sessions/{id}/options.
func HandleSessionOptions(sm Sessions) http.HandlerFunc {
	return observe("/sessions/{id}/options", func(w *statusWriter, r *http.Request) {
		var o model.SessionOptions
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		found, err := sm.UpdateOptions(chi.URLParam(r, "id"), o)
		if !found {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleSessionOverlay serves GET /sessions/{id}/overlay with the same
// format negotiation as the stateless endpoint.
func HandleSessionOverlay(logger *slog.Logger, sm Sessions) http.HandlerFunc {
	return observe("/sessions/{id}/overlay", func(w *statusWriter, r *http.Request) {
		format, err := negotiateFormat(r.URL.Query().Get("format"), r.Header.Get("Accept"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := chi.URLParam(r, "id")
		payload, found, err := sm.Overlay(id, format)
		if !found {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("session overlay failed", slog.String("session_id", id), slog.String("error", err.Error()))
			http.Error(w, "overlay failed", http.StatusInternalServerError)
			return
		}
		if format == model.FormatPNG {
			w.Header().Set("Content-Type", "image/png")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
}

// HandleSessionDelete serves DELETE /sessions/{id}.
func HandleSessionDelete(logger *slog.Logger, sm Sessions) http.HandlerFunc {
	return observe("/sessions/{id}", func(w *statusWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !sm.Delete(id) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		logger.Info("session deleted", slog.String("session_id", id))
		w.WriteHeader(http.StatusNoContent)
	})
}
