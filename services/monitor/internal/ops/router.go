package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slotwatch/services/monitor"
	"slotwatch/services/timeslots"
)

// Monitors is the part of *monitor.Registry the router uses.
type Monitors interface {
	List() []monitor.Info
	Get(id string) (*monitor.Monitor, bool)
	StopMonitor(id string) error
}

// Memory is the part of *timeslots.Engine the router uses.
type Memory interface {
	Keys() []string
	Record(key string) (timeslots.MemoryRecord, bool)
	ResetAll()
}

// RouterOptions wires the router to the running process.
type RouterOptions struct {
	Monitors Monitors
	Memory   Memory
	// Recorder holds recent changes across keys. Optional.
	Recorder *timeslots.Recorder
	Gatherer prometheus.Gatherer
	// Ready reports whether the process can serve. Nil means always ready.
	Ready func() error
	// Middleware wraps the whole router, typically telemetry.Middleware.
	Middleware     func(http.Handler) http.Handler
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int
}

// Router builds the ops HTTP router with health, readiness, metrics and
// monitor inspection routes.
func Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	if opts.Middleware != nil {
		r.Use(opts.Middleware)
	}
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         int((10 * time.Minute).Seconds()),
		}))
	}
	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(); err != nil {
				respondError(w, http.StatusServiceUnavailable, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := &handlers{opts: opts}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/monitors", h.listMonitors)
		r.Get("/monitors/{id}", h.getMonitor)
		r.Delete("/monitors/{id}", h.stopMonitor)
		r.Get("/memory", h.listKeys)
		r.Get("/memory/{key}", h.getMemory)
		r.Get("/history", h.recentHistory)
		r.Get("/history/{key}", h.keyHistory)
		r.Post("/reset", h.reset)
	})

	return r
}

type handlers struct {
	opts RouterOptions
}

func (h *handlers) listMonitors(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Monitors == nil {
		respondJSON(w, http.StatusOK, []monitor.Info{})
		return
	}
	respondJSON(w, http.StatusOK, h.opts.Monitors.List())
}

func (h *handlers) getMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.opts.Monitors == nil {
		respondError(w, http.StatusNotFound, monitor.ErrUnknownMonitor)
		return
	}
	m, ok := h.opts.Monitors.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, monitor.ErrUnknownMonitor)
		return
	}
	respondJSON(w, http.StatusOK, monitor.Info{ID: id, Status: m.Status()})
}

func (h *handlers) stopMonitor(w http.ResponseWriter, r *http.Request) {
	if h.opts.Monitors == nil {
		respondError(w, http.StatusNotFound, monitor.ErrUnknownMonitor)
		return
	}
	err := h.opts.Monitors.StopMonitor(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, monitor.ErrUnknownMonitor):
		respondError(w, http.StatusNotFound, err)
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) listKeys(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Memory == nil {
		respondJSON(w, http.StatusOK, []string{})
		return
	}
	respondJSON(w, http.StatusOK, h.opts.Memory.Keys())
}

func (h *handlers) getMemory(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.record(r)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("unknown comparison key"))
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *handlers) keyHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.record(r)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("unknown comparison key"))
		return
	}
	respondJSON(w, http.StatusOK, rec.History)
}

func (h *handlers) recentHistory(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Recorder == nil {
		respondJSON(w, http.StatusOK, []timeslots.DiffEntry{})
		return
	}
	respondJSON(w, http.StatusOK, h.opts.Recorder.Entries())
}

func (h *handlers) reset(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Memory != nil {
		h.opts.Memory.ResetAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) record(r *http.Request) (timeslots.MemoryRecord, bool) {
	if h.opts.Memory == nil {
		return timeslots.MemoryRecord{}, false
	}
	return h.opts.Memory.Record(chi.URLParam(r, "key"))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
