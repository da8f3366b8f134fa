// Package apiserver exposes the core's read-only HTTP surface: worker queue
// status, task lookup, and an activity log tail. The UI that renders this
// data lives elsewhere; only its contract is served here.
package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bmigette/tradecore/internal/queue"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Config configures the HTTP server.
type Config struct {
	Port  int
	Queue *queue.Manager
	Store *store.Store
	Log   zerolog.Logger
}

// Server is the read-only status/diagnostics HTTP surface.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds a Server bound to cfg.Port, wiring the routes below.
func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handlers{queue: cfg.Queue, store: cfg.Store, log: cfg.Log}

	r.Get("/healthz", h.health)
	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/pending", h.pending)
		r.Get("/running", h.running)
		r.Get("/all", h.all)
		r.Get("/tasks/{id}", h.taskStatus)
	})
	r.Get("/api/activity", h.activity)

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: cfg.Log.With().Str("component", "apiserver").Logger(),
	}
}

// Start runs the HTTP server; blocks until Shutdown is called or the server
// fails to bind.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("apiserver listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handlers struct {
	queue *queue.Manager
	store *store.Store
	log   zerolog.Logger
}

func (h *handlers) pending(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.queue.GetPending(r.Context())
	h.writeJSON(w, tasks, err)
}

func (h *handlers) running(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.queue.GetRunning(r.Context())
	h.writeJSON(w, tasks, err)
}

func (h *handlers) all(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.queue.GetAll(r.Context())
	h.writeJSON(w, tasks, err)
}

func (h *handlers) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.queue.GetTaskStatus(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, task, nil)
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.store.ListActivity(r.Context(), limit)
	h.writeJSON(w, entries, err)
}

// health reports process/host liveness (memory, host uptime, process CPU)
// on the HTTP health endpoint.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{"status": "ok", "time": time.Now().UTC()}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		info["memory_used_percent"] = vm.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(r.Context()); err == nil {
		info["host_uptime_seconds"] = uptime
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercentWithContext(r.Context()); err == nil {
			info["process_cpu_percent"] = pct
		}
	}

	h.writeJSON(w, info, nil)
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		h.log.Error().Err(err).Msg("apiserver request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}
