package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	// WebSocket serves collaboration connections under every WSPrefix.
	WebSocket  http.Handler
	WSPrefixes []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func (a *API) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(corsMiddleware)

	r.Get("/health", a.HealthHandler)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.StatsHandler)

		r.Get("/rooms", a.ListRoomsHandler)
		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Get("/", a.GetRoomHandler)
			r.Post("/reset", a.ResetRoomHandler)
			r.Get("/editors", a.ListEditorsHandler)
			r.Post("/editors", a.StartEditingHandler)
			r.Delete("/editors/{sessionID}", a.StopEditingHandler)
		})
		r.Post("/sessions/{sessionID}/heartbeat", a.HeartbeatHandler)

		if a.database != nil {
			r.Get("/pages", a.ListPagesHandler)
			r.Post("/pages", a.CreatePageHandler)
			r.Get("/pages/{pageID}", a.GetPageHandler)
		}
	})

	if opts.WebSocket != nil {
		for _, prefix := range opts.WSPrefixes {
			prefix = strings.TrimSuffix(prefix, "/")
			r.Handle(prefix, opts.WebSocket)
			r.Handle(prefix+"/*", opts.WebSocket)
		}
	}

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Debug("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
