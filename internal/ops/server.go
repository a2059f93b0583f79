// Package ops поднимает служебный HTTP-сервер: /healthz и /metrics.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/metrics"
)

// Pinger: проверка доступности зависимости (БД).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server: служебный HTTP-сервер.
type Server struct {
	srv *http.Server
}

// NewServer создаёт сервер на addr. db может быть nil.
func NewServer(addr string, db Pinger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(db),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewRouter собирает маршруты.
func NewRouter(db Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.WithError(err).Warn("healthz: БД недоступна")
				status, code = "db unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// Start запускает сервер в фоне.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.srv.Addr).Info("Служебный HTTP-сервер запущен")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Ошибка служебного HTTP-сервера")
		}
	}()
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
