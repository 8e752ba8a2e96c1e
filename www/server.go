package www

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/elpris-go/config"
)

type Server struct {
	logger *slog.Logger
	config config.AppConfigApi
	mux    *http.ServeMux
	hub    *Hub
}

// NewServer wires the query routes. hub and logs are optional. queryTimeout
// bounds the store calls made by the health check.
func NewServer(opt Optimizer, store HealthStore, hub *Hub, logs LogReader, config config.AppConfigApi, queryTimeout time.Duration) *Server {
	logger := slog.Default().With("module", "www")
	s := &Server{
		logger: logger,
		config: config,
		mux:    http.NewServeMux(),
		hub:    hub,
	}

	logReqMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
				slog.String("remoteAddr", r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}

	s.mux.Handle("GET /cheapest-hour", logReqMW(NewCheapestHourHandler(
		logger.With(slog.String("handler", "cheapest_hour")),
		opt,
		time.Now)))

	s.mux.Handle("GET /cheapest-sequence-start", logReqMW(NewCheapestSequenceHandler(
		logger.With(slog.String("handler", "cheapest_sequence_start")),
		opt,
		time.Now)))

	s.mux.Handle("GET /health", NewHealthHandler(
		logger.With(slog.String("handler", "health")),
		store,
		queryTimeout,
		time.Now))

	if logs != nil {
		s.mux.Handle("GET /log", logReqMW(NewLogHandler(
			logger.With(slog.String("handler", "log")),
			logs)))
	}

	if hub != nil {
		s.mux.HandleFunc("GET /ws", hub.ServeWS)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server...", "addr", s.config.Addr())
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErrors := make(chan error, 1)
	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	select {
	case err := <-srvErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.Any("error", err))
			return err
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*5)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
