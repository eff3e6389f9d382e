package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"audibridge/internal/acquisition"
	"audibridge/internal/auth"
	"audibridge/internal/config"
	"audibridge/internal/library"
	"audibridge/internal/logging"
	"audibridge/internal/metrics"
	"audibridge/internal/services"
	"audibridge/internal/store"
)

// maxRequestBody bounds JSON request bodies; credentials and login URLs are
// small.
const maxRequestBody = 1 << 20

// jobLedger is the read side of the job ledger the API exposes.
type jobLedger interface {
	ListJobs(ctx context.Context, limit int) ([]*store.JobRecord, error)
	GetJob(ctx context.Context, id string) (*store.JobRecord, error)
	Ping(ctx context.Context) error
}

type apiServer struct {
	cfg     *config.Config
	bind    string
	version string
	logger  *slog.Logger
	auth    *auth.Service
	lister  *library.Lister
	pool    *acquisition.Pool
	jobs    jobLedger
	metrics *metrics.Metrics

	router   chi.Router
	listener net.Listener
	server   *http.Server
}

type apiDeps struct {
	auth    *auth.Service
	lister  *library.Lister
	pool    *acquisition.Pool
	jobs    jobLedger
	metrics *metrics.Metrics
	version string
	logger  *slog.Logger
}

func newAPIServer(cfg *config.Config, deps apiDeps) *apiServer {
	s := &apiServer{
		cfg:     cfg,
		bind:    strings.TrimSpace(cfg.API.Bind),
		version: deps.version,
		logger:  logging.NewComponentLogger(deps.logger, "api-server"),
		auth:    deps.auth,
		lister:  deps.lister,
		pool:    deps.pool,
		jobs:    deps.jobs,
		metrics: deps.metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestContext)
	r.Use(apiKeyMiddleware(cfg.API.APIKey))

	s.post(r, "/get_login_url", s.handleGetLoginURL)
	s.post(r, "/do_login", s.handleDoLogin)
	s.post(r, "/refresh_audible_tokens", s.handleRefreshTokens)
	s.post(r, "/get_activation_bytes", s.handleActivationBytes)
	s.post(r, "/audible_get_library", s.handleLibrary)
	s.post(r, "/audible_download_aaxc", s.handleDownloadAAXC)
	s.post(r, "/audible_download_file", s.handleDownloadFile)

	s.get(r, "/jobs", s.handleListJobs)
	s.get(r, "/jobs/{id}", s.handleGetJob)
	s.get(r, "/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) post(r chi.Router, pattern string, h http.HandlerFunc) {
	r.Method(http.MethodPost, pattern, s.metrics.Instrument(pattern, h))
}

func (s *apiServer) get(r chi.Router, pattern string, h http.HandlerFunc) {
	r.Method(http.MethodGet, pattern, s.metrics.Instrument(pattern, h))
}

// requestContext copies chi's request id into the context key the loggers
// read.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api.bind is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// Requests, and the download jobs they run, end with the daemon.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// decodeBody reads a JSON object into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return services.Wrap(services.ErrValidation, "api", "decode", "request body is not valid JSON", err)
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// fail maps err onto its HTTP status and logs server-side faults.
func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	status := services.HTTPStatus(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, prefix, "request_failed",
			logging.String("route", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	} else {
		logger.Info(prefix,
			logging.String(logging.FieldEventType, "request_rejected"),
			logging.String("route", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeError(w, status, prefix+": "+err.Error())
}
