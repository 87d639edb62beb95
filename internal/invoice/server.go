package invoice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/zombor/invoice-reader/internal/logging"
)

// RequestIDHeader carries the request id on every response
const RequestIDHeader = "X-Request-ID"

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	MaxUploadBytes int64
	// RateLimit is the number of extractions allowed per minute. Zero disables it.
	RateLimit      int
	AcceptExtended bool
	Version        string
}

// Server handles HTTP requests for invoice extraction
type Server struct {
	service *Service
	config  ServerConfig
	limiter *rate.Limiter
	mux     *http.ServeMux
	handler http.Handler

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, config ServerConfig) *Server {
	return NewServerWithMux(service, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, config ServerConfig, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		config:  config,
		limiter: newLimiter(config.RateLimit),
		mux:     mux,
	}
	s.registerRoutes()
	s.handler = s.withRequestID(s.mux)
	return s
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// withRequestID tags the response and the request logger with a fresh id
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.service.NewRequestID()
		w.Header().Set(RequestIDHeader, id)
		ctx := logging.WithRequestID(r.Context(), id)
		logging.FromContext(ctx).Debug("Request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimited rejects requests over the configured extraction rate
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			logging.FromContext(r.Context()).Warn("Rate limit exceeded", "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusTooManyRequests, errorBody{
				Error: "Too many requests. Please wait a moment and try again.",
			})
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)
	s.mux.HandleFunc("GET /static/app.js", s.handleStaticJS)

	s.mux.HandleFunc("POST /api/invoices", s.rateLimited(s.handleUploadInvoice))
	s.mux.HandleFunc("POST /api/exports", s.handleExport)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

func corsHandler(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{RequestIDHeader, "Content-Disposition"},
		MaxAge:         3600,
	}).Handler(next)
}

// Start starts the HTTP server and blocks until it stops. A server stopped
// by Shutdown returns nil.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           corsHandler(s.handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
