package http

import (
	"context"
	"io/fs"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/cors"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/middleware/ratelimit"
	"kakeibo/internal/middleware/security"
	"kakeibo/internal/middleware/trace"
	appweb "kakeibo/web"
)

// ExpenseAPI is what the handlers need from the expense service.
type ExpenseAPI interface {
	ListExpenses(ctx context.Context) ([]core.Expense, error)
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
	CheckConnectivity(ctx context.Context) error
}

// Options tunes the middleware around the router. Zero values are usable.
type Options struct {
	Logger             *applog.Logger
	Metrics            *metrics.Metrics
	CORSAllowedOrigins []string
	// RateLimitPerMinute bounds mutating requests per client. 0 disables it.
	RateLimitPerMinute int
	TrustedProxies     []string
}

// Server wraps http.Server with the expense API routes.
type Server struct {
	http.Server

	expenses ExpenseAPI
	logger   *applog.Logger
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	clientIP *security.ClientIPResolver
	now      func() time.Time

	shutdownOnce sync.Once
}

// readyTimeout bounds the connectivity check behind /api/ready.
const readyTimeout = 5 * time.Second

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, expenses ExpenseAPI, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		expenses: expenses,
		logger:   logger,
		metrics:  opts.Metrics,
		clientIP: security.NewClientIPResolver(),
		now:      time.Now,
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.clientIP.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}
	if opts.RateLimitPerMinute > 0 {
		cfg := ratelimit.DefaultConfig()
		cfg.RequestsPerMinute = opts.RateLimitPerMinute
		s.limiter = ratelimit.NewLimiter(cfg)
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.middleware(mux, opts.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)

	// Known paths with an unsupported method answer 405 in the envelope.
	for path, allow := range map[string]string{
		"/api/expenses":      "GET, POST",
		"/api/expenses/{id}": "DELETE",
		"/api/health":        "GET",
		"/api/ready":         "GET",
	} {
		mux.HandleFunc(path, methodNotAllowed(allow))
	}
	mux.HandleFunc("/api/", handleAPINotFound)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Static assets (served from embedded FS)
	sub, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		s.logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
		return
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, sub, "index.html")
	})
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServerFS(sub))))
}

// middleware wraps mux, innermost first. Only the recoverer, which passes the
// same *http.Request through, sits between metrics and the mux, so the
// pattern the mux sets is visible to metrics.
func (s *Server) middleware(mux http.Handler, allowedOrigins []string) http.Handler {
	h := s.recoverer(mux)
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	if s.limiter != nil {
		h = s.limiter.Middleware(s.clientIP.ClientIP, s.onRateLimited)(h)
	}
	h = trace.NewMiddleware(s.logger, s.clientIP.ClientIP).Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", trace.RequestIDHeader},
		ExposedHeaders: []string{trace.RequestIDHeader, "Retry-After"},
		MaxAge:         600,
	})
	return c.Handler(h)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.RateLimited()
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.clientIP.ClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	TooManyRequestsError().Write(w)
}

// recoverer turns a handler panic into a 500 envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Handler panic recovered",
				"panic", rec,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				applog.FieldErrorType, applog.ErrorTypeInternal,
				"stack", string(debug.Stack()))
			InternalServerError(MsgInternalError).Write(w)
		}()
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
