// Package http serves the expense tracker UI: full pages, htmx partials
// that re-render from the live view cache, and a server-sent event stream
// that tells clients when to refresh.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"outlay/internal/fx"
	"outlay/internal/identity"
	applog "outlay/internal/log"
	"outlay/internal/objstore"
	"outlay/internal/receipts"
	"outlay/internal/services"
	appweb "outlay/web"
)

const sessionCookie = "outlay_session"

// Deps carries everything the server needs.
type Deps struct {
	Views     *Registry
	Expenses  *services.ExpenseService
	Resolver  *receipts.Resolver
	Identity  *identity.SessionProvider
	Converter *fx.Converter

	// Logger backs the request-scoped context logger; nil means a default
	// text logger.
	Logger *applog.Logger

	// ReceiptStore serves /receipts/* directly; nil when receipts live in
	// an external bucket and signed URLs point there instead.
	ReceiptStore *objstore.DiskStore

	TrustedProxies []string
}

type Server struct {
	http.Server
	templates *template.Template

	views     *Registry
	expenses  *services.ExpenseService
	resolver  *receipts.Resolver
	ident     *identity.SessionProvider
	converter *fx.Converter
	store     *objstore.DiskStore

	rateLimiter *rateLimiter
	metrics     *securityMetrics
	proxies     []*net.IPNet

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// server.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		views:       deps.Views,
		expenses:    deps.Expenses,
		resolver:    deps.Resolver,
		ident:       deps.Identity,
		converter:   deps.Converter,
		store:       deps.ReceiptStore,
		rateLimiter: newRateLimiter(),
		metrics:     &securityMetrics{},
		proxies:     trustedNetworks(deps.TrustedProxies),
	}

	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	httplog := logger.WithComponent(applog.ComponentHTTP)

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		httplog.Warn("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	r := chi.NewRouter()
	r.Use(applog.Middleware(httplog))
	r.Use(applog.RequestIDMiddleware(func(*http.Request) string { return generateRequestID() }))
	r.Use(s.withSecurity)
	r.Use(s.withSession)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.Handle("/static/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
	} else {
		httplog.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	r.Get("/", s.handleIndex)
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Post("/session", s.handleSignIn)
	r.Post("/session/signout", s.handleSignOut)

	r.Post("/expenses", s.handleCreateExpense)
	r.Post("/expenses/{id}/claim", s.handleUpdateClaim)
	r.Delete("/expenses/{id}", s.handleDeleteExpense)

	r.Get("/ui/expenses", s.handleExpenseTable)
	r.Get("/ui/claims", s.handleClaims)
	r.Get("/ui/breakdown", s.handleBreakdown)
	r.Get("/events", s.handleEvents)

	if s.store != nil {
		r.Get("/receipts/*", s.handleReceipt)
	}

	s.Server = http.Server{Addr: addr, Handler: r}
	return s
}

// withSecurity adds request logging, rate limiting on mutations, and
// security headers.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := extractClientIP(r, s.proxies)
		ctx := r.Context()
		logger := applog.FromContext(ctx)

		if detectSuspiciousRequest(r, s.metrics) {
			logger.WithComponent(applog.ComponentSecurity).WarnContext(ctx, "Suspicious request",
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				applog.FieldClientIP, clientIP)
		}

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.metrics) {
			logger.WithComponent(applog.ComponentSecurity).WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.InfoContext(ctx, "Request completed",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, duration.Milliseconds(),
			applog.FieldClientIP, clientIP)
	})
}

// withSession moves the session cookie into the request context so the
// identity provider can resolve the user.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
			r = r.WithContext(identity.WithToken(r.Context(), cookie.Value))
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming support through for the event stream.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.templates == nil {
		http.Error(w, "templates not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown stops background routines and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		s.views.CloseAll()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
