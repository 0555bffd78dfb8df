package gateway

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sdlq/internal/config"
	"sdlq/internal/history"
	"sdlq/internal/middleware"
	"sdlq/internal/useragent"
)

// Config wires the gateway's dependencies. History may be nil, in which
// case runs are not recorded and the history routes return 500.
type Config struct {
	Settings  *config.Config
	History   *history.Store
	UserAgent string
	Logger    *slog.Logger
}

// NewRouter assembles the gateway routes with request-id, logging,
// recovery, CORS, and rate-limit middleware.
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = useragent.String("gateway")
	}

	origins := cfg.Settings.CORSAllowedOrigins
	if cfg.Settings.IsProduction() && slices.Contains(origins, "*") {
		return nil, fmt.Errorf("CORS wildcard (*) is not allowed when SDLQ_ENV=%s", cfg.Settings.Environment)
	}

	h := &Handler{
		settings:  cfg.Settings,
		store:     cfg.History,
		userAgent: userAgent,
		logger:    logger,
		startTime: time.Now(),
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Settings.RateLimitRPS,
		Burst:             cfg.Settings.RateLimitBurst,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(limiter.Middleware)

	r.Get("/healthz", h.handleHealthz)
	r.Route("/v1/queries", func(r chi.Router) {
		r.Post("/run", h.handleRunQuery)
		r.Get("/history", h.handleListHistory)
		r.Get("/history/{id}", h.handleGetHistory)
	})
	return r, nil
}

// ValidateListenAddr rejects non-loopback binds unless remote access was
// explicitly enabled.
func ValidateListenAddr(addr string, allowRemote bool) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if allowRemote {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("refusing to bind %q: set SDLQ_ALLOW_REMOTE_ACCESS=true to listen on a non-loopback address", addr)
}
