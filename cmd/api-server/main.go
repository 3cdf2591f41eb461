// Package main provides the AutoForensics analysis API server
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autoforensics/autoforensics/pkg/events"
	"github.com/autoforensics/autoforensics/pkg/handler"
	"github.com/autoforensics/autoforensics/pkg/postgres"
	"github.com/autoforensics/autoforensics/pkg/upload"
)

// Config holds the API server configuration
type Config struct {
	// Server settings
	HTTPAddr string
	HTTPPort int

	// Upload storage
	UploadDir       string
	UploadRetention time.Duration

	// External services. PostgresURL may be empty, in which case report
	// archival is disabled and the service runs analysis-only.
	NATSUrl     string
	PostgresURL string

	// CORS settings
	CORSOrigins []string

	// Logging
	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        "0.0.0.0",
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		UploadDir:       getEnv("UPLOAD_DIR", "uploads"),
		UploadRetention: getEnvDuration("UPLOAD_RETENTION", 24*time.Hour),
		NATSUrl:         getEnv("NATS_URL", "nats://localhost:4222"),
		PostgresURL:     os.Getenv("POSTGRES_URL"),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogJSON:         getEnv("LOG_JSON", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// Prometheus metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoforensics_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoforensics_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	wsConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoforensics_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	natsConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoforensics_nats_connection_status",
			Help: "NATS connection status (1=connected, 0=disconnected)",
		},
	)

	dbConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoforensics_db_connection_status",
			Help: "Database connection status (1=connected, 0=disconnected)",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(wsConnectionsActive)
	prometheus.MustRegister(natsConnectionStatus)
	prometheus.MustRegister(dbConnectionStatus)
}

func main() {
	cfg := DefaultConfig()

	// Setup logging
	setupLogging(cfg)

	log.Info().
		Str("upload_dir", cfg.UploadDir).
		Str("nats_url", cfg.NATSUrl).
		Bool("archive_enabled", cfg.PostgresURL != "").
		Int("http_port", cfg.HTTPPort).
		Msg("Starting AutoForensics API server")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// Prepare upload storage
	store, err := upload.NewStore(cfg.UploadDir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("Failed to prepare upload directory")
	}

	// Connect to services
	nc, db, err := connectServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to services")
	}
	defer func() {
		if nc != nil {
			nc.Close()
		}
		if db != nil {
			db.Close()
		}
	}()

	publisher := events.NewPublisher(nc, log.Logger)

	// Create WebSocket hub
	wsHub := handler.NewWebSocketHub(nc, log.Logger)

	// Create router
	router := setupRouter(cfg, store, db, publisher, wsHub)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start services
	g, gCtx := errgroup.WithContext(ctx)

	// Start WebSocket hub
	g.Go(func() error {
		wsHub.Run(gCtx)
		return nil
	})

	// Periodically purge stale uploads
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				removed, err := store.CleanupOlderThan(cfg.UploadRetention)
				if err != nil {
					log.Warn().Err(err).Msg("Upload cleanup failed")
					continue
				}
				if removed > 0 {
					log.Info().Int("removed", removed).Msg("Purged stale uploads")
				}
			}
		}
	})

	// Update WebSocket connection gauge periodically
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				wsConnectionsActive.Set(float64(wsHub.ClientCount()))
			}
		}
	})

	// Start HTTP server
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("AutoForensics API server shutdown complete")
}

func setupLogging(cfg Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

func connectServices(ctx context.Context, cfg Config) (*nats.Conn, *postgres.Pool, error) {
	var nc *nats.Conn
	var db *postgres.Pool
	var err error

	// Connect to NATS
	nc, err = nats.Connect(cfg.NATSUrl,
		nats.Name("autoforensics-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			natsConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
			natsConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without real-time updates")
		nc = nil
	} else {
		log.Info().Str("url", cfg.NATSUrl).Msg("Connected to NATS")
		natsConnectionStatus.Set(1)
	}

	// Connect to PostgreSQL when configured
	if cfg.PostgresURL == "" {
		log.Info().Msg("POSTGRES_URL not set, report archival disabled")
		return nc, nil, nil
	}

	db, err = postgres.NewPoolFromURL(ctx, cfg.PostgresURL)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		if nc != nil {
			nc.Close()
		}
		db.Close()
		return nil, nil, fmt.Errorf("failed to ensure report schema: %w", err)
	}
	log.Info().Msg("Connected to PostgreSQL")
	dbConnectionStatus.Set(1)

	return nc, db, nil
}

func setupRouter(cfg Config, store *upload.Store, db *postgres.Pool, publisher *events.Publisher, wsHub *handler.WebSocketHub) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(prometheusMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", healthHandler(db, wsHub))

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint
	wsHandler := handler.NewWebSocketHandler(wsHub, cfg.CORSOrigins, log.Logger)
	r.Handle("/ws", wsHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Upload handlers
		uploadHandler := handler.NewUploadHandler(store, log.Logger)
		r.Mount("/upload", uploadHandler.Routes())

		// Analysis handlers
		analyzeHandler := handler.NewAnalyzeHandler(store, db, publisher, log.Logger)
		r.Mount("/analyze", analyzeHandler.Routes())

		// Report archive handlers
		reportsHandler := handler.NewReportsHandler(db, log.Logger)
		r.Mount("/reports", reportsHandler.Routes())
	})

	return r
}

// correlationIDMiddleware adds a correlation ID to each request
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := handler.WithCorrelationID(r.Context(), correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each HTTP request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		correlationID := handler.GetCorrelationID(r.Context())

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Str("correlation_id", correlationID).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// prometheusMiddleware records HTTP metrics
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	Components    map[string]string `json:"components"`
	CorrelationID string            `json:"correlation_id"`
}

var startTime = time.Now()

func healthHandler(db *postgres.Pool, wsHub *handler.WebSocketHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		correlationID := handler.GetCorrelationID(ctx)

		response := HealthResponse{
			Status:        "healthy",
			Version:       "1.0.0",
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			Components:    make(map[string]string),
			CorrelationID: correlationID,
		}

		// Check PostgreSQL
		if db == nil {
			response.Components["postgres"] = "disabled"
		} else if err := db.Health(ctx); err != nil {
			response.Components["postgres"] = "unhealthy: " + err.Error()
			response.Status = "degraded"
			dbConnectionStatus.Set(0)
		} else {
			response.Components["postgres"] = "healthy"
			dbConnectionStatus.Set(1)
		}

		// Check NATS via the hub's connection state
		if wsHub.Connected() {
			response.Components["nats"] = "connected"
			natsConnectionStatus.Set(1)
		} else {
			response.Components["nats"] = "disconnected"
			natsConnectionStatus.Set(0)
		}

		status := http.StatusOK
		if response.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}

		handler.WriteJSON(w, status, response)
	}
}
