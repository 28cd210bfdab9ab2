package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/chatgateway/api/handlers"
	"github.com/BaSui01/chatgateway/config"
	"github.com/BaSui01/chatgateway/internal/cache"
	"github.com/BaSui01/chatgateway/internal/metrics"
	"github.com/BaSui01/chatgateway/internal/ollama"
	"github.com/BaSui01/chatgateway/internal/ratelimit"
	"github.com/BaSui01/chatgateway/internal/server"
	"github.com/BaSui01/chatgateway/internal/session"
	"github.com/BaSui01/chatgateway/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// authExemptPaths 不需要 API key 的探针端点
var authExemptPaths = []string{"/healthz", "/readyz", "/version"}

// Server 持有网关进程的全部组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	ollama     *ollama.Client
	limiter    *ratelimit.Limiter
	aggregator *metrics.Aggregator
	collector  *metrics.Collector
	translator *session.Translator
	cache      *cache.Manager
	telemetry  *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer wires every component from cfg. Nothing listens until Run.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		// 遥测失败不影响服务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	s.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	s.aggregator = metrics.NewAggregator(cfg.Metrics.WindowSize)

	s.limiter, err = ratelimit.New(ratelimit.Config{
		Rate:          cfg.RateLimit.RPS,
		Burst:         cfg.RateLimit.Burst,
		Shards:        cfg.RateLimit.Shards,
		MaxIdentities: cfg.RateLimit.MaxIdentities,
	})
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	s.ollama = ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		ConnectTimeout: cfg.Ollama.ConnectTimeout,
		RequestTimeout: cfg.Ollama.RequestTimeout,
	}, logger)

	s.translator = session.NewTranslator(s.ollama, s.limiter, s.aggregator,
		session.Config{
			DefaultModel:    cfg.Ollama.DefaultModel,
			MaxTurnDuration: cfg.Session.MaxTurnDuration,
		},
		logger,
		session.WithObserver(s.collector),
	)

	if cfg.Cache.Enabled {
		s.cache, err = cache.NewManager(cache.Config{
			Enabled:   true,
			Addr:      cfg.Cache.Addr,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			ModelsTTL: cfg.Cache.ModelsTTL,
			PoolSize:  cfg.Cache.PoolSize,
			TLS:       cfg.Cache.TLS,
		}, logger)
		if err != nil {
			// Redis 不可用时退化为不缓存
			logger.Warn("model cache disabled", zap.Error(err))
			s.cache = nil
		}
	}

	s.httpManager = server.NewManager("api", s.routes(), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager("metrics", metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// routes 构建 API 路由与中间件链
func (s *Server) routes() http.Handler {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("ollama", s.ollama.Ping))
	if s.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	// cache 关闭时必须传 nil 接口
	var modelCache handlers.ModelCache
	if s.cache != nil {
		modelCache = s.cache
	}

	chat := handlers.NewChatHandler(s.translator, s.logger)
	models := handlers.NewModelsHandler(s.translator, modelCache, s.cfg.Cache.ModelsTTL, s.collector, s.logger)
	stats := handlers.NewMetricsHandler(s.aggregator)
	ws := handlers.NewWebSocketHandler(s.translator, originHosts(s.cfg.Server.CORSAllowedOrigins), s.collector, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(handlers.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))
	mux.HandleFunc("GET /api/models", models.HandleList)
	mux.HandleFunc("POST /api/chat", chat.HandleChat)
	mux.HandleFunc("GET /api/metrics", stats.HandleMetrics)
	mux.HandleFunc("GET /ws/chat", ws.HandleWebSocket)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		SecurityHeaders(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		APIKeyAuth(s.cfg.Server.APIKeys, s.cfg.Server.APIKeyOptional, authExemptPaths, s.logger),
	)
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run serves until ctx is cancelled or a server fails, then shuts every
// component down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting chatgateway",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("ollama", s.cfg.Ollama.BaseURL),
		zap.Bool("cache", s.cache != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })

	err := g.Wait()
	if closeErr := s.close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

func (s *Server) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("chatgateway stopped")
	return errors.Join(errs...)
}

// originHosts converts allowed origins such as "http://localhost:5173" into
// the host patterns the WebSocket handshake matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
