package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/health"
	"github.com/jmerrifield20/certledger/internal/registry/handler"
	"github.com/jmerrifield20/certledger/internal/resolver"
	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// serviceName is the grpc.health.v1 service whose status follows upstream readiness.
const serviceName = "certledger.resolver"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("resolver exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	viper.SetConfigName("resolver")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("resolver.http_port", 9091)
	viper.SetDefault("resolver.grpc_port", 9090)
	viper.SetDefault("resolver.registry_url", "http://localhost:8080")
	viper.SetDefault("resolver.cache_ttl", "60s")
	viper.SetDefault("resolver.http_timeout", "5s")
	viper.SetDefault("resolver.eviction_interval", "60s")
	viper.SetDefault("resolver.concurrency", 16)
	viper.SetDefault("resolver.rate_limit_rps", 50)
	viper.SetDefault("health.check_interval", "15s")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	httpPort := viper.GetInt("resolver.http_port")
	grpcPort := viper.GetInt("resolver.grpc_port")
	registryURL := viper.GetString("resolver.registry_url")
	cacheTTL := viper.GetDuration("resolver.cache_ttl")

	// ── Resolver over the registry API ────────────────────────────────────────
	upstream, err := client.New(registryURL, client.WithTimeout(viper.GetDuration("resolver.http_timeout")))
	if err != nil {
		return fmt.Errorf("registry client: %w", err)
	}

	res := resolver.New(upstream, resolver.Config{
		CacheTTL:    cacheTTL,
		Concurrency: viper.GetInt("resolver.concurrency"),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res.StartCacheEviction(ctx, viper.GetDuration("resolver.eviction_interval"))

	checker := health.New(health.Config{CheckInterval: viper.GetDuration("health.check_interval")}, logger,
		health.HTTPProbe("registry", strings.TrimSuffix(registryURL, "/")+"/readyz", nil),
	)
	checker.SetMetricsRecord(handler.RecordHealthCheck)

	// ── gRPC health server ────────────────────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))

	healthSvc := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	reflection.Register(grpcServer)

	go followReadiness(ctx, checker, healthSvc, checker.Interval())

	// ── HTTP API ──────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(handler.PrometheusMiddleware())
	if rps := viper.GetInt("resolver.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}

	handler.NewHealthHandler(checker).Register(router)
	router.GET("/metrics", handler.MetricsHandler())
	handler.NewResolveHandler(res, logger).Register(router.Group("/api/v1"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start both servers ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("resolver gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("resolver HTTP listening",
			zap.Int("port", httpPort),
			zap.String("registry", registryURL),
			zap.Duration("cache_ttl", cacheTTL),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down resolver...")
	healthSvc.Shutdown()
	cancel()

	grpcServer.GracefulStop()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}

	logger.Info("resolver stopped")
	return nil
}

// followReadiness probes the registry on every tick and mirrors the result
// into the gRPC health service.
func followReadiness(ctx context.Context, checker *health.Checker, svc *grpchealth.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if checker.CheckAll(ctx).Ready {
			st = grpc_health_v1.HealthCheckResponse_SERVING
		}
		svc.SetServingStatus(serviceName, st)
		svc.SetServingStatus("", st)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
