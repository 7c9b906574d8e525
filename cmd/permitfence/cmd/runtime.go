package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourusername/permitfence/metrics"
	"github.com/yourusername/permitfence/pkg/permitfence"
	"github.com/yourusername/permitfence/store"
)

// runtime holds everything a command needs to talk to the limiters.
type runtime struct {
	logger   *slog.Logger
	config   *permitfence.Config
	registry *permitfence.Registry
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry

	closers []func(context.Context) error
}

func newRuntime(ctx context.Context) (*runtime, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		logger:  logger,
		config:  cfg,
		promReg: prometheus.NewRegistry(),
	}
	rt.metrics = metrics.NewMetrics(rt.promReg)

	s, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []permitfence.Option{
		permitfence.WithConfig(cfg),
		permitfence.WithLogger(logger),
		permitfence.WithMetrics(rt.metrics),
	}

	if traceOut {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		rt.closers = append(rt.closers, tp.Shutdown)
		opts = append(opts, permitfence.WithTracerProvider(tp))
	}

	rt.registry, err = permitfence.NewRegistry(s, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) (store.Store, error) {
	if rt.config.Store.Addr == "" {
		rt.logger.Warn("no store address configured, limits are local to this process")
		return store.NewMemoryStore(), nil
	}

	redisStore := store.NewRedisStore(store.RedisConfig{
		Addr:     rt.config.Store.Addr,
		Password: rt.config.Store.Password,
		DB:       rt.config.Store.DB,
		Prefix:   rt.config.Store.Prefix,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisStore.Ping(pingCtx); err != nil {
		_ = redisStore.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", rt.config.Store.Addr, err)
	}

	rt.logger.Debug("connected to Redis", "addr", rt.config.Store.Addr)
	rt.closers = append(rt.closers, func(context.Context) error { return redisStore.Close() })
	return redisStore, nil
}

// limiter returns the limiter for key, using --pps/--burst when given and
// the configuration otherwise.
func (rt *runtime) limiter(cmd *cobra.Command, key string) (*permitfence.Limiter, error) {
	if !cmd.Flags().Changed("pps") && !cmd.Flags().Changed("burst") {
		return rt.registry.Get(key)
	}

	configured := rt.config.LimiterFor(key)
	pps, burst := configured.PermitsPerSecond, configured.MaxBurstSeconds
	if cmd.Flags().Changed("pps") {
		pps, _ = cmd.Flags().GetInt64("pps")
	}
	if cmd.Flags().Changed("burst") {
		burst, _ = cmd.Flags().GetInt64("burst")
	}
	return rt.registry.GetOrCreate(key, pps, burst)
}

// Close releases the store connection and flushes spans.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Error("shutdown failed", "error", err)
		}
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// addLimiterFlags registers the flags shared by every command that works on one key.
func addLimiterFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("pps", 0, "permits per second (default: from config)")
	cmd.Flags().Int64("burst", 0, "max burst seconds (default: from config)")
}
