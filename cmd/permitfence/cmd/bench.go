package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yourusername/permitfence/metrics"
	"github.com/yourusername/permitfence/pkg/permitfence"
)

var benchCmd = &cobra.Command{
	Use:   "bench KEY",
	Short: "Drive concurrent acquisitions against a key",
	Long: `Run --workers goroutines that acquire permits on KEY for --duration,
then print a summary. --rate caps the offered load across all workers
(0 = as fast as the limiter allows). With --timeout, workers use
try-acquire and count rejections instead of waiting.

Run the same command from several hosts against one Redis to watch
them share a single limit.

Example:
  permitfence bench payments --workers 8 --rate 200 --duration 30s --metrics-addr :9100`,
	Args: cobra.ExactArgs(1),
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("workers", 4, "concurrent callers")
	benchCmd.Flags().Float64("rate", 0, "offered requests per second across all workers (0 = unlimited)")
	benchCmd.Flags().Duration("duration", 10*time.Second, "how long to run")
	benchCmd.Flags().Int64("tokens", 1, "permits per request")
	benchCmd.Flags().Duration("timeout", 0, "use try-acquire with this timeout instead of acquire")
	benchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	addLimiterFlags(benchCmd)
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")
	offered, _ := cmd.Flags().GetFloat64("rate")
	duration, _ := cmd.Flags().GetDuration("duration")
	tokens, _ := cmd.Flags().GetInt64("tokens")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if workers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", workers)
	}

	rt, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	limiter, err := rt.limiter(cmd, args[0])
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.promReg, promhttp.HandlerOpts{}))
		mux.Handle("/snapshot", snapshotHandler(rt.metrics))

		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		rt.logger.Info("serving metrics", "addr", metricsAddr)
	}

	pacer := rate.NewLimiter(rate.Inf, workers)
	if offered > 0 {
		pacer = rate.NewLimiter(rate.Limit(offered), workers)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	rt.logger.Info("bench started",
		"key", limiter.Key(),
		"workers", workers,
		"rate", offered,
		"duration", duration)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return benchWorker(gctx, limiter, pacer, tokens, timeout)
		})
	}
	if err := g.Wait(); err != nil {
		rt.logger.Error("bench aborted", "key", limiter.Key(), "error", err)
		return err
	}

	data, err := json.MarshalIndent(rt.metrics.GetSnapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// snapshotHandler serves the in-process summary as JSON
func snapshotHandler(m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.GetSnapshot())
	})
}

// benchWorker acquires until ctx ends. Only store failures stop it early.
func benchWorker(ctx context.Context, limiter *permitfence.Limiter, pacer *rate.Limiter, tokens int64, timeout time.Duration) error {
	for {
		if err := pacer.Wait(ctx); err != nil {
			return nil
		}

		var err error
		if timeout > 0 {
			_, err = limiter.TryAcquireN(ctx, tokens, timeout)
		} else {
			_, err = limiter.AcquireN(ctx, tokens)
		}

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	}
}
