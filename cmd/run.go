package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/api"
	"github.com/patchtrace/patchtrace/internal/batch"
	"github.com/patchtrace/patchtrace/internal/capability"
	"github.com/patchtrace/patchtrace/internal/dataset"
	"github.com/patchtrace/patchtrace/internal/extract"
	"github.com/patchtrace/patchtrace/internal/fetch"
	"github.com/patchtrace/patchtrace/internal/progress"
	"github.com/patchtrace/patchtrace/internal/progress/sinks"
	"github.com/patchtrace/patchtrace/internal/ratelimit"
	"github.com/patchtrace/patchtrace/internal/resolver"
)

// newRunCmd creates the 'run' subcommand, which executes one batch over a
// record set and merges the results back into it.
func newRunCmd() *cobra.Command {
	var (
		datasetPath string
		forceRerun  bool
		backup      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolves every advisory URL in a record set",
		Long: `Loads the record set, resolves each unique advisory URL once, and
merges download links and remediation summaries back into the file. A record
set that already carries the completion marker is skipped unless --force is
given.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ok := runtimeFrom(cmd.Context())
			if !ok {
				return errors.New("runtime not initialized")
			}
			return runBatch(cmd.Context(), rt, datasetPath, batch.Options{
				ForceRerun:   forceRerun,
				CreateBackup: backup,
			})
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "", "path to the CSV record set (required)")
	cmd.Flags().BoolVar(&forceRerun, "force", false, "re-resolve even if the record set was already processed")
	cmd.Flags().BoolVar(&backup, "backup", true, "write a timestamped backup before overwriting")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func runBatch(parent context.Context, rt *runtime, datasetPath string, opts batch.Options) error {
	cfg, logger := rt.cfg, rt.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prober := capability.New(capability.Config{
		HeadlessEnabled:  cfg.Headless.Enabled,
		VendorAPIBaseURL: cfg.VendorAPI.BaseURL,
		BrowserPath:      cfg.Headless.BrowserPath,
	}, logger.Named("capability"))

	controller := ratelimit.New(ratelimit.Config{
		MinInterval: time.Duration(cfg.RateLimit.MinIntervalMs) * time.Millisecond,
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		BaseDelay:   time.Duration(cfg.RateLimit.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RateLimit.MaxDelayMs) * time.Millisecond,
	}, logger.Named("ratelimit"))

	static := fetch.NewStatic(fetch.StaticConfig{
		UserAgent: cfg.Pipeline.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})

	var headless advisory.FetchStrategy
	if cfg.Headless.Enabled {
		hf, err := fetch.NewHeadless(fetch.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Pipeline.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			BrowserPath:       cfg.Headless.BrowserPath,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			defer hf.Close()
		}
	}

	var vendorAPI *fetch.VendorAPIFetcher
	if cfg.VendorAPI.BaseURL != "" {
		vendorAPI = fetch.NewVendorAPI(fetch.VendorAPIConfig{
			BaseURL:   cfg.VendorAPI.BaseURL,
			UserAgent: cfg.Pipeline.UserAgent,
			Timeout:   time.Duration(cfg.VendorAPI.TimeoutSeconds) * time.Second,
		})
	}

	chain := fetch.NewChain(fetch.ChainConfig{
		UserAgent:       cfg.Pipeline.UserAgent,
		MinContentBytes: cfg.Pipeline.MinContentBytes,
	}, controller, static, headless, vendorAPI, logger.Named("fetch"))

	registry := extract.NewRegistry(logger.Named("extract"))

	res := resolver.New(chain, registry, resolver.Config{
		CourtesyDelayMin: time.Duration(cfg.Pipeline.CourtesyDelayMinMs) * time.Millisecond,
		CourtesyDelayMax: time.Duration(cfg.Pipeline.CourtesyDelayMaxMs) * time.Millisecond,
	}, logger.Named("resolver"))

	promReg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(promReg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	snapshot := sinks.NewSnapshotSink()
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		snapshot,
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close", zap.Error(cerr))
		}
	}()

	if cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(snapshot, prober, promReg, logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server started", zap.Int("port", cfg.Server.Port))
			if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				logger.Error("status server error", zap.Error(serr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("status server shutdown", zap.Error(serr))
			}
		}()
	}

	orch := batch.New(res, prober, hub, dataset.Config{
		URLColumn:    cfg.Dataset.URLColumn,
		MarkerColumn: cfg.Dataset.MarkerColumn,
		Delimiter:    cfg.Dataset.Delimiter,
	}, logger.Named("batch"))

	type runResult struct {
		summary advisory.Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, rerr := orch.Run(ctx, datasetPath, opts)
		done <- runResult{summary: summary, err: rerr}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			fmt.Println()
			if r.err != nil {
				return r.err
			}
			printSummary(r.summary)
			return nil
		case <-ticker.C:
			snap := snapshot.Current()
			if snap.Running {
				fmt.Printf("\r[%d/%d] success=%d failed=%d blocked=%d empty=%d links=%d",
					snap.Current, snap.Total,
					snap.SuccessCount, snap.FailedCount, snap.BlockedCount, snap.EmptyCount,
					snap.LinksFound,
				)
			}
		}
	}
}

func printSummary(s advisory.Summary) {
	if s.AlreadyDone {
		fmt.Println("record set already processed; use --force to re-resolve")
		return
	}
	fmt.Printf("resolved %d URLs in %s: %d ok, %d failed, %d empty, %d download links\n",
		s.TotalURLs, s.Elapsed.Round(time.Millisecond),
		s.SuccessCount, s.FailedCount, s.EmptyCount, s.LinksFound,
	)
	for kind, count := range s.ErrorBreakdown {
		fmt.Printf("  %s: %d\n", kind, count)
	}
}
