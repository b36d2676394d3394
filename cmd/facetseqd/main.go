// Command facetseqd is the sequencer process entrypoint: it loads
// configuration from the environment (spec.md §6), opens the durable Store,
// dials L1 and L2, wires every component, and runs until an interrupt
// signal arrives. Per SPEC_FULL.md's Non-goals, CLI argument parsing beyond
// this minimal env-driven main is out of scope — there is no flag package
// or cli.App here, unlike the teacher's own cmd/geth.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gethlog "github.com/ethereum/go-ethereum/log"

	"github.com/0xfacet/facet-sequencer/internal/aggregator"
	"github.com/0xfacet/facet-sequencer/internal/batchmaker"
	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/ingress"
	"github.com/0xfacet/facet-sequencer/internal/l1client"
	"github.com/0xfacet/facet-sequencer/internal/l2client"
	"github.com/0xfacet/facet-sequencer/internal/metrics"
	"github.com/0xfacet/facet-sequencer/internal/monitor"
	"github.com/0xfacet/facet-sequencer/internal/poster"
	"github.com/0xfacet/facet-sequencer/internal/rpcserver"
	"github.com/0xfacet/facet-sequencer/internal/sequencer"
	"github.com/0xfacet/facet-sequencer/internal/signer"
	"github.com/0xfacet/facet-sequencer/internal/store"
)

// monitorPollInterval is the Inclusion Monitor's tick period. It is not an
// independently tunable environment variable (spec.md §6 names no such
// knob); 12s tracks typical L1 block time.
const monitorPollInterval = 12 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "facetseqd: config:", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		gethlog.Crit("facetseqd: fatal", "err", err)
	}
}

func run(cfg *config.Config) error {
	s, err := store.Open(cfg.DBPath, cfg.StoreBusyTimeout)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	l1, err := l1client.Dial(cfg.L1RPCURL)
	if err != nil {
		return fmt.Errorf("dial l1: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l2, err := l2client.Dial(ctx, cfg.L2RPCURL)
	if err != nil {
		return fmt.Errorf("dial l2: %w", err)
	}

	var sg signer.Signer
	var agg aggregator.Client
	if cfg.UseDABuilder {
		agg = aggregator.New(cfg.DABuilderURL)
	} else {
		sg, err = signer.NewFromHex(cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("load signer key: %w", err)
		}
	}

	m, metricsHandler := metrics.New()

	in := ingress.New(cfg, s, signer.NewRecoverer())
	bm := batchmaker.New(cfg, s, l1, m)
	p := poster.New(cfg, s, l1, sg, agg, m)
	mon := monitor.New(cfg, s, l1, l2, monitorPollInterval, m)
	seq := sequencer.New(cfg, bm, p, mon)

	rpc := rpcserver.New(cfg, in, s, l2.RawClient())
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: rpc.Handler(nil)}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsHandler}
	}

	errCh := make(chan error, 2)
	go func() {
		gethlog.Info("facetseqd: rpc server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			gethlog.Info("facetseqd: metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go seq.Run(ctx)

	select {
	case <-ctx.Done():
		gethlog.Info("facetseqd: shutting down")
	case err := <-errCh:
		cancel()
		gethlog.Error("facetseqd: server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

// setupLogging configures go-ethereum's structured logger at the
// configured verbosity, the same log.NewGlogHandler/log.NewTerminalHandler
// combination the teacher's cmd/geth uses for its own CLI verbosity flag.
func setupLogging(levelStr string) {
	glogger := gethlog.NewGlogHandler(gethlog.NewTerminalHandler(os.Stderr, false))
	glogger.Verbosity(parseLevel(levelStr))
	gethlog.SetDefault(gethlog.NewLogger(glogger))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return gethlog.LevelTrace
	case "debug":
		return gethlog.LevelDebug
	case "warn":
		return gethlog.LevelWarn
	case "error":
		return gethlog.LevelError
	case "crit":
		return gethlog.LevelCrit
	default:
		return gethlog.LevelInfo
	}
}
