// Package sequencer wires Ingress, the Batch Maker, the Poster, and the
// Inclusion Monitor onto one Store and drives their scheduled-task loops,
// per SPEC_FULL.md §5's concurrency model: goroutines plus context.Context,
// no external task scheduler, coordinated by a single sync.WaitGroup and
// the caller's root context.CancelFunc.
package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/0xfacet/facet-sequencer/internal/batchmaker"
	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/monitor"
	"github.com/0xfacet/facet-sequencer/internal/poster"
)

// Sequencer owns the Batch Maker, Poster, and Monitor ticks. Ingress has no
// loop of its own; it is called directly by internal/rpcserver.
type Sequencer struct {
	cfg        *config.Config
	batchMaker *batchmaker.BatchMaker
	poster     *poster.Poster
	monitor    *monitor.Monitor
}

// New builds a Sequencer from its already-constructed components.
func New(cfg *config.Config, bm *batchmaker.BatchMaker, p *poster.Poster, m *monitor.Monitor) *Sequencer {
	return &Sequencer{cfg: cfg, batchMaker: bm, poster: p, monitor: m}
}

// Run starts the batch tick, poster tick, and Monitor loops, and blocks
// until ctx is cancelled. All three stop promptly on cancellation.
func (s *Sequencer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); s.runBatchLoop(ctx) }()
	go func() { defer wg.Done(); s.runPosterLoop(ctx) }()
	go func() { defer wg.Done(); s.monitor.Run(ctx) }()

	wg.Wait()
}

func (s *Sequencer) runBatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BatchTickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.batchMaker.Tick(ctx); err != nil {
				log.Warn("sequencer: batch tick failed", "err", err)
			}
		}
	}
}

func (s *Sequencer) runPosterLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PosterTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poster.Tick(ctx)
			if err := s.poster.CheckPendingTransactions(ctx); err != nil {
				log.Warn("sequencer: check pending transactions failed", "err", err)
			}
		}
	}
}
