// Package poller periodically re-confirms the liveness of provisioned devbenches.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/metrics"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultConcurrency = 4
)

// Config controls the tick cadence and per-tick fan-out.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// TickResult summarises one pass.
type TickResult struct {
	Checked int
	Changed int
	Busy    int
	Failed  int
}

// Poller drives StatusRefresher over every tracked devbench on a fixed interval.
type Poller struct {
	cfg       Config
	lister    TrackedLister
	refresher StatusRefresher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Poller. m may be nil.
func New(cfg Config, l TrackedLister, r StatusRefresher, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Poller{
		cfg:       cfg,
		lister:    l,
		refresher: r,
		metrics:   m,
		logger:    logger.With("component", "poller"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the tick loop. The first tick runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("starting status poller", "interval", p.cfg.Interval, "concurrency", p.cfg.Concurrency)
	p.wg.Add(1)
	go p.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for an in-progress tick to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping status poller")
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Poller) tickLoop(ctx context.Context) {
	defer p.wg.Done()

	p.Tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			p.logger.Warn("poller context cancelled, stopping tick loop")
			return
		}
	}
}

// Tick performs one pass over all tracked devbenches.
func (p *Poller) Tick(ctx context.Context) TickResult {
	p.metrics.PollerTick()

	tracked, err := p.lister.ListTracked(ctx)
	if err != nil {
		p.logger.Error("failed to list tracked devbenches", "error", err)
		return TickResult{}
	}
	p.logger.Debug("poller tick", "tracked", len(tracked))

	var checked, changed, busy, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for _, d := range tracked {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			state, err := p.refresher.Refresh(ctx, d.ID)
			switch {
			case errors.Is(err, devbench.ErrBusy):
				busy.Add(1)
				p.metrics.PollerCheck("busy")
				p.logger.Debug("devbench busy, skipping this tick", "devbench_id", d.ID)
			case errors.Is(err, devbench.ErrNotFound):
				// Deleted since the listing.
			case err != nil:
				failed.Add(1)
				p.metrics.PollerCheck("error")
				p.logger.Warn("status check failed", "devbench_id", d.ID, "external_name", d.ExternalName, "error", err)
			default:
				checked.Add(1)
				p.metrics.PollerCheck("ok")
				if state != d.State {
					changed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return TickResult{
		Checked: int(checked.Load()),
		Changed: int(changed.Load()),
		Busy:    int(busy.Load()),
		Failed:  int(failed.Load()),
	}
}
