package syncstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/upstream"
)

// StatusFetcher is the upstream surface the poller needs.
type StatusFetcher interface {
	FetchGenerationStatus(ctx context.Context, nodeIDs []string) (map[string]upstream.NodeGenerationInfo, error)
	FetchBatchStatus(ctx context.Context, batchID string) (*upstream.BatchStatus, error)
}

// PollerConfig contains poller configuration.
type PollerConfig struct {
	Interval       time.Duration // poll period (default 3s)
	RequestTimeout time.Duration // per-request timeout (default 10s)
	Logger         *zap.Logger
}

// Poller periodically refreshes generation status for the store's
// non-terminal nodes and the accepted batch. It self-stops once every
// tracked node reaches a terminal state; a new acceptance restarts it.
type Poller struct {
	cfg     PollerConfig
	store   *Store
	fetcher StatusFetcher
	log     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller bound to the store and upstream client.
func NewPoller(cfg PollerConfig, store *Store, fetcher StatusFetcher) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		log:     log.Named("poller"),
	}
}

// Start launches the poll loop. A second Start while running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(pollCtx, done)
}

// Stop halts the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Interval returns the effective poll period.
func (p *Poller) Interval() time.Duration {
	return p.cfg.Interval
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.store.HasGeneratingNodes() {
				p.log.Info("all nodes terminal, stopping poll loop")
				return
			}
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	ids := p.store.GeneratingNodeIDs()
	if len(ids) > 0 {
		statuses, err := p.fetcher.FetchGenerationStatus(reqCtx, ids)
		if err != nil {
			p.log.Warn("generation status poll failed", zap.Error(err))
		} else {
			applied := p.store.ApplyGenerationStatuses(statuses, time.Now())
			if applied > 0 {
				p.log.Debug("applied generation status updates", zap.Int("applied", applied))
			}
		}
	}

	path, ok := p.store.Path()
	if !ok || path.BatchID == "" {
		return
	}
	batch, err := p.fetcher.FetchBatchStatus(reqCtx, path.BatchID)
	if err != nil {
		p.log.Warn("batch status poll failed", zap.Error(err))
		return
	}
	applied := p.store.UpdateFromPoll(batch, time.Now())
	if applied > 0 || batch.AllCompleted {
		p.log.Debug("batch poll",
			zap.Float64("overall_progress", batch.OverallProgress),
			zap.Bool("all_completed", batch.AllCompleted),
			zap.Int("applied", applied))
	}
}
