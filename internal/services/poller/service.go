package poller

import (
	"context"
	"sync"
	"time"

	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

type Config struct {
	Enabled bool
	// RequestTimeout bounds each upstream fetch and each delivery call.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 15 * time.Second

type Service struct {
	st     Store
	tw     Timeline
	sender kit.Sender
	log    logx.Logger

	mu  sync.Mutex
	cfg Config

	// runMu serializes runs: a new tick may not start while the previous
	// run is still executing.
	runMu sync.Mutex
}

func New(cfg Config, st Store, tw Timeline, sender kit.Sender, log logx.Logger) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, st: st, tw: tw, sender: sender, log: log}
}

// Apply updates runtime settings (used by config hot reload). Takes effect
// before the next run; an in-flight run keeps its current settings.
func (s *Service) Apply(cfg Config) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// callCtx derives a bounded context for one external call (upstream fetch or
// delivery), so a stuck call cannot block the run forever.
func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	timeout := s.cfg.RequestTimeout
	s.mu.Unlock()
	return context.WithTimeout(ctx, timeout)
}

// Run executes the pipeline on a self-adjusting schedule until ctx is done.
// The delay until the next run is recomputed after each run from the tracked
// account count; while the poller is disabled it just idles and re-checks.
func (s *Service) Run(ctx context.Context) {
	for {
		if s.enabled() {
			s.RunOnce(ctx)
		}
		if ctx.Err() != nil {
			return
		}

		delay := s.nextDelay(ctx)
		s.log.Debug("next run scheduled", logx.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Service) nextDelay(ctx context.Context) time.Duration {
	if !s.enabled() {
		return minInterval
	}
	n, err := s.st.CountTrackedAccounts(ctx)
	if err != nil {
		s.log.Warn("tracked account count failed", logx.Err(err))
		return minInterval
	}
	return pollInterval(n)
}

// RunOnce executes one full pipeline tick: fetch, store, fan out, clean up.
// No failure inside the run is fatal; each is isolated to the account or
// subscription it occurred on and the remaining stages always execute with
// whatever was gathered.
func (s *Service) RunOnce(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	s.log.Debug("fetching tweets")

	accounts, err := s.st.TrackedAccounts(ctx)
	if err != nil {
		s.log.Warn("listing tracked accounts failed", logx.Err(err))
		return
	}

	ing := newIngester(s.st, s.log)
	updated, flagged, err := s.fetchAll(ctx, accounts, ing)
	if err != nil {
		// Context cancellation or a storage failure; keep whatever landed.
		s.log.Warn("fetch stage aborted", logx.Err(err))
	}

	s.touchUpdated(ctx, updated)

	// A run that updated nothing must not write a lingering partial batch:
	// no fetch marker moved, so the posts would reappear next run anyway.
	if len(updated) > 0 {
		if err := ing.Flush(ctx); err != nil {
			s.log.Warn("post batch flush failed", logx.Err(err))
		}
	} else if ing.Pending() > 0 {
		s.log.Debug("discarding partial batch, no account was updated",
			logx.Int("posts", ing.Pending()))
	}

	if ctx.Err() == nil {
		s.fanoutNew(ctx)
		s.fanoutBacklog(ctx)
		s.cleanup(ctx, flagged)
	}

	s.log.Info("run finished",
		logx.Int("accounts", len(accounts)),
		logx.Int("updated", len(updated)),
		logx.Int("inserted", ing.inserted),
		logx.Int("duplicates", ing.dropped),
		logx.Int("flagged", len(flagged)),
		logx.Duration("dur", time.Since(start)))
}
