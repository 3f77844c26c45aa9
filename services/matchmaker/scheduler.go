package matchmaker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	core "proofmarket-backend/core/market"
	"proofmarket-backend/metrics"
	storage "proofmarket-backend/storage/market"
)

// Scheduler drives the engine on a ticker: assignment sweeps, deadline
// expiry, and operator gauge refresh.
type Scheduler struct {
	engine   *Engine
	store    storage.Store
	interval time.Duration
	log      *zap.SugaredLogger
	m        *metrics.Metrics
	nowFn    func() time.Time
}

func NewScheduler(engine *Engine, store storage.Store, interval time.Duration, log *zap.SugaredLogger, m *metrics.Metrics) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		engine:   engine,
		store:    store,
		interval: interval,
		log:      log,
		m:        m,
		nowFn:    time.Now,
	}
}

// Run blocks until the context is cancelled, running one pass per tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infow("matchmaker scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("matchmaker scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	sweepID := uuid.NewString()
	now := s.nowFn()
	start := time.Now()

	s.expireDeadlines(ctx, sweepID, now)

	stats, err := s.engine.Sweep(ctx, now)
	if err != nil {
		s.log.Errorw("assignment sweep failed", "sweep_id", sweepID, "error", err)
		if s.m != nil {
			s.m.SweepErrors.Inc()
		}
		return
	}
	if s.m != nil {
		s.m.SweepDuration.Observe(time.Since(start).Seconds())
	}
	if stats.Requests > 0 {
		s.log.Infow("assignment sweep finished", "sweep_id", sweepID,
			"requests", stats.Requests, "assigned", stats.Assigned,
			"no_match", stats.NoMatch, "guard_miss", stats.GuardMiss)
	}

	s.refreshOperatorGauges(ctx, now)
}

// expireDeadlines rejects requests whose deadline has passed and refunds any
// withheld payment. Requests already terminal just lose their deadline
// entry.
func (s *Scheduler) expireDeadlines(ctx context.Context, sweepID string, now time.Time) {
	for {
		id, at, ok, err := s.store.NearestDeadline(ctx)
		if err != nil {
			s.log.Errorw("nearest deadline lookup failed", "sweep_id", sweepID, "error", err)
			return
		}
		if !ok || at.After(now) {
			return
		}
		if _, err := s.store.ClearDeadline(ctx, id); err != nil {
			s.log.Errorw("failed to clear deadline", "sweep_id", sweepID, "id", id, "error", err)
			return
		}

		applied, err := s.store.TransitionStatus(ctx, id, core.Rejected("deadline exceeded"))
		if err != nil {
			s.log.Errorw("failed to reject expired proof request", "sweep_id", sweepID, "id", id, "error", err)
			continue
		}
		if !applied {
			continue
		}
		s.log.Infow("proof request expired", "sweep_id", sweepID, "id", id, "deadline", at)

		rec, err := s.store.GetRequest(ctx, id)
		if err != nil {
			s.log.Errorw("failed to load expired proof request", "sweep_id", sweepID, "id", id, "error", err)
			continue
		}
		if amount, withheld := rec.Payment.WithheldAmount(); withheld {
			if err := s.store.SetPayment(ctx, id, core.Refund(amount)); err != nil {
				s.log.Errorw("failed to refund expired proof request", "sweep_id", sweepID, "id", id, "error", err)
			}
		}
	}
}

func (s *Scheduler) refreshOperatorGauges(ctx context.Context, now time.Time) {
	if s.m == nil {
		return
	}
	counts, err := s.store.OperatorCounts(ctx, now)
	if err != nil {
		s.log.Errorw("operator counts lookup failed", "error", err)
		return
	}
	s.m.OperatorsTotal.Set(float64(counts.Total))
	s.m.OperatorsOnline.Set(float64(counts.Online))
	s.m.OperatorsTemporaryOffline.Set(float64(counts.TemporaryOffline))
}
