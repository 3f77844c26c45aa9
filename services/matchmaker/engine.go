package matchmaker

import (
	"context"
	"time"

	"go.uber.org/zap"

	core "proofmarket-backend/core/market"
	"proofmarket-backend/metrics"
	storage "proofmarket-backend/storage/market"
)

// SelectFunc picks one operator out of a non-empty set of fulfilling
// candidates.
type SelectFunc func(candidates []core.OperatorRecord) core.OperatorRecord

// FirstFit takes the first fulfilling candidate. Candidates arrive sorted by
// operator id, so the choice is deterministic.
func FirstFit(candidates []core.OperatorRecord) core.OperatorRecord {
	return candidates[0]
}

// BestFit takes the strongest candidate by resource ordering, spending the
// biggest machine on the request.
func BestFit(candidates []core.OperatorRecord) core.OperatorRecord {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Resource.Compare(best.Resource) > 0 {
			best = c
		}
	}
	return best
}

// Engine matches proof requests to operators and records assignments.
type Engine struct {
	store storage.Store
	sel   SelectFunc
	log   *zap.SugaredLogger
	m     *metrics.Metrics
}

func NewEngine(store storage.Store, sel SelectFunc, log *zap.SugaredLogger, m *metrics.Metrics) *Engine {
	if sel == nil {
		sel = FirstFit
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{store: store, sel: sel, log: log, m: m}
}

// Match filters candidates down to those fulfilling the request's resource
// requirement and applies the selection policy. The boolean is false when no
// candidate fulfills; that is a retryable condition, not a failure.
func (e *Engine) Match(req core.SignedRequest, candidates []core.OperatorRecord) (core.OperatorRecord, bool) {
	var fulfilling []core.OperatorRecord
	for _, op := range candidates {
		if op.Resource.Fulfills(req.Payload.Requirement) {
			fulfilling = append(fulfilling, op)
		}
	}
	if len(fulfilling) == 0 {
		return core.OperatorRecord{}, false
	}
	return e.sel(fulfilling), true
}

// SweepStats summarizes one assignment pass.
type SweepStats struct {
	Requests  int
	Assigned  int
	NoMatch   int
	GuardMiss int
}

// Sweep runs one assignment pass: every request needing assignment is
// matched against the currently available operators. Each assignment removes
// the operator from the working set, keeping one active job per operator
// within the pass as well.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats

	requests, err := e.store.RequestsNeedingAssignment(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.Requests = len(requests)
	if len(requests) == 0 {
		return stats, nil
	}

	available, err := e.store.AvailableOperators(ctx, now)
	if err != nil {
		return stats, err
	}

	for _, req := range requests {
		id := req.ID()
		op, ok := e.Match(req, available)
		if !ok {
			stats.NoMatch++
			e.countAssignment(metrics.OutcomeNoMatch)
			e.log.Debugw("no operator fulfills proof request", "id", id, "candidates", len(available))
			continue
		}

		applied, err := e.store.TransitionStatus(ctx, id, core.Assigned(op.ID))
		if err != nil {
			return stats, err
		}
		if !applied {
			// Raced with an acknowledgement or a cancel; the guard
			// already logged the miss.
			stats.GuardMiss++
			e.countAssignment(metrics.OutcomeGuardMiss)
			continue
		}

		stats.Assigned++
		e.countAssignment(metrics.OutcomeAssigned)
		e.log.Infow("proof request assigned", "id", id, "operator", op.ID)
		available = removeOperator(available, op.ID)
	}
	return stats, nil
}

func (e *Engine) countAssignment(outcome string) {
	if e.m != nil {
		e.m.Assignments.WithLabelValues(outcome).Inc()
	}
}

func removeOperator(ops []core.OperatorRecord, id core.OperatorID) []core.OperatorRecord {
	out := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			out = append(out, op)
		}
	}
	return out
}
