package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	core "proofmarket-backend/core/market"
)

// MemoryStore holds matchmaker state in memory with proper concurrency
// control. The single RWMutex makes every guarded transition a true
// check-and-set: racing transition attempts on one record resolve to exactly
// one winner under the write lock.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[core.RequestID]*RequestRecord
	operators map[core.OperatorID]*core.OperatorRecord
	deadlines map[core.RequestID]time.Time
	nowFn     func() time.Time
	log       *zap.SugaredLogger
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(log *zap.SugaredLogger) *MemoryStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MemoryStore{
		requests:  make(map[core.RequestID]*RequestRecord),
		operators: make(map[core.OperatorID]*core.OperatorRecord),
		deadlines: make(map[core.RequestID]time.Time),
		nowFn:     time.Now,
		log:       log,
	}
}

func (s *MemoryStore) Close() {}

// CreateRequest inserts a new record in Created status with no payment. A
// deadline on the payload seeds the deadline index. Duplicate ids are
// rejected.
func (s *MemoryStore) CreateRequest(_ context.Context, req core.SignedRequest) (core.RequestID, error) {
	id := req.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; ok {
		s.log.Warnw("failed to create proof request", "id", id, "error", "already exists")
		return id, ErrRequestExists
	}
	s.requests[id] = &RequestRecord{
		Request:          req,
		Status:           core.Created(),
		Payment:          core.NoPayment(),
		LastStatusUpdate: s.nowFn(),
	}
	if req.Payload.Deadline != nil {
		s.deadlines[id] = *req.Payload.Deadline
	}
	return id, nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id core.RequestID) (RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.requests[id]
	if !ok {
		return RequestRecord{}, ErrRequestNotFound
	}
	return *rec, nil
}

// TransitionStatus applies the requested edge if the stored status is a valid
// source for it. A guard miss leaves the record untouched and returns false
// without an error; concurrent retries are expected and the guard is the
// conflict-resolution mechanism.
func (s *MemoryStore) TransitionStatus(_ context.Context, id core.RequestID, target core.ProofStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.Kind == core.StatusCreated {
		s.log.Warnw("denied setting proof request status to created", "id", id)
		return false, nil
	}
	rec, ok := s.requests[id]
	if !ok {
		s.log.Warnw("proof request status not updated", "id", id, "target", target.Kind, "error", "unknown id")
		return false, nil
	}
	if !core.CanTransition(rec.Status.Kind, target.Kind) {
		s.log.Warnw("proof request status not updated",
			"id", id, "current", rec.Status.Kind, "target", target.Kind)
		return false, nil
	}

	rec.Status = target
	rec.LastStatusUpdate = s.nowFn()
	switch target.Kind {
	case core.StatusAssigned, core.StatusAcknowledged:
		op := target.Operator
		rec.Assigned = &op
		if target.Kind == core.StatusAssigned {
			if o, ok := s.operators[op]; ok {
				o.LastAssignment = rec.LastStatusUpdate
			}
		}
	}
	return true, nil
}

// ForceStatus overwrites status and timestamp without guards. Test hook only;
// production code goes through TransitionStatus.
func (s *MemoryStore) ForceStatus(id core.RequestID, status core.ProofStatus, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[id]
	if !ok {
		return
	}
	rec.Status = status
	rec.LastStatusUpdate = at
	if status.Operator != "" {
		op := status.Operator
		rec.Assigned = &op
	}
}

// RequestsNeedingAssignment returns requests ready for a matching pass:
// everything Accepted, plus Assigned requests whose operator has not
// acknowledged within the reassignment timeout.
func (s *MemoryStore) RequestsNeedingAssignment(_ context.Context, now time.Time) ([]core.SignedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type entry struct {
		id  core.RequestID
		req core.SignedRequest
	}
	var entries []entry
	for id, rec := range s.requests {
		switch rec.Status.Kind {
		case core.StatusAccepted:
			entries = append(entries, entry{id, rec.Request})
		case core.StatusAssigned:
			if now.Sub(rec.LastStatusUpdate) >= ReassignmentTimeout {
				entries = append(entries, entry{id, rec.Request})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	out := make([]core.SignedRequest, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.req)
	}
	return out, nil
}

// SetPayment overwrites the payment state unconditionally. Only the
// mark-ready edge is guarded; see MarkPaymentReady.
func (s *MemoryStore) SetPayment(_ context.Context, id core.RequestID, p core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[id]
	if !ok {
		s.log.Warnw("proof request payment not updated", "id", id, "target", p.Kind, "error", "unknown id")
		return nil
	}
	rec.Payment = p
	rec.LastStatusUpdate = s.nowFn()
	return nil
}

// MarkPaymentReady moves Reserved(a) to ReadyToPay(a), amount unchanged. Any
// other current state is a precondition violation and surfaces as an error:
// callers are expected to know the payment is reserved before asking.
func (s *MemoryStore) MarkPaymentReady(_ context.Context, id core.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[id]
	if !ok {
		s.log.Errorw("failed to set payment to ready", "id", id, "error", "unknown id")
		return ErrRequestNotFound
	}
	if rec.Payment.Kind != core.PaymentReserved {
		s.log.Errorw("failed to set payment to ready", "id", id, "payment", rec.Payment.Kind)
		return ErrPaymentNotReserved
	}
	rec.Payment = core.ReadyToPay(rec.Payment.Amount)
	rec.LastStatusUpdate = s.nowFn()
	return nil
}

// MarkBatchPaid flips ReadyToPay entries to Paid; anything else in the batch
// is left untouched.
func (s *MemoryStore) MarkBatchPaid(_ context.Context, ids []core.RequestID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		rec, ok := s.requests[id]
		if !ok || rec.Payment.Kind != core.PaymentReadyToPay {
			continue
		}
		rec.Payment = core.Paid(rec.Payment.Amount)
		n++
	}
	if n == 0 && len(ids) > 0 {
		s.log.Warnw("no proof requests were set to paid", "requested", len(ids))
	}
	return n, nil
}

// ReservedForRequester sums Reserved amounts across the requester's requests.
func (s *MemoryStore) ReservedForRequester(_ context.Context, publicKey string) (int64, error) {
	return s.sumPayments(publicKey, core.PaymentReserved)
}

// WithheldForRequester sums the amounts not eligible for return to the
// requester: Reserved plus ReadyToPay.
func (s *MemoryStore) WithheldForRequester(_ context.Context, publicKey string) (int64, error) {
	return s.sumPayments(publicKey, core.PaymentReserved, core.PaymentReadyToPay)
}

func (s *MemoryStore) sumPayments(publicKey string, kinds ...core.PaymentKind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, rec := range s.requests {
		if rec.Request.PublicKey != publicKey {
			continue
		}
		for _, k := range kinds {
			if rec.Payment.Kind == k {
				sum, ok := core.AddAmount(total, rec.Payment.Amount)
				if !ok {
					return 0, ErrAmountOverflow
				}
				total = sum
				break
			}
		}
	}
	return total, nil
}

// ReadyToPayBatch groups ready-to-pay amounts by (operator, requester) for a
// settlement round. Entries missing an assignment or requester are skipped;
// they cannot be settled on chain.
func (s *MemoryStore) ReadyToPayBatch(_ context.Context) (PayoutBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch := PayoutBatch{Payments: make(map[core.OperatorID]map[string]int64)}
	for id, rec := range s.requests {
		if rec.Payment.Kind != core.PaymentReadyToPay || rec.Assigned == nil {
			continue
		}
		requester := rec.Request.Payload.Requester
		if requester == "" {
			continue
		}
		per := batch.Payments[*rec.Assigned]
		if per == nil {
			per = make(map[string]int64)
			batch.Payments[*rec.Assigned] = per
		}
		sum, ok := core.AddAmount(per[requester], rec.Payment.Amount)
		if !ok {
			return PayoutBatch{}, ErrAmountOverflow
		}
		per[requester] = sum
		batch.Requests = append(batch.Requests, id)
	}
	sort.Slice(batch.Requests, func(i, j int) bool { return batch.Requests[i] < batch.Requests[j] })
	return batch, nil
}

// ReadyToPayForOperator is the single-operator variant of ReadyToPayBatch.
func (s *MemoryStore) ReadyToPayForOperator(_ context.Context, op core.OperatorID) (map[string]int64, []core.RequestID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payments := make(map[string]int64)
	var ids []core.RequestID
	for id, rec := range s.requests {
		if rec.Payment.Kind != core.PaymentReadyToPay || rec.Assigned == nil || *rec.Assigned != op {
			continue
		}
		requester := rec.Request.Payload.Requester
		if requester == "" {
			continue
		}
		sum, ok := core.AddAmount(payments[requester], rec.Payment.Amount)
		if !ok {
			return nil, nil, ErrAmountOverflow
		}
		payments[requester] = sum
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return payments, ids, nil
}

// RegisterOperator creates or refreshes an operator. Reconnection resets the
// resource snapshot and flips the operator back online; reputation survives.
func (s *MemoryStore) RegisterOperator(_ context.Context, id core.OperatorID, res core.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	if op, ok := s.operators[id]; ok {
		s.log.Infow("operator is registering again", "operator", id)
		op.Resource = res
		op.Online = true
		op.LastInteraction = now
		return nil
	}
	s.operators[id] = &core.OperatorRecord{
		ID:              id,
		Resource:        res,
		LastInteraction: now,
		Online:          true,
	}
	return nil
}

// UnregisterOperator records a graceful exit. The record is retained so
// reputation and history survive a later reconnect.
func (s *MemoryStore) UnregisterOperator(_ context.Context, id core.OperatorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		s.log.Infow("trying to unregister an unknown operator", "operator", id)
		return nil
	}
	op.Online = false
	return nil
}

// Heartbeat refreshes the operator's last interaction time.
func (s *MemoryStore) Heartbeat(_ context.Context, id core.OperatorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		s.log.Warnw("heartbeat from unknown operator", "operator", id)
		return nil
	}
	op.LastInteraction = s.nowFn()
	return nil
}

func (s *MemoryStore) GetOperator(_ context.Context, id core.OperatorID) (core.OperatorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[id]
	if !ok {
		return core.OperatorRecord{}, ErrOperatorNotFound
	}
	return *op, nil
}

// AvailableOperators returns online operators not occupied by an active
// assignment. One active job per operator: anyone named by an Assigned or
// AcknowledgedAssignment request is excluded.
func (s *MemoryStore) AvailableOperators(_ context.Context, now time.Time) ([]core.OperatorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occupied := make(map[core.OperatorID]bool)
	for _, rec := range s.requests {
		switch rec.Status.Kind {
		case core.StatusAssigned, core.StatusAcknowledged:
			if rec.Assigned != nil {
				occupied[*rec.Assigned] = true
			}
		}
	}
	var out []core.OperatorRecord
	for id, op := range s.operators {
		if occupied[id] || !op.IsOnline(now) {
			continue
		}
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OperatorCounts aggregates the registry: total, live, and registered-online
// but unresponsive.
func (s *MemoryStore) OperatorCounts(_ context.Context, now time.Time) (OperatorCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts OperatorCounts
	for _, op := range s.operators {
		counts.Total++
		if op.IsOnline(now) {
			counts.Online++
		} else if op.Online {
			counts.TemporaryOffline++
		}
	}
	return counts, nil
}

// SetDeadline upserts the deadline entry for a request.
func (s *MemoryStore) SetDeadline(_ context.Context, id core.RequestID, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[id] = deadline
	return nil
}

// ClearDeadline removes and returns the deadline entry, or nil when absent.
func (s *MemoryStore) ClearDeadline(_ context.Context, id core.RequestID) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deadlines[id]
	if !ok {
		return nil, nil
	}
	delete(s.deadlines, id)
	return &d, nil
}

// NearestDeadline returns the soonest outstanding deadline for the external
// expiry sweeper.
func (s *MemoryStore) NearestDeadline(_ context.Context) (core.RequestID, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		bestID core.RequestID
		bestAt time.Time
		found  bool
	)
	for id, at := range s.deadlines {
		if !found || at.Before(bestAt) || (at.Equal(bestAt) && id < bestID) {
			bestID, bestAt, found = id, at, true
		}
	}
	return bestID, bestAt, found, nil
}
