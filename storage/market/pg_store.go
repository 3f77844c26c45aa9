package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	core "proofmarket-backend/core/market"
)

// PGStore persists matchmaker state in Postgres. Guarded edges are expressed
// as conditional UPDATEs scoped to one row, so the database enforces the
// compare-and-set contract.
type PGStore struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string, log *zap.SugaredLogger) (*PGStore, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool, log: log}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS mm_proof_requests (
  id TEXT PRIMARY KEY,
  public_key TEXT NOT NULL,
  requester TEXT NOT NULL DEFAULT '',
  payload JSONB NOT NULL,
  status TEXT NOT NULL,
  rejection_reason TEXT,
  operator_id TEXT,
  proof JSONB,
  payment TEXT NOT NULL,
  amount BIGINT,
  last_status_update TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS mm_operators (
  id TEXT PRIMARY KEY,
  resource JSONB NOT NULL,
  reputation BIGINT NOT NULL DEFAULT 0,
  last_interaction TIMESTAMPTZ NOT NULL,
  online BOOLEAN NOT NULL,
  last_assignment TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
);
CREATE TABLE IF NOT EXISTS mm_deadlines (
  request_id TEXT PRIMARY KEY,
  deadline TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mm_proof_requests_status ON mm_proof_requests(status);
CREATE INDEX IF NOT EXISTS idx_mm_proof_requests_payment ON mm_proof_requests(payment);
CREATE INDEX IF NOT EXISTS idx_mm_deadlines_deadline ON mm_deadlines(deadline);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGStore) Close() {
	s.pool.Close()
}

// CreateRequest inserts a new record in Created status with no payment; the
// ON CONFLICT DO NOTHING keeps duplicate submissions from overwriting an
// in-flight request.
func (s *PGStore) CreateRequest(ctx context.Context, req core.SignedRequest) (core.RequestID, error) {
	id := req.ID()
	payload, err := json.Marshal(req)
	if err != nil {
		return id, fmt.Errorf("marshal request payload: %w", err)
	}
	ct, err := s.pool.Exec(ctx, `
INSERT INTO mm_proof_requests (id, public_key, requester, payload, status, payment, last_status_update)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO NOTHING
`, string(id), req.PublicKey, req.Payload.Requester, payload, string(core.StatusCreated), string(core.PaymentNothing))
	if err != nil {
		return id, fmt.Errorf("create proof request: %w", err)
	}
	if ct.RowsAffected() != 1 {
		s.log.Warnw("failed to create proof request", "id", id, "error", "already exists")
		return id, ErrRequestExists
	}
	if req.Payload.Deadline != nil {
		if err := s.SetDeadline(ctx, id, *req.Payload.Deadline); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (s *PGStore) GetRequest(ctx context.Context, id core.RequestID) (RequestRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT payload, status, rejection_reason, operator_id, proof, payment, amount, last_status_update
FROM mm_proof_requests WHERE id=$1
`, string(id))
	rec, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RequestRecord{}, ErrRequestNotFound
		}
		return RequestRecord{}, fmt.Errorf("get proof request: %w", err)
	}
	return rec, nil
}

// TransitionStatus applies the requested edge as a single conditional UPDATE
// filtered on the allowed source statuses. Zero affected rows is a guard
// miss: reported, never an error.
func (s *PGStore) TransitionStatus(ctx context.Context, id core.RequestID, target core.ProofStatus) (bool, error) {
	if target.Kind == core.StatusCreated {
		s.log.Warnw("denied setting proof request status to created", "id", id)
		return false, nil
	}
	sources := kindStrings(core.TransitionSources(target.Kind))

	var (
		n   int64
		err error
	)
	switch target.Kind {
	case core.StatusRejected:
		ct, execErr := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET status=$2, rejection_reason=$3, last_status_update=now()
WHERE id=$1 AND status=ANY($4)
`, string(id), string(target.Kind), target.Reason, sources)
		n, err = ct.RowsAffected(), execErr
	case core.StatusAssigned, core.StatusAcknowledged:
		ct, execErr := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET status=$2, operator_id=$3, last_status_update=now()
WHERE id=$1 AND status=ANY($4)
`, string(id), string(target.Kind), string(target.Operator), sources)
		n, err = ct.RowsAffected(), execErr
	case core.StatusBeingTested, core.StatusProven:
		proofJSON, mErr := json.Marshal(target.Proof)
		if mErr != nil {
			return false, fmt.Errorf("marshal proof payload: %w", mErr)
		}
		ct, execErr := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET status=$2, proof=$3, last_status_update=now()
WHERE id=$1 AND status=ANY($4)
`, string(id), string(target.Kind), proofJSON, sources)
		n, err = ct.RowsAffected(), execErr
	default:
		ct, execErr := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET status=$2, last_status_update=now()
WHERE id=$1 AND status=ANY($3)
`, string(id), string(target.Kind), sources)
		n, err = ct.RowsAffected(), execErr
	}
	if err != nil {
		return false, fmt.Errorf("transition proof request status: %w", err)
	}
	if n == 0 {
		s.log.Warnw("proof request status not updated", "id", id, "target", target.Kind)
		return false, nil
	}
	if target.Kind == core.StatusAssigned {
		if _, err := s.pool.Exec(ctx, `
UPDATE mm_operators SET last_assignment=now() WHERE id=$1
`, string(target.Operator)); err != nil {
			return true, fmt.Errorf("set operator last assignment: %w", err)
		}
	}
	return true, nil
}

// RequestsNeedingAssignment returns Accepted requests plus Assigned ones
// staler than the reassignment timeout, evaluated against the passed
// instant.
func (s *PGStore) RequestsNeedingAssignment(ctx context.Context, now time.Time) ([]core.SignedRequest, error) {
	rows, err := s.pool.Query(ctx, `
SELECT payload FROM mm_proof_requests
WHERE status=$1 OR (status=$2 AND last_status_update <= $3)
ORDER BY id
`, string(core.StatusAccepted), string(core.StatusAssigned), now.Add(-ReassignmentTimeout))
	if err != nil {
		return nil, fmt.Errorf("query requests needing assignment: %w", err)
	}
	defer rows.Close()

	var out []core.SignedRequest
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var req core.SignedRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode request payload: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SetPayment overwrites the payment state unconditionally.
func (s *PGStore) SetPayment(ctx context.Context, id core.RequestID, p core.Payment) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET payment=$2, amount=$3, last_status_update=now() WHERE id=$1
`, string(id), string(p.Kind), paymentAmount(p))
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		s.log.Warnw("proof request payment not updated", "id", id, "target", p.Kind)
	}
	return nil
}

// MarkPaymentReady flips Reserved to ReadyToPay; the amount column is left
// untouched so the reserved figure is carried forward exactly.
func (s *PGStore) MarkPaymentReady(ctx context.Context, id core.RequestID) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET payment=$2, last_status_update=now()
WHERE id=$1 AND payment=$3
`, string(id), string(core.PaymentReadyToPay), string(core.PaymentReserved))
	if err != nil {
		return fmt.Errorf("set payment to ready: %w", err)
	}
	if ct.RowsAffected() != 1 {
		var kind string
		var amount *int64
		err := s.pool.QueryRow(ctx, `
SELECT payment, amount FROM mm_proof_requests WHERE id=$1
`, string(id)).Scan(&kind, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.Errorw("failed to set payment to ready", "id", id, "error", "unknown id")
			return ErrRequestNotFound
		}
		s.log.Errorw("failed to set payment to ready", "id", id, "payment", kind)
		return ErrPaymentNotReserved
	}
	return nil
}

// MarkBatchPaid flips ReadyToPay entries to Paid; anything else in the batch
// is left untouched.
func (s *PGStore) MarkBatchPaid(ctx context.Context, ids []core.RequestID) (int, error) {
	ct, err := s.pool.Exec(ctx, `
UPDATE mm_proof_requests SET payment=$2 WHERE id=ANY($1) AND payment=$3
`, idStrings(ids), string(core.PaymentPaid), string(core.PaymentReadyToPay))
	if err != nil {
		return 0, fmt.Errorf("set proof requests paid: %w", err)
	}
	n := int(ct.RowsAffected())
	if n == 0 && len(ids) > 0 {
		s.log.Warnw("no proof requests were set to paid", "requested", len(ids))
	}
	return n, nil
}

// ReservedForRequester sums Reserved amounts across the requester's
// requests. The fold happens client-side so overflow surfaces as a hard
// error rather than a truncated total.
func (s *PGStore) ReservedForRequester(ctx context.Context, publicKey string) (int64, error) {
	return s.sumPayments(ctx, publicKey, core.PaymentReserved)
}

// WithheldForRequester sums Reserved plus ReadyToPay amounts.
func (s *PGStore) WithheldForRequester(ctx context.Context, publicKey string) (int64, error) {
	return s.sumPayments(ctx, publicKey, core.PaymentReserved, core.PaymentReadyToPay)
}

func (s *PGStore) sumPayments(ctx context.Context, publicKey string, kinds ...core.PaymentKind) (int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT amount FROM mm_proof_requests
WHERE public_key=$1 AND payment=ANY($2) AND amount IS NOT NULL
`, publicKey, kindStringsPayment(kinds))
	if err != nil {
		return 0, fmt.Errorf("query payment amounts: %w", err)
	}
	defer rows.Close()

	var total int64
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return 0, err
		}
		sum, ok := core.AddAmount(total, amount)
		if !ok {
			return 0, ErrAmountOverflow
		}
		total = sum
	}
	return total, rows.Err()
}

// ReadyToPayBatch groups ready-to-pay amounts by (operator, requester).
func (s *PGStore) ReadyToPayBatch(ctx context.Context) (PayoutBatch, error) {
	rows, err := s.pool.Query(ctx, `
SELECT operator_id, requester, amount, id FROM mm_proof_requests
WHERE payment=$1 AND operator_id IS NOT NULL AND requester <> '' AND amount IS NOT NULL
ORDER BY id
`, string(core.PaymentReadyToPay))
	if err != nil {
		return PayoutBatch{}, fmt.Errorf("query ready to pay requests: %w", err)
	}
	defer rows.Close()

	batch := PayoutBatch{Payments: make(map[core.OperatorID]map[string]int64)}
	for rows.Next() {
		var op, requester, id string
		var amount int64
		if err := rows.Scan(&op, &requester, &amount, &id); err != nil {
			return PayoutBatch{}, err
		}
		per := batch.Payments[core.OperatorID(op)]
		if per == nil {
			per = make(map[string]int64)
			batch.Payments[core.OperatorID(op)] = per
		}
		sum, ok := core.AddAmount(per[requester], amount)
		if !ok {
			return PayoutBatch{}, ErrAmountOverflow
		}
		per[requester] = sum
		batch.Requests = append(batch.Requests, core.RequestID(id))
	}
	return batch, rows.Err()
}

// ReadyToPayForOperator is the single-operator variant of ReadyToPayBatch.
func (s *PGStore) ReadyToPayForOperator(ctx context.Context, op core.OperatorID) (map[string]int64, []core.RequestID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT requester, amount, id FROM mm_proof_requests
WHERE payment=$1 AND operator_id=$2 AND requester <> '' AND amount IS NOT NULL
ORDER BY id
`, string(core.PaymentReadyToPay), string(op))
	if err != nil {
		return nil, nil, fmt.Errorf("query ready to pay requests: %w", err)
	}
	defer rows.Close()

	payments := make(map[string]int64)
	var ids []core.RequestID
	for rows.Next() {
		var requester, id string
		var amount int64
		if err := rows.Scan(&requester, &amount, &id); err != nil {
			return nil, nil, err
		}
		sum, ok := core.AddAmount(payments[requester], amount)
		if !ok {
			return nil, nil, ErrAmountOverflow
		}
		payments[requester] = sum
		ids = append(ids, core.RequestID(id))
	}
	return payments, ids, rows.Err()
}

// RegisterOperator creates or refreshes an operator row. Reconnection resets
// the resource snapshot and flips online; reputation survives.
func (s *PGStore) RegisterOperator(ctx context.Context, id core.OperatorID, res core.Resource) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal resource: %w", err)
	}
	ct, err := s.pool.Exec(ctx, `
INSERT INTO mm_operators (id, resource, last_interaction, online)
VALUES ($1, $2, now(), true)
ON CONFLICT (id) DO UPDATE SET
  resource = EXCLUDED.resource,
  online = true,
  last_interaction = now()
`, string(id), resJSON)
	if err != nil {
		return fmt.Errorf("register operator: %w", err)
	}
	if ct.RowsAffected() != 1 {
		s.log.Infow("operator is registering again", "operator", id)
	}
	return nil
}

// UnregisterOperator records a graceful exit; the row is retained.
func (s *PGStore) UnregisterOperator(ctx context.Context, id core.OperatorID) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE mm_operators SET online=false WHERE id=$1
`, string(id))
	if err != nil {
		return fmt.Errorf("unregister operator: %w", err)
	}
	if ct.RowsAffected() != 1 {
		s.log.Infow("trying to unregister an unknown operator", "operator", id)
	}
	return nil
}

// Heartbeat refreshes the operator's last interaction time.
func (s *PGStore) Heartbeat(ctx context.Context, id core.OperatorID) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE mm_operators SET last_interaction=now() WHERE id=$1
`, string(id))
	if err != nil {
		return fmt.Errorf("update last interaction: %w", err)
	}
	if ct.RowsAffected() != 1 {
		s.log.Warnw("heartbeat from unknown operator", "operator", id)
	}
	return nil
}

func (s *PGStore) GetOperator(ctx context.Context, id core.OperatorID) (core.OperatorRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, resource, reputation, last_interaction, online, last_assignment
FROM mm_operators WHERE id=$1
`, string(id))
	op, err := scanOperatorRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.OperatorRecord{}, ErrOperatorNotFound
		}
		return core.OperatorRecord{}, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

// AvailableOperators returns online operators not occupied by an active
// assignment. Occupancy is excluded in SQL; liveness is evaluated in Go
// against the passed instant so the check matches the in-memory store.
func (s *PGStore) AvailableOperators(ctx context.Context, now time.Time) ([]core.OperatorRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, resource, reputation, last_interaction, online, last_assignment
FROM mm_operators
WHERE id NOT IN (
  SELECT operator_id FROM mm_proof_requests
  WHERE status=ANY($1) AND operator_id IS NOT NULL
)
ORDER BY id
`, []string{string(core.StatusAssigned), string(core.StatusAcknowledged)})
	if err != nil {
		return nil, fmt.Errorf("query available operators: %w", err)
	}
	defer rows.Close()

	var out []core.OperatorRecord
	for rows.Next() {
		op, err := scanOperatorRow(rows)
		if err != nil {
			return nil, err
		}
		if !op.IsOnline(now) {
			continue
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// OperatorCounts aggregates the registry.
func (s *PGStore) OperatorCounts(ctx context.Context, now time.Time) (OperatorCounts, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, resource, reputation, last_interaction, online, last_assignment FROM mm_operators
`)
	if err != nil {
		return OperatorCounts{}, fmt.Errorf("query operator counts: %w", err)
	}
	defer rows.Close()

	var counts OperatorCounts
	for rows.Next() {
		op, err := scanOperatorRow(rows)
		if err != nil {
			return OperatorCounts{}, err
		}
		counts.Total++
		if op.IsOnline(now) {
			counts.Online++
		} else if op.Online {
			counts.TemporaryOffline++
		}
	}
	return counts, rows.Err()
}

// SetDeadline upserts the deadline entry for a request.
func (s *PGStore) SetDeadline(ctx context.Context, id core.RequestID, deadline time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO mm_deadlines (request_id, deadline) VALUES ($1, $2)
ON CONFLICT (request_id) DO UPDATE SET deadline = EXCLUDED.deadline
`, string(id), deadline)
	if err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return nil
}

// ClearDeadline removes and returns the deadline entry, or nil when absent.
func (s *PGStore) ClearDeadline(ctx context.Context, id core.RequestID) (*time.Time, error) {
	var d time.Time
	err := s.pool.QueryRow(ctx, `
DELETE FROM mm_deadlines WHERE request_id=$1 RETURNING deadline
`, string(id)).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clear deadline: %w", err)
	}
	return &d, nil
}

// NearestDeadline returns the soonest outstanding deadline.
func (s *PGStore) NearestDeadline(ctx context.Context) (core.RequestID, time.Time, bool, error) {
	var id string
	var d time.Time
	err := s.pool.QueryRow(ctx, `
SELECT request_id, deadline FROM mm_deadlines ORDER BY deadline ASC, request_id ASC LIMIT 1
`).Scan(&id, &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("get nearest deadline: %w", err)
	}
	return core.RequestID(id), d, true, nil
}

func scanRequestRow(scanner interface {
	Scan(dest ...interface{}) error
}) (RequestRecord, error) {
	var (
		rec           RequestRecord
		payload       []byte
		status        string
		rejectReason  *string
		operatorID    *string
		proofJSON     []byte
		payment       string
		paymentAmount *int64
	)
	if err := scanner.Scan(
		&payload, &status, &rejectReason, &operatorID, &proofJSON,
		&payment, &paymentAmount, &rec.LastStatusUpdate,
	); err != nil {
		return RequestRecord{}, err
	}
	if err := json.Unmarshal(payload, &rec.Request); err != nil {
		return RequestRecord{}, fmt.Errorf("decode request payload: %w", err)
	}

	rec.Status = core.ProofStatus{Kind: core.StatusKind(status)}
	if rejectReason != nil {
		rec.Status.Reason = *rejectReason
	}
	if operatorID != nil {
		op := core.OperatorID(*operatorID)
		rec.Assigned = &op
		switch rec.Status.Kind {
		case core.StatusAssigned, core.StatusAcknowledged:
			rec.Status.Operator = op
		}
	}
	if len(proofJSON) > 0 {
		var p core.Proof
		if err := json.Unmarshal(proofJSON, &p); err != nil {
			return RequestRecord{}, fmt.Errorf("decode proof payload: %w", err)
		}
		switch rec.Status.Kind {
		case core.StatusBeingTested, core.StatusProven:
			rec.Status.Proof = &p
		}
	}

	rec.Payment = core.Payment{Kind: core.PaymentKind(payment)}
	if paymentAmount != nil {
		rec.Payment.Amount = *paymentAmount
	}
	return rec, nil
}

func scanOperatorRow(scanner interface {
	Scan(dest ...interface{}) error
}) (core.OperatorRecord, error) {
	var (
		op      core.OperatorRecord
		id      string
		resJSON []byte
	)
	if err := scanner.Scan(&id, &resJSON, &op.Reputation, &op.LastInteraction, &op.Online, &op.LastAssignment); err != nil {
		return core.OperatorRecord{}, err
	}
	op.ID = core.OperatorID(id)
	if err := json.Unmarshal(resJSON, &op.Resource); err != nil {
		return core.OperatorRecord{}, fmt.Errorf("decode operator resource: %w", err)
	}
	return op, nil
}

func paymentAmount(p core.Payment) *int64 {
	if p.Kind == core.PaymentNothing {
		return nil
	}
	amount := p.Amount
	return &amount
}

func kindStrings(kinds []core.StatusKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func kindStringsPayment(kinds []core.PaymentKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func idStrings(ids []core.RequestID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
