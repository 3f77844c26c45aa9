package market

import (
	"context"
	"time"

	core "proofmarket-backend/core/market"
)

var (
	ErrRequestExists      = Err("proof request already exists")
	ErrRequestNotFound    = Err("proof request not found")
	ErrOperatorNotFound   = Err("operator not found")
	ErrPaymentNotReserved = Err("payment is not in reserved state")
	ErrAmountOverflow     = Err("payment amount overflow")
)

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

// ReassignmentTimeout is how long an Assigned request may sit without an
// acknowledgement before it is offered for assignment again.
const ReassignmentTimeout = 10 * time.Second

// RequestRecord is the mutable row kept per proof request. The embedded
// signed payload never changes; status, payment and assignment move only
// through guarded transitions. Records survive terminal states for audit and
// payment reconciliation.
type RequestRecord struct {
	Request          core.SignedRequest `json:"request"`
	Assigned         *core.OperatorID   `json:"assigned,omitempty"`
	Status           core.ProofStatus   `json:"status"`
	Payment          core.Payment       `json:"payment"`
	LastStatusUpdate time.Time          `json:"lastStatusUpdate"`
}

// OperatorCounts aggregates the registry for observability.
type OperatorCounts struct {
	Total            int `json:"total"`
	Online           int `json:"online"`
	TemporaryOffline int `json:"temporaryOffline"`
}

// PayoutBatch groups ready-to-pay amounts by operator and requester for one
// settlement round, alongside the request ids to flip to Paid once settled.
type PayoutBatch struct {
	Payments map[core.OperatorID]map[string]int64
	Requests []core.RequestID
}

// Store abstracts matchmaker persistence. Every implementation must apply
// status transitions and the payment mark-ready edge as conditional atomic
// updates on a single record, so concurrent attempts resolve to exactly one
// winner.
type Store interface {
	// Proof requests.
	CreateRequest(ctx context.Context, req core.SignedRequest) (core.RequestID, error)
	GetRequest(ctx context.Context, id core.RequestID) (RequestRecord, error)
	// TransitionStatus applies current → target if the edge is allowed and
	// returns whether it did. A guard miss is a no-op, not an error:
	// concurrent handlers racing on one record are expected.
	TransitionStatus(ctx context.Context, id core.RequestID, target core.ProofStatus) (bool, error)
	RequestsNeedingAssignment(ctx context.Context, now time.Time) ([]core.SignedRequest, error)

	// Payments.
	SetPayment(ctx context.Context, id core.RequestID, p core.Payment) error
	// MarkPaymentReady moves Reserved(a) to ReadyToPay(a). Any other current
	// payment state is a hard precondition violation.
	MarkPaymentReady(ctx context.Context, id core.RequestID) error
	// MarkBatchPaid flips ReadyToPay entries to Paid and leaves everything
	// else in the batch untouched. Returns how many entries flipped.
	MarkBatchPaid(ctx context.Context, ids []core.RequestID) (int, error)
	ReservedForRequester(ctx context.Context, publicKey string) (int64, error)
	WithheldForRequester(ctx context.Context, publicKey string) (int64, error)
	ReadyToPayBatch(ctx context.Context) (PayoutBatch, error)
	ReadyToPayForOperator(ctx context.Context, op core.OperatorID) (map[string]int64, []core.RequestID, error)

	// Operators.
	RegisterOperator(ctx context.Context, id core.OperatorID, res core.Resource) error
	UnregisterOperator(ctx context.Context, id core.OperatorID) error
	Heartbeat(ctx context.Context, id core.OperatorID) error
	GetOperator(ctx context.Context, id core.OperatorID) (core.OperatorRecord, error)
	// AvailableOperators returns online operators not currently tied to any
	// Assigned or AcknowledgedAssignment request.
	AvailableOperators(ctx context.Context, now time.Time) ([]core.OperatorRecord, error)
	OperatorCounts(ctx context.Context, now time.Time) (OperatorCounts, error)

	// Deadlines.
	SetDeadline(ctx context.Context, id core.RequestID, deadline time.Time) error
	ClearDeadline(ctx context.Context, id core.RequestID) (*time.Time, error)
	NearestDeadline(ctx context.Context) (core.RequestID, time.Time, bool, error)

	Close()
}
