package matchmaker

import (
	"context"

	core "proofmarket-backend/core/market"
)

// Submit runs intake for a signed request: the record is created, vetted,
// and moved to Accepted or Rejected. Signature bytes are opaque here; only
// structural validity is checked. The returned status reflects the outcome.
func (e *Engine) Submit(ctx context.Context, req core.SignedRequest) (core.RequestID, core.ProofStatus, error) {
	id, err := e.store.CreateRequest(ctx, req)
	if err != nil {
		return id, core.ProofStatus{}, err
	}

	reason := vetRequest(req)
	valid := reason == ""
	if e.m != nil {
		e.m.ProofRequests.WithLabelValues(req.Payload.Requester, boolLabel(valid)).Inc()
	}

	if !valid {
		e.log.Warnw("proof request rejected", "id", id, "reason", reason)
		if _, err := e.store.TransitionStatus(ctx, id, core.Rejected(reason)); err != nil {
			return id, core.ProofStatus{}, err
		}
		return id, core.Rejected(reason), nil
	}

	if _, err := e.store.TransitionStatus(ctx, id, core.Accepted()); err != nil {
		return id, core.ProofStatus{}, err
	}
	e.log.Infow("proof request accepted", "id", id, "requester", req.Payload.Requester)
	return id, core.Accepted(), nil
}

func vetRequest(req core.SignedRequest) string {
	switch {
	case req.Payload.Requester == "":
		return "missing requester"
	case req.PublicKey == "":
		return "missing public key"
	case req.Signature == "":
		return "missing signature"
	case len(req.Payload.Prover) == 0:
		return "missing prover descriptor"
	case len(req.Payload.Verifier) == 0:
		return "missing verifier descriptor"
	}
	return ""
}

// SettleBatch flips a settled payout batch to Paid. Callers invoke it after
// the external settlement reports success; entries no longer ReadyToPay are
// skipped by the store.
func (e *Engine) SettleBatch(ctx context.Context, ids []core.RequestID) (int, error) {
	n, err := e.store.MarkBatchPaid(ctx, ids)
	if err != nil {
		return 0, err
	}
	if e.m != nil {
		e.m.PaymentsMarkedPaid.Add(float64(n))
	}
	if n > 0 {
		e.log.Infow("payout batch settled", "requested", len(ids), "paid", n)
	}
	return n, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
