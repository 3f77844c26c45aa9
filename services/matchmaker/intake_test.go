package matchmaker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/c2h5oh/datasize"

	core "proofmarket-backend/core/market"
	storage "proofmarket-backend/storage/market"
)

func completeRequest(nonce uint64) core.SignedRequest {
	req := requestWithMinRAM(nonce, 16*datasize.GB)
	req.Payload.Prover = json.RawMessage(`{"image":"prover:v1"}`)
	req.Payload.Verifier = json.RawMessage(`{"image":"verifier:v1"}`)
	return req
}

func TestSubmitAcceptsValidRequest(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	engine := NewEngine(store, nil, nil, nil)

	id, status, err := engine.Submit(ctx, completeRequest(1))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if status.Kind != core.StatusAccepted {
		t.Errorf("valid request should be accepted, got %s", status.Kind)
	}
	rec, err := store.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if rec.Status.Kind != core.StatusAccepted {
		t.Errorf("stored status = %s, want accepted", rec.Status.Kind)
	}
}

func TestSubmitRejectsIncompleteRequest(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	engine := NewEngine(store, nil, nil, nil)

	req := completeRequest(1)
	req.Signature = ""

	id, status, err := engine.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if status.Kind != core.StatusRejected || status.Reason != "missing signature" {
		t.Errorf("status = %s(%q), want rejected(missing signature)", status.Kind, status.Reason)
	}
	rec, _ := store.GetRequest(ctx, id)
	if rec.Status.Kind != core.StatusRejected {
		t.Errorf("stored status = %s, want rejected", rec.Status.Kind)
	}
}

func TestSubmitDuplicate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	engine := NewEngine(store, nil, nil, nil)

	if _, _, err := engine.Submit(ctx, completeRequest(1)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, _, err := engine.Submit(ctx, completeRequest(1)); err != storage.ErrRequestExists {
		t.Errorf("duplicate submit should return ErrRequestExists, got %v", err)
	}
}

func TestSettleBatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	engine := NewEngine(store, nil, nil, nil)

	id, _, err := engine.Submit(ctx, completeRequest(1))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	store.SetPayment(ctx, id, core.ReadyToPay(250))

	n, err := engine.SettleBatch(ctx, []core.RequestID{id})
	if err != nil || n != 1 {
		t.Fatalf("SettleBatch = (%d, %v), want (1, nil)", n, err)
	}
	rec, _ := store.GetRequest(ctx, id)
	if rec.Payment.Kind != core.PaymentPaid || rec.Payment.Amount != 250 {
		t.Errorf("payment = %s(%d), want paid(250)", rec.Payment.Kind, rec.Payment.Amount)
	}
}
