package market

import (
	"context"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"

	core "proofmarket-backend/core/market"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	now := baseTime
	s := NewMemoryStore(nil)
	s.nowFn = func() time.Time { return now }
	return s, &now
}

func testRequest(nonce uint64) core.SignedRequest {
	minRAM := 16 * datasize.GB
	return core.SignedRequest{
		Payload: core.ProofRequest{
			Requester: "requester-1",
			Requirement: core.ResourceRequirement{
				MinRAM: &minRAM,
			},
			Nonce: nonce,
		},
		PublicKey: "0xkey1",
		Signature: "0xsig",
	}
}

func mustCreate(t *testing.T, s *MemoryStore, req core.SignedRequest) core.RequestID {
	t.Helper()
	id, err := s.CreateRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	return id
}

func TestCreateRequest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id := mustCreate(t, s, testRequest(1))
	rec, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if rec.Status.Kind != core.StatusCreated {
		t.Errorf("new request should be created, got %s", rec.Status.Kind)
	}
	if rec.Payment.Kind != core.PaymentNothing {
		t.Errorf("new request should carry no payment, got %s", rec.Payment.Kind)
	}

	if _, err := s.CreateRequest(ctx, testRequest(1)); err != ErrRequestExists {
		t.Errorf("duplicate create should return ErrRequestExists, got %v", err)
	}
}

func TestCreateRequestSeedsDeadline(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	req := testRequest(1)
	deadline := baseTime.Add(time.Hour)
	req.Payload.Deadline = &deadline
	id := mustCreate(t, s, req)

	gotID, gotAt, ok, err := s.NearestDeadline(ctx)
	if err != nil || !ok {
		t.Fatalf("NearestDeadline = (%v, %v)", ok, err)
	}
	if gotID != id || !gotAt.Equal(deadline) {
		t.Errorf("NearestDeadline = (%s, %v), want (%s, %v)", gotID, gotAt, id, deadline)
	}
}

func TestTransitionGuards(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, testRequest(1))

	// Skipping Accepted: Created cannot go straight to Assigned.
	ok, err := s.TransitionStatus(ctx, id, core.Assigned("op-1"))
	if err != nil || ok {
		t.Errorf("Created->Assigned should be a no-op, got (%v, %v)", ok, err)
	}
	rec, _ := s.GetRequest(ctx, id)
	if rec.Status.Kind != core.StatusCreated {
		t.Errorf("guard miss should not change status, got %s", rec.Status.Kind)
	}

	// The happy path end to end.
	proof := core.Proof{Bytes: []byte("p"), Prover: "op-1"}
	steps := []core.ProofStatus{
		core.Accepted(),
		core.Assigned("op-1"),
		core.Acknowledged("op-1"),
		core.BeingTested(proof),
		core.Proven(proof),
	}
	for _, step := range steps {
		ok, err := s.TransitionStatus(ctx, id, step)
		if err != nil || !ok {
			t.Fatalf("transition to %s failed: (%v, %v)", step.Kind, ok, err)
		}
	}

	// Proven is terminal.
	ok, err = s.TransitionStatus(ctx, id, core.Rejected("too late"))
	if err != nil || ok {
		t.Errorf("transition out of terminal state should be a no-op, got (%v, %v)", ok, err)
	}
}

func TestTransitionToCreatedDenied(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, testRequest(1))
	s.TransitionStatus(ctx, id, core.Accepted())

	ok, err := s.TransitionStatus(ctx, id, core.Created())
	if err != nil || ok {
		t.Errorf("transition back to created should be denied, got (%v, %v)", ok, err)
	}
	rec, _ := s.GetRequest(ctx, id)
	if rec.Status.Kind != core.StatusAccepted {
		t.Errorf("status should be unchanged, got %s", rec.Status.Kind)
	}
}

func TestTransitionUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	ok, err := s.TransitionStatus(context.Background(), "missing", core.Accepted())
	if err != nil || ok {
		t.Errorf("unknown id should be a reported no-op, got (%v, %v)", ok, err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, testRequest(1))

	ok, err := s.TransitionStatus(ctx, id, core.Cancelled())
	if err != nil || !ok {
		t.Fatalf("first cancel failed: (%v, %v)", ok, err)
	}
	ok, err = s.TransitionStatus(ctx, id, core.Cancelled())
	if err != nil || ok {
		t.Errorf("second cancel should be a no-op without error, got (%v, %v)", ok, err)
	}
	rec, _ := s.GetRequest(ctx, id)
	if rec.Status.Kind != core.StatusCancelled {
		t.Errorf("request should stay cancelled, got %s", rec.Status.Kind)
	}
}

func TestLastStatusUpdateAdvances(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, testRequest(1))

	rec, _ := s.GetRequest(ctx, id)
	createdAt := rec.LastStatusUpdate

	*now = now.Add(5 * time.Second)
	if ok, _ := s.TransitionStatus(ctx, id, core.Accepted()); !ok {
		t.Fatal("accept failed")
	}
	rec, _ = s.GetRequest(ctx, id)
	if !rec.LastStatusUpdate.After(createdAt) {
		t.Error("successful transition should advance last status update")
	}
	acceptedAt := rec.LastStatusUpdate

	// A guard miss must not touch the timestamp.
	*now = now.Add(5 * time.Second)
	s.TransitionStatus(ctx, id, core.Proven(core.Proof{}))
	rec, _ = s.GetRequest(ctx, id)
	if !rec.LastStatusUpdate.Equal(acceptedAt) {
		t.Error("guard miss should not advance last status update")
	}
}

func TestRequestsNeedingAssignment(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	accepted := mustCreate(t, s, testRequest(1))
	s.TransitionStatus(ctx, accepted, core.Accepted())

	staleAssigned := mustCreate(t, s, testRequest(2))
	s.ForceStatus(staleAssigned, core.Assigned("op-stale"), now.Add(-11*time.Second))

	freshAssigned := mustCreate(t, s, testRequest(3))
	s.ForceStatus(freshAssigned, core.Assigned("op-fresh"), now.Add(-5*time.Second))

	created := mustCreate(t, s, testRequest(4))
	_ = created

	reqs, err := s.RequestsNeedingAssignment(ctx, *now)
	if err != nil {
		t.Fatalf("RequestsNeedingAssignment failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests needing assignment, got %d", len(reqs))
	}
	got := map[core.RequestID]bool{}
	for _, r := range reqs {
		got[r.ID()] = true
	}
	if !got[accepted] || !got[staleAssigned] {
		t.Errorf("expected accepted and stale assigned requests, got %v", got)
	}
}

func TestPaymentLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, testRequest(1))

	// Mark-ready before reservation is a precondition failure.
	if err := s.MarkPaymentReady(ctx, id); err != ErrPaymentNotReserved {
		t.Errorf("mark-ready on unreserved payment should fail, got %v", err)
	}
	if err := s.MarkPaymentReady(ctx, "missing"); err != ErrRequestNotFound {
		t.Errorf("mark-ready on unknown id should fail, got %v", err)
	}

	if err := s.SetPayment(ctx, id, core.ToReserve(500)); err != nil {
		t.Fatalf("SetPayment failed: %v", err)
	}
	if err := s.MarkPaymentReady(ctx, id); err != ErrPaymentNotReserved {
		t.Errorf("mark-ready on to-reserve payment should fail, got %v", err)
	}

	if err := s.SetPayment(ctx, id, core.Reserved(500)); err != nil {
		t.Fatalf("SetPayment failed: %v", err)
	}
	if err := s.MarkPaymentReady(ctx, id); err != nil {
		t.Fatalf("MarkPaymentReady failed: %v", err)
	}
	rec, _ := s.GetRequest(ctx, id)
	if rec.Payment.Kind != core.PaymentReadyToPay || rec.Payment.Amount != 500 {
		t.Errorf("payment should be readyToPay(500), got %s(%d)", rec.Payment.Kind, rec.Payment.Amount)
	}

	n, err := s.MarkBatchPaid(ctx, []core.RequestID{id, "missing"})
	if err != nil || n != 1 {
		t.Errorf("MarkBatchPaid = (%d, %v), want (1, nil)", n, err)
	}
	rec, _ = s.GetRequest(ctx, id)
	if rec.Payment.Kind != core.PaymentPaid || rec.Payment.Amount != 500 {
		t.Errorf("payment should be paid(500), got %s(%d)", rec.Payment.Kind, rec.Payment.Amount)
	}

	// Already paid entries do not flip twice.
	n, _ = s.MarkBatchPaid(ctx, []core.RequestID{id})
	if n != 0 {
		t.Errorf("repeated MarkBatchPaid should flip nothing, got %d", n)
	}
}

func TestWithheldAggregates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, testRequest(1))
	b := mustCreate(t, s, testRequest(2))
	c := mustCreate(t, s, testRequest(3))
	d := mustCreate(t, s, testRequest(4))

	s.SetPayment(ctx, a, core.Reserved(100))
	s.SetPayment(ctx, b, core.Reserved(250))
	s.MarkPaymentReady(ctx, b)
	s.SetPayment(ctx, c, core.Paid(999))
	s.SetPayment(ctx, d, core.ToReserve(40))

	reserved, err := s.ReservedForRequester(ctx, "0xkey1")
	if err != nil || reserved != 100 {
		t.Errorf("ReservedForRequester = (%d, %v), want (100, nil)", reserved, err)
	}
	withheld, err := s.WithheldForRequester(ctx, "0xkey1")
	if err != nil || withheld != 350 {
		t.Errorf("WithheldForRequester = (%d, %v), want (350, nil)", withheld, err)
	}
	other, err := s.WithheldForRequester(ctx, "0xother")
	if err != nil || other != 0 {
		t.Errorf("WithheldForRequester for unknown key = (%d, %v), want (0, nil)", other, err)
	}
}

func TestReadyToPayBatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, testRequest(1))
	s.ForceStatus(a, core.ProofStatus{Kind: core.StatusProven, Operator: "op-1"}, baseTime)
	s.SetPayment(ctx, a, core.ReadyToPay(100))

	b := mustCreate(t, s, testRequest(2))
	s.ForceStatus(b, core.ProofStatus{Kind: core.StatusProven, Operator: "op-1"}, baseTime)
	s.SetPayment(ctx, b, core.ReadyToPay(60))

	c := mustCreate(t, s, testRequest(3))
	s.ForceStatus(c, core.ProofStatus{Kind: core.StatusProven, Operator: "op-2"}, baseTime)
	s.SetPayment(ctx, c, core.ReadyToPay(5))

	// Reserved but not ready: excluded.
	d := mustCreate(t, s, testRequest(4))
	s.ForceStatus(d, core.ProofStatus{Kind: core.StatusProven, Operator: "op-2"}, baseTime)
	s.SetPayment(ctx, d, core.Reserved(1000))

	batch, err := s.ReadyToPayBatch(ctx)
	if err != nil {
		t.Fatalf("ReadyToPayBatch failed: %v", err)
	}
	if len(batch.Requests) != 3 {
		t.Fatalf("expected 3 requests in batch, got %d", len(batch.Requests))
	}
	if got := batch.Payments["op-1"]["requester-1"]; got != 160 {
		t.Errorf("op-1 payout = %d, want 160", got)
	}
	if got := batch.Payments["op-2"]["requester-1"]; got != 5 {
		t.Errorf("op-2 payout = %d, want 5", got)
	}

	payments, ids, err := s.ReadyToPayForOperator(ctx, "op-1")
	if err != nil {
		t.Fatalf("ReadyToPayForOperator failed: %v", err)
	}
	if payments["requester-1"] != 160 || len(ids) != 2 {
		t.Errorf("ReadyToPayForOperator = (%v, %d ids), want 160 across 2 ids", payments, len(ids))
	}
}

func testResource(ram datasize.ByteSize) core.Resource {
	return core.Resource{
		RAM:  core.Memory{Size: ram, Type: core.MemDDR4},
		GPUs: []core.GPU{core.GPUFromModel(core.GPUGeForceRTX3090)},
		CPU:  core.CPUFromModel(core.CPUIntelI7),
	}
}

func TestOperatorLiveness(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	if err := s.RegisterOperator(ctx, "op-1", testResource(32*datasize.GB)); err != nil {
		t.Fatalf("RegisterOperator failed: %v", err)
	}

	ops, _ := s.AvailableOperators(ctx, *now)
	if len(ops) != 1 {
		t.Fatalf("expected 1 available operator, got %d", len(ops))
	}

	// Past the liveness window without a heartbeat: temporarily offline.
	stale := now.Add(core.LivenessWindow + time.Second)
	ops, _ = s.AvailableOperators(ctx, stale)
	if len(ops) != 0 {
		t.Errorf("silent operator should drop out of the available set")
	}
	counts, _ := s.OperatorCounts(ctx, stale)
	if counts.Total != 1 || counts.Online != 0 || counts.TemporaryOffline != 1 {
		t.Errorf("counts = %+v, want total=1 online=0 temporaryOffline=1", counts)
	}

	// A heartbeat brings it back.
	*now = stale
	s.Heartbeat(ctx, "op-1")
	ops, _ = s.AvailableOperators(ctx, stale)
	if len(ops) != 1 {
		t.Error("heartbeat should restore availability")
	}

	// Unregister flips hard offline.
	s.UnregisterOperator(ctx, "op-1")
	counts, _ = s.OperatorCounts(ctx, stale)
	if counts.Total != 1 || counts.Online != 0 || counts.TemporaryOffline != 0 {
		t.Errorf("counts after unregister = %+v, want total=1 online=0 temporaryOffline=0", counts)
	}
	if _, err := s.GetOperator(ctx, "op-1"); err != nil {
		t.Error("unregistered operator record should be retained")
	}
}

func TestReregisterKeepsReputation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RegisterOperator(ctx, "op-1", testResource(32*datasize.GB))
	s.mu.Lock()
	s.operators["op-1"].Reputation = 7
	s.mu.Unlock()
	s.UnregisterOperator(ctx, "op-1")

	if err := s.RegisterOperator(ctx, "op-1", testResource(64*datasize.GB)); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	op, err := s.GetOperator(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperator failed: %v", err)
	}
	if !op.Online {
		t.Error("re-registered operator should be online")
	}
	if op.Reputation != 7 {
		t.Errorf("reputation should survive re-registration, got %d", op.Reputation)
	}
	if op.Resource.RAM.Size != 64*datasize.GB {
		t.Error("re-registration should refresh the resource snapshot")
	}
}

func TestAvailableOperatorsExcludesOccupied(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	s.RegisterOperator(ctx, "op-busy", testResource(32*datasize.GB))
	s.RegisterOperator(ctx, "op-free", testResource(32*datasize.GB))

	id := mustCreate(t, s, testRequest(1))
	s.TransitionStatus(ctx, id, core.Accepted())
	s.TransitionStatus(ctx, id, core.Assigned("op-busy"))

	ops, err := s.AvailableOperators(ctx, *now)
	if err != nil {
		t.Fatalf("AvailableOperators failed: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != "op-free" {
		t.Fatalf("expected only op-free available, got %v", ops)
	}

	// Completion releases the operator.
	proof := core.Proof{Prover: "op-busy"}
	s.TransitionStatus(ctx, id, core.Acknowledged("op-busy"))
	s.TransitionStatus(ctx, id, core.BeingTested(proof))
	s.TransitionStatus(ctx, id, core.Proven(proof))

	ops, _ = s.AvailableOperators(ctx, *now)
	if len(ops) != 2 {
		t.Errorf("proven request should release its operator, got %d available", len(ops))
	}
}

func TestAssignmentRefreshesOperatorLastAssignment(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	s.RegisterOperator(ctx, "op-1", testResource(32*datasize.GB))
	id := mustCreate(t, s, testRequest(1))
	s.TransitionStatus(ctx, id, core.Accepted())

	*now = now.Add(time.Minute)
	s.TransitionStatus(ctx, id, core.Assigned("op-1"))

	op, _ := s.GetOperator(ctx, "op-1")
	if !op.LastAssignment.Equal(*now) {
		t.Errorf("assignment should stamp the operator, got %v want %v", op.LastAssignment, *now)
	}
}

func TestDeadlines(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, _, ok, _ := s.NearestDeadline(ctx); ok {
		t.Error("empty store should have no nearest deadline")
	}

	s.SetDeadline(ctx, "req-b", baseTime.Add(2*time.Hour))
	s.SetDeadline(ctx, "req-a", baseTime.Add(time.Hour))
	s.SetDeadline(ctx, "req-c", baseTime.Add(time.Hour))

	id, at, ok, err := s.NearestDeadline(ctx)
	if err != nil || !ok {
		t.Fatalf("NearestDeadline = (%v, %v)", ok, err)
	}
	if id != "req-a" || !at.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("NearestDeadline = (%s, %v), ties should break on id", id, at)
	}

	cleared, err := s.ClearDeadline(ctx, "req-a")
	if err != nil || cleared == nil || !cleared.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("ClearDeadline = (%v, %v)", cleared, err)
	}
	if cleared, _ := s.ClearDeadline(ctx, "req-a"); cleared != nil {
		t.Error("clearing twice should return nil")
	}

	id, _, _, _ = s.NearestDeadline(ctx)
	if id != "req-c" {
		t.Errorf("next nearest should be req-c, got %s", id)
	}
}
