package market

import "testing"

func TestCanTransition(t *testing.T) {
	allKinds := []StatusKind{
		StatusCreated, StatusAccepted, StatusCancelled, StatusRejected,
		StatusAssigned, StatusAcknowledged, StatusBeingTested, StatusProven,
	}

	allowed := map[StatusKind][]StatusKind{
		StatusAccepted:     {StatusCreated},
		StatusCancelled:    {StatusCreated},
		StatusRejected:     {StatusCreated, StatusAcknowledged, StatusBeingTested},
		StatusAssigned:     {StatusAccepted},
		StatusAcknowledged: {StatusAssigned},
		StatusBeingTested:  {StatusAcknowledged},
		StatusProven:       {StatusBeingTested},
	}

	for _, target := range allKinds {
		sources := map[StatusKind]bool{}
		for _, s := range allowed[target] {
			sources[s] = true
		}
		for _, current := range allKinds {
			got := CanTransition(current, target)
			if got != sources[current] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", current, target, got, sources[current])
			}
		}
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	terminals := []ProofStatus{Cancelled(), Rejected("bad signature"), Proven(Proof{Bytes: []byte{1}, Prover: "op"})}
	targets := []StatusKind{
		StatusAccepted, StatusCancelled, StatusRejected,
		StatusAssigned, StatusAcknowledged, StatusBeingTested, StatusProven,
	}
	for _, st := range terminals {
		if !st.IsTerminal() {
			t.Errorf("%s should be terminal", st.Kind)
		}
		for _, target := range targets {
			if CanTransition(st.Kind, target) {
				t.Errorf("terminal %s should not transition to %s", st.Kind, target)
			}
		}
	}

	for _, st := range []ProofStatus{Created(), Accepted(), Assigned("op"), Acknowledged("op"), BeingTested(Proof{Prover: "op"})} {
		if st.IsTerminal() {
			t.Errorf("%s should not be terminal", st.Kind)
		}
	}
}

func TestStatusConstructorsCarryPayloads(t *testing.T) {
	if got := Rejected("deadline passed").Reason; got != "deadline passed" {
		t.Errorf("rejection reason not carried, got %q", got)
	}
	if got := Assigned("op-1").Operator; got != "op-1" {
		t.Errorf("assigned operator not carried, got %q", got)
	}
	proof := Proof{Bytes: []byte("proof-bytes"), Prover: "op-2"}
	st := Proven(proof)
	if st.Proof == nil || st.Proof.Prover != "op-2" {
		t.Error("proven proof payload not carried")
	}
}
