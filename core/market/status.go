package market

import "slices"

// OperatorID identifies a registered operator (hex address).
type OperatorID string

// Proof is the payload produced by an operator for a request.
type Proof struct {
	Bytes  []byte     `json:"proof"`
	Prover OperatorID `json:"prover"`
}

// StatusKind names a proof-request lifecycle state.
type StatusKind string

const (
	StatusCreated      StatusKind = "created"
	StatusAccepted     StatusKind = "accepted"
	StatusCancelled    StatusKind = "cancelled"
	StatusRejected     StatusKind = "rejected"
	StatusAssigned     StatusKind = "assigned"
	StatusAcknowledged StatusKind = "acknowledgedAssignment"
	StatusBeingTested  StatusKind = "proofBeingTested"
	StatusProven       StatusKind = "proven"
)

// ProofStatus is a tagged union: Kind selects which payload field is
// meaningful. Reason accompanies Rejected, Operator accompanies Assigned and
// AcknowledgedAssignment, Proof accompanies ProofBeingTested and Proven.
type ProofStatus struct {
	Kind     StatusKind `json:"kind"`
	Reason   string     `json:"reason,omitempty"`
	Operator OperatorID `json:"operator,omitempty"`
	Proof    *Proof     `json:"proof,omitempty"`
}

func Created() ProofStatus   { return ProofStatus{Kind: StatusCreated} }
func Accepted() ProofStatus  { return ProofStatus{Kind: StatusAccepted} }
func Cancelled() ProofStatus { return ProofStatus{Kind: StatusCancelled} }

func Rejected(reason string) ProofStatus { return ProofStatus{Kind: StatusRejected, Reason: reason} }

func Assigned(op OperatorID) ProofStatus { return ProofStatus{Kind: StatusAssigned, Operator: op} }

func Acknowledged(op OperatorID) ProofStatus {
	return ProofStatus{Kind: StatusAcknowledged, Operator: op}
}

func BeingTested(p Proof) ProofStatus { return ProofStatus{Kind: StatusBeingTested, Proof: &p} }

func Proven(p Proof) ProofStatus { return ProofStatus{Kind: StatusProven, Proof: &p} }

// IsTerminal reports whether no further transition can leave this state.
func (s ProofStatus) IsTerminal() bool {
	switch s.Kind {
	case StatusCancelled, StatusRejected, StatusProven:
		return true
	}
	return false
}

// statusSources is the transition table keyed by target: a transition is
// applied only when the current kind is listed for the requested kind.
// Created has no sources; it can never be re-entered.
var statusSources = map[StatusKind][]StatusKind{
	StatusAccepted:     {StatusCreated},
	StatusCancelled:    {StatusCreated},
	StatusRejected:     {StatusCreated, StatusAcknowledged, StatusBeingTested},
	StatusAssigned:     {StatusAccepted},
	StatusAcknowledged: {StatusAssigned},
	StatusBeingTested:  {StatusAcknowledged},
	StatusProven:       {StatusBeingTested},
}

// CanTransition reports whether the edge current → target is in the table.
func CanTransition(current, target StatusKind) bool {
	return slices.Contains(statusSources[target], current)
}

// TransitionSources returns the allowed source kinds for a target kind.
func TransitionSources(target StatusKind) []StatusKind {
	return slices.Clone(statusSources[target])
}
