package market

import "time"

// LivenessWindow is how recent an operator's last interaction must be for the
// operator to count as online.
const LivenessWindow = 3 * time.Minute

// OperatorRecord tracks a registered operator. Online flips to false on a
// graceful exit and back to true on reconnection, which also replaces the
// advertised resource snapshot. Reputation may go negative.
type OperatorRecord struct {
	ID              OperatorID `json:"operatorId"`
	Resource        Resource   `json:"resource"`
	Reputation      int64      `json:"reputation"`
	LastInteraction time.Time  `json:"lastInteraction"`
	Online          bool       `json:"online"`
	LastAssignment  time.Time  `json:"lastAssignment"`
}

// IsOnline reports whether the operator is registered online and has been
// heard from within the liveness window. Time is passed in explicitly so the
// check is deterministic under test.
func (o OperatorRecord) IsOnline(now time.Time) bool {
	return o.Online && now.Sub(o.LastInteraction) < LivenessWindow
}

// IsTemporaryOffline reports whether the operator is registered online but
// has gone quiet past the liveness window. Distinct from a graceful exit,
// which clears the online flag.
func (o OperatorRecord) IsTemporaryOffline(now time.Time) bool {
	return o.Online && now.Sub(o.LastInteraction) >= LivenessWindow
}
