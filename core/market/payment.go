package market

// PaymentKind names an escrow state.
type PaymentKind string

const (
	PaymentNothing    PaymentKind = "nothing"
	PaymentToReserve  PaymentKind = "toReserve"
	PaymentReserved   PaymentKind = "reserved"
	PaymentReadyToPay PaymentKind = "readyToPay"
	PaymentPaid       PaymentKind = "paid"
	PaymentRefund     PaymentKind = "refund"
)

// Payment is the escrow state of a request. Amount is in native-token base
// units and is carried forward unchanged across Reserved → ReadyToPay → Paid.
type Payment struct {
	Kind   PaymentKind `json:"kind"`
	Amount int64       `json:"amount"`
}

func NoPayment() Payment              { return Payment{Kind: PaymentNothing} }
func ToReserve(amount int64) Payment  { return Payment{Kind: PaymentToReserve, Amount: amount} }
func Reserved(amount int64) Payment   { return Payment{Kind: PaymentReserved, Amount: amount} }
func ReadyToPay(amount int64) Payment { return Payment{Kind: PaymentReadyToPay, Amount: amount} }
func Paid(amount int64) Payment       { return Payment{Kind: PaymentPaid, Amount: amount} }
func Refund(amount int64) Payment     { return Payment{Kind: PaymentRefund, Amount: amount} }

// WithheldAmount returns the amount that must not be returned to the
// requester while funds are committed: Reserved and ReadyToPay withhold,
// everything else does not. Paid is ignored because those funds already left
// the requester's account; ToReserve is still recoverable.
func (p Payment) WithheldAmount() (int64, bool) {
	switch p.Kind {
	case PaymentReserved, PaymentReadyToPay:
		return p.Amount, true
	}
	return 0, false
}

// AddAmount adds two base-unit amounts, reporting false on overflow. Callers
// treat overflow as a hard error: a truncated financial total is worse than
// no total.
func AddAmount(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
