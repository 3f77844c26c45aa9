package market

import (
	"math"
	"testing"
)

func TestWithheldAmount(t *testing.T) {
	cases := []struct {
		payment  Payment
		amount   int64
		withheld bool
	}{
		{NoPayment(), 0, false},
		{ToReserve(100), 0, false},
		{Reserved(100), 100, true},
		{ReadyToPay(100), 100, true},
		{Paid(100), 0, false},
		{Refund(100), 0, false},
	}
	for _, c := range cases {
		amount, ok := c.payment.WithheldAmount()
		if ok != c.withheld || amount != c.amount {
			t.Errorf("WithheldAmount(%s) = (%d, %v), want (%d, %v)",
				c.payment.Kind, amount, ok, c.amount, c.withheld)
		}
	}
}

func TestAddAmount(t *testing.T) {
	if sum, ok := AddAmount(40, 2); !ok || sum != 42 {
		t.Errorf("AddAmount(40, 2) = (%d, %v)", sum, ok)
	}
	if _, ok := AddAmount(math.MaxInt64, 1); ok {
		t.Error("AddAmount should report overflow at the top end")
	}
	if _, ok := AddAmount(math.MinInt64, -1); ok {
		t.Error("AddAmount should report overflow at the bottom end")
	}
	if sum, ok := AddAmount(math.MaxInt64, 0); !ok || sum != math.MaxInt64 {
		t.Error("AddAmount should allow identity at the boundary")
	}
}
