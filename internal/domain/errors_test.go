package domain

import (
	"errors"
	"testing"
)

func TestRejectError(t *testing.T) {
	t.Run("wraps sentinel", func(t *testing.T) {
		err := Reject(ErrRiskRejected, "trading frequency limit: %d orders in 60s", 10)

		if !errors.Is(err, ErrRiskRejected) {
			t.Error("Expected error to wrap ErrRiskRejected")
		}
		if errors.Is(err, ErrValidation) {
			t.Error("Expected error not to match ErrValidation")
		}

		want := "risk check rejected: trading frequency limit: 10 orders in 60s"
		if err.Error() != want {
			t.Errorf("Error message = %q, want %q", err.Error(), want)
		}
	})

	t.Run("Reason helper", func(t *testing.T) {
		err := Reject(ErrConflict, "order already filled")
		if got := Reason(err); got != "order already filled" {
			t.Errorf("Reason = %q, want %q", got, "order already filled")
		}

		plain := errors.New("boom")
		if got := Reason(plain); got != "boom" {
			t.Errorf("Reason = %q, want %q", got, "boom")
		}

		if got := Reason(nil); got != "" {
			t.Errorf("Reason(nil) = %q, want empty", got)
		}
	})
}

func TestOrderApplyFill(t *testing.T) {
	o := &Order{
		Status:         OrderStatusPending,
		Amount:         dec("10"),
		FilledAmount:   dec("0"),
		UnfilledAmount: dec("10"),
	}

	o.ApplyFill(dec("4"), now())
	if o.Status != OrderStatusPartiallyFilled {
		t.Errorf("Status = %s, want PARTIALLY_FILLED", o.Status)
	}
	if !o.FilledAmount.Add(o.UnfilledAmount).Equal(o.Amount) {
		t.Error("filled + unfilled != amount after partial fill")
	}

	o.ApplyFill(dec("6"), now())
	if o.Status != OrderStatusFilled {
		t.Errorf("Status = %s, want FILLED", o.Status)
	}
	if o.FilledAt == nil {
		t.Error("FilledAt should be set on full fill")
	}
	if !o.UnfilledAmount.IsZero() {
		t.Errorf("UnfilledAmount = %s, want 0", o.UnfilledAmount)
	}
}

func TestOrderReservation(t *testing.T) {
	buy := &Order{Side: SideBuy, Price: dec("50"), UnfilledAmount: dec("3")}
	if !buy.Reservation().Equal(dec("150")) {
		t.Errorf("buy reservation = %s, want 150", buy.Reservation())
	}

	sell := &Order{Side: SideSell, Price: dec("50"), UnfilledAmount: dec("3")}
	if !sell.Reservation().Equal(dec("3")) {
		t.Errorf("sell reservation = %s, want 3", sell.Reservation())
	}
}
