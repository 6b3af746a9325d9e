package validator

import (
	"testing"

	"github.com/shopspring/decimal"
)

type payment struct {
	Reference string          `json:"reference" validate:"notblank"`
	Amount    decimal.Decimal `json:"amount" validate:"nonnegative"`
}

func TestCustomRules(t *testing.T) {
	val := New()

	if err := val.Struct(payment{Reference: "PAY-1", Amount: decimal.RequireFromString("125.50")}); err != nil {
		t.Fatalf("expected valid payment, got %v", err)
	}
	if err := val.Struct(payment{Reference: "   ", Amount: decimal.Zero}); err == nil {
		t.Fatalf("expected blank reference to fail")
	}
	if err := val.Struct(payment{Reference: "PAY-2", Amount: decimal.NewFromInt(-1)}); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
}
