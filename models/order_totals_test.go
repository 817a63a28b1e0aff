package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyOrderCharges(t *testing.T) {
	order := Order{
		TaxRate:           dec("5"),
		ServiceChargeRate: dec("10"),
		Discount:          dec("2"),
	}
	if err := order.ApplyOrderCharges(dec("40")); err != nil {
		t.Fatalf("ApplyOrderCharges: %v", err)
	}

	if !order.Subtotal.Equal(dec("40")) {
		t.Errorf("subtotal = %s, want 40", order.Subtotal)
	}
	if !order.TaxAmount.Equal(dec("2")) {
		t.Errorf("tax = %s, want 2", order.TaxAmount)
	}
	if !order.ServiceChargeAmount.Equal(dec("4")) {
		t.Errorf("service charge = %s, want 4", order.ServiceChargeAmount)
	}
	if !order.TotalAmount.Equal(dec("44")) {
		t.Errorf("total = %s, want 44", order.TotalAmount)
	}

	// Invariant: total = subtotal + tax + service charge - discount.
	sum := order.Subtotal.Add(order.TaxAmount).Add(order.ServiceChargeAmount).Sub(order.DiscountAmount)
	if !order.TotalAmount.Equal(sum) {
		t.Errorf("total invariant broken: %s != %s", order.TotalAmount, sum)
	}
}

func TestApplyOrderChargesZeroRates(t *testing.T) {
	var order Order
	if err := order.ApplyOrderCharges(dec("12.5")); err != nil {
		t.Fatalf("ApplyOrderCharges: %v", err)
	}
	if !order.TaxAmount.IsZero() || !order.ServiceChargeAmount.IsZero() {
		t.Errorf("zero rates must yield zero charges, got tax=%s service=%s", order.TaxAmount, order.ServiceChargeAmount)
	}
	if !order.TotalAmount.Equal(dec("12.5")) {
		t.Errorf("total = %s, want 12.5", order.TotalAmount)
	}
}

func TestApplyOrderChargesFractionalRounding(t *testing.T) {
	order := Order{TaxRate: dec("7.5")}
	if err := order.ApplyOrderCharges(dec("9.99")); err != nil {
		t.Fatalf("ApplyOrderCharges: %v", err)
	}
	// (9.99 / 100 rounded to 4dp) * 7.5 = 0.0999 * 7.5
	if !order.TaxAmount.Equal(dec("0.74925")) {
		t.Errorf("tax = %s, want 0.74925", order.TaxAmount)
	}
}

func TestApplyOrderChargesPercentDiscount(t *testing.T) {
	order := Order{Discount: dec("10"), DiscountType: "P"}
	if err := order.ApplyOrderCharges(dec("80")); err != nil {
		t.Fatalf("ApplyOrderCharges: %v", err)
	}
	if !order.DiscountAmount.Equal(dec("8")) {
		t.Errorf("discount = %s, want 8", order.DiscountAmount)
	}
	if !order.TotalAmount.Equal(dec("72")) {
		t.Errorf("total = %s, want 72", order.TotalAmount)
	}
}

func TestApplyOrderChargesDiscountTooLarge(t *testing.T) {
	order := Order{Discount: dec("50")}
	err := order.ApplyOrderCharges(dec("40"))
	if err == nil {
		t.Fatal("expected error when discount exceeds total")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}
