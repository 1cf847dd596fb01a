package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestMockGateway_ChargeDefaultsToSuccess(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	result, err := gw.Charge(context.Background(), testIntent(), "tok", "key-1")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !result.Completed() {
		t.Fatalf("expected completed charge, got %+v", result)
	}
	if result.AmountCapturedMinor != 3498 || result.Currency != "USD" {
		t.Fatalf("expected captured amount from intent, got %+v", result)
	}
	if gw.ChargeCalls != 1 {
		t.Fatalf("expected 1 charge call, got %d", gw.ChargeCalls)
	}
}

func TestMockGateway_DeduplicatesByKey(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()

	first, err := gw.Charge(context.Background(), testIntent(), "tok", "key-dup")
	if err != nil {
		t.Fatalf("first charge: %v", err)
	}

	// Между повторами шлюз «ломается», но повтор с тем же ключом обязан
	// вернуть исходный результат, а не новую попытку списания.
	gw.ChargeErr = domain.ErrGatewayUnavailable

	second, err := gw.Charge(context.Background(), testIntent(), "tok", "key-dup")
	if err != nil {
		t.Fatalf("repeat charge: %v", err)
	}
	if second.GatewayRef != first.GatewayRef {
		t.Fatalf("expected deduplicated charge, got %+v", second)
	}
}

func TestMockGateway_Lookup(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.SeedCharge("key-seeded", domain.ChargeResult{
		Outcome:    domain.ChargeCompleted,
		GatewayRef: "ch_seeded",
	})

	result, err := gw.LookupCharge(context.Background(), "key-seeded")
	if err != nil {
		t.Fatalf("lookup seeded charge: %v", err)
	}
	if result.GatewayRef != "ch_seeded" {
		t.Fatalf("unexpected lookup result: %+v", result)
	}

	if _, err := gw.LookupCharge(context.Background(), "key-unknown"); !errors.Is(err, domain.ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestMockGateway_ChargeError(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.ChargeErr = domain.ErrChargeIndeterminate

	if _, err := gw.Charge(context.Background(), testIntent(), "tok", "key-err"); !errors.Is(err, domain.ErrChargeIndeterminate) {
		t.Fatalf("expected configured error, got %v", err)
	}
}
