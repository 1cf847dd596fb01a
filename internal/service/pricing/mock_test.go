package pricing

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestMockResolver(t *testing.T) {
	mock := NewMockResolver()
	if mock == nil {
		t.Fatal("expected non-nil mock")
	}

	mock.AddProduct(domain.PriceSnapshot{
		ProductID:      "prod-1",
		ProductName:    "Coffee Beans 1kg",
		UnitPriceMinor: 1499,
		Currency:       "USD",
	})
	mock.AddProduct(domain.PriceSnapshot{
		ProductID:      "prod-2",
		VariantID:      "var-red",
		ProductName:    "Mug",
		VariantName:    "Red",
		UnitPriceMinor: 500,
		Currency:       "USD",
	})

	snap, err := mock.Resolve("prod-1", "")
	if err != nil {
		t.Fatalf("resolve prod-1: %v", err)
	}
	if snap.UnitPriceMinor != 1499 {
		t.Fatalf("unexpected price: %d", snap.UnitPriceMinor)
	}

	snap, err = mock.Resolve("prod-2", "var-red")
	if err != nil {
		t.Fatalf("resolve variant: %v", err)
	}
	if snap.VariantName != "Red" {
		t.Fatalf("unexpected variant snapshot: %+v", snap)
	}

	if _, err := mock.Resolve("prod-2", ""); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound without variant, got %v", err)
	}
	if mock.ResolveCalls != 3 {
		t.Fatalf("unexpected call counter: %d", mock.ResolveCalls)
	}

	mock.ResolveErr = errors.New("catalog down")
	if _, err := mock.Resolve("prod-1", ""); err == nil {
		t.Fatal("expected configured resolve error")
	}
}
