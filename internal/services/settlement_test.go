package services

import (
	"context"
	"errors"
	"testing"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestComputeSplit(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name       string
		subtotal   string
		discount   string
		fee        string
		tax        string
		hasDriver  bool
		restaurant string
		driver     string
		platform   string
	}{
		{name: "one extra km", subtotal: "10.00", discount: "0", fee: "1.45", tax: "1.60", hasDriver: true, restaurant: "8.70", driver: "0.95", platform: "3.40"},
		{name: "two extra km", subtotal: "20.00", discount: "0", fee: "1.90", tax: "3.20", hasDriver: true, restaurant: "17.40", driver: "1.15", platform: "6.55"},
		{name: "base fee only", subtotal: "10.00", discount: "0", fee: "1.00", tax: "1.60", hasDriver: true, restaurant: "8.70", driver: "0.75", platform: "3.15"},
		{name: "fractional km equivalent", subtotal: "10.00", discount: "0", fee: "1.60", tax: "1.60", hasDriver: true, restaurant: "8.70", driver: "1.02", platform: "3.48"},
		{name: "fee below base", subtotal: "10.00", discount: "0", fee: "0.80", tax: "1.60", hasDriver: true, restaurant: "8.70", driver: "0.60", platform: "3.10"},
		{name: "degraded fee", subtotal: "10.00", discount: "0", fee: "0", tax: "1.60", hasDriver: true, restaurant: "8.70", driver: "0", platform: "2.90"},
		{name: "no driver", subtotal: "10.00", discount: "0", fee: "1.45", tax: "1.60", hasDriver: false, restaurant: "8.70", driver: "0", platform: "4.35"},
		{name: "discount does not reduce share base", subtotal: "12.35", discount: "1.20", fee: "2.12", tax: "1.78", hasDriver: true, restaurant: "10.74", driver: "1.25", platform: "4.26"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &models.Order{
				Subtotal:    d(tt.subtotal),
				Discount:    d(tt.discount),
				DeliveryFee: d(tt.fee),
				Tax:         d(tt.tax),
			}
			split := ComputeSplit(order, tt.hasDriver)

			if !split.Restaurant.Equal(d(tt.restaurant)) {
				t.Errorf("Restaurant = %s, want %s", split.Restaurant, tt.restaurant)
			}
			if !split.Driver.Equal(d(tt.driver)) {
				t.Errorf("Driver = %s, want %s", split.Driver, tt.driver)
			}
			if !split.Platform.Equal(d(tt.platform)) {
				t.Errorf("Platform = %s, want %s", split.Platform, tt.platform)
			}

			total := order.Subtotal.Add(order.DeliveryFee).Add(order.Tax)
			if !split.Total().Equal(total) {
				t.Errorf("split sums to %s, order total %s", split.Total(), total)
			}
		})
	}
}

func TestSettlementLedger_Settle(t *testing.T) {
	ctx := context.Background()

	t.Run("not delivered", func(t *testing.T) {
		h := newHarness(t)
		order := h.newOrder(models.OrderStatusEnRoute)
		if _, err := h.ledger.Settle(ctx, order.ID); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if n := len(h.db.orderEntries(order.ID)); n != 0 {
			t.Errorf("entries = %d, want 0", n)
		}
	})

	t.Run("without driver the fee goes to the platform", func(t *testing.T) {
		h := newHarness(t)
		order := h.newOrder(models.OrderStatusDelivered)

		res, err := h.ledger.Settle(ctx, order.ID)
		if err != nil {
			t.Fatalf("Settle() error = %v", err)
		}
		if !res.Applied || len(res.Postings) != 2 {
			t.Fatalf("unexpected settlement %+v", res)
		}
		checkBalance(t, h.db, h.owner, "8.70")
		checkBalance(t, h.db, h.platform, "4.35")
		if !h.db.order(order.ID).Settled {
			t.Errorf("order must be marked settled")
		}
	})

	t.Run("settle twice", func(t *testing.T) {
		h := newHarness(t)
		order := h.newOrder(models.OrderStatusDelivered)

		for i := 0; i < 2; i++ {
			if _, err := h.ledger.Settle(ctx, order.ID); err != nil {
				t.Fatalf("Settle() #%d error = %v", i+1, err)
			}
		}
		if n := len(h.db.orderEntries(order.ID)); n != 2 {
			t.Errorf("entries = %d, want 2", n)
		}
		checkBalance(t, h.db, h.platform, "4.35")
	})

	t.Run("missing payee wallet fails without posting", func(t *testing.T) {
		h := newHarness(t)
		ledger := NewSettlementLedger(h.db.Orders(), h.db.Wallets(), h.db.Drivers(), h.db.Catalog(), h.db.Audit(), uuid.Nil, h.logger)
		order := h.newOrder(models.OrderStatusDelivered)

		if _, err := ledger.Settle(ctx, order.ID); err == nil {
			t.Fatalf("expected error for missing platform wallet")
		}
		if h.db.order(order.ID).Settled {
			t.Errorf("order must stay unsettled")
		}
	})
}
