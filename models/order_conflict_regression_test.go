package models_test

import (
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestStaleVersionIsRejected(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.burger.ID, 1)
	confirmed, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Replay with the pre-confirm version.
	_, err = workflow.TransitionOrder(ctx, order.ID, models.OrderStatusPreparing, order.Version)
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ExpectedVersion != order.Version || conflict.ActualVersion != confirmed.Version {
		t.Errorf("conflict versions expected=%d actual=%d, want %d/%d",
			conflict.ExpectedVersion, conflict.ActualVersion, order.Version, confirmed.Version)
	}

	// The fresh version still works.
	if _, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusPreparing, confirmed.Version); err != nil {
		t.Fatalf("transition with fresh version: %v", err)
	}
}

func TestConcurrentConfirmExactlyOneWins(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.burger.ID, 2)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			var conflict *models.ConflictError
			var invalid *models.InvalidTransitionError
			if !errors.As(err, &conflict) && !errors.As(err, &invalid) {
				t.Errorf("unexpected racer error: %v", err)
			}
			conflicts++
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one racer must win, got %d (conflicts=%d)", wins, conflicts)
	}

	// Stock was consumed exactly once.
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(8)) {
		t.Errorf("patty stock = %s, want 8", got)
	}
	rows, err := models.GetIngredientHistories(ctx, 0, &order.ID)
	if err != nil {
		t.Fatalf("get histories: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected exactly 2 consumption rows, got %d", len(rows))
	}

	reread, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reread.CurrentStatus != models.OrderStatusConfirmed {
		t.Errorf("order status = %s, want confirmed", reread.CurrentStatus)
	}
	if reread.Version != order.Version+1 {
		t.Errorf("version = %d, want %d (single bump)", reread.Version, order.Version+1)
	}
}

func TestEditConfirmedOrderReleasesAndRereserves(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.burger.ID, 4)
	confirmed, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("patty stock = %s, want 6", got)
	}

	// Shrink the order to 1 burger: net hold must drop to 1.
	edited, err := workflow.ReplaceOrderItems(ctx, order.ID,
		[]models.NewOrderItem{{ProductId: menu.burger.ID, Qty: 1}}, confirmed.Version)
	if err != nil {
		t.Fatalf("replace items: %v", err)
	}
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(9)) {
		t.Errorf("patty stock = %s, want 9 after shrink", got)
	}
	if edited.StockConsumed == nil || !*edited.StockConsumed {
		t.Error("edited confirmed order must still hold stock")
	}

	// Growing beyond available stock must fail atomically and leave
	// the previous reservation intact.
	_, err = workflow.ReplaceOrderItems(ctx, order.ID,
		[]models.NewOrderItem{{ProductId: menu.burger.ID, Qty: 50}}, edited.Version)
	var shortfall *models.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(9)) {
		t.Errorf("patty stock = %s, want 9 (failed edit rolls back)", got)
	}

	// Cancel still nets the ledger to zero across the edit.
	reread, _ := models.GetOrder(ctx, order.ID)
	if _, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusCancelled, reread.Version); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("patty stock = %s, want 10 after cancel", got)
	}
	rows, _ := models.GetIngredientHistories(ctx, 0, &order.ID)
	net := decimal.Zero
	for _, row := range rows {
		net = net.Add(row.Qty)
	}
	if !net.IsZero() {
		t.Errorf("ledger net = %s, want 0 across edit and cancel", net)
	}
}
