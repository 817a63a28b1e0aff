package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/shopspring/decimal"
)

type testMenu struct {
	burger   *models.Product
	giftCard *models.Product
	patty    *models.Ingredient
	bun      *models.Ingredient
}

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "resto_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetActorIdInContext(ctx, 1)
	ctx = utils.SetActorNameInContext(ctx, "Test")
	ctx = utils.SetActorRoleInContext(ctx, string(models.ActorRoleManager))
	return ctx
}

// seedMenu creates a recipe-tracked burger (1 patty + 1 bun per unit)
// and a recipe-free gift card.
func seedMenu(t *testing.T, ctx context.Context, pattyStock, bunStock int64) *testMenu {
	t.Helper()

	patty, err := models.CreateIngredient(ctx, &models.NewIngredient{
		Name: fmt.Sprintf("Patty-%d", time.Now().UnixNano()), Unit: "pc",
		CurrentStock: decimal.NewFromInt(pattyStock), MinimumStock: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("create patty: %v", err)
	}
	bun, err := models.CreateIngredient(ctx, &models.NewIngredient{
		Name: fmt.Sprintf("Bun-%d", time.Now().UnixNano()), Unit: "pc",
		CurrentStock: decimal.NewFromInt(bunStock), MinimumStock: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("create bun: %v", err)
	}

	burger, err := models.CreateProduct(ctx, &models.NewProduct{
		Name: "Burger", Sku: fmt.Sprintf("BRG-%d", time.Now().UnixNano()),
		UnitPrice: decimal.NewFromFloat(6.5),
	})
	if err != nil {
		t.Fatalf("create burger: %v", err)
	}
	giftCard, err := models.CreateProduct(ctx, &models.NewProduct{
		Name: "Gift card", Sku: fmt.Sprintf("MSC-%d", time.Now().UnixNano()),
		UnitPrice: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("create gift card: %v", err)
	}

	for _, entry := range []models.NewRecipeEntry{
		{IngredientId: patty.ID, QtyRequired: decimal.NewFromInt(1)},
		{IngredientId: bun.ID, QtyRequired: decimal.NewFromInt(1)},
	} {
		if _, err := models.AddRecipeEntry(ctx, burger.ID, &entry); err != nil {
			t.Fatalf("add recipe entry: %v", err)
		}
	}

	return &testMenu{burger: burger, giftCard: giftCard, patty: patty, bun: bun}
}

func createOrderOf(t *testing.T, ctx context.Context, productId, qty int) *models.Order {
	t.Helper()
	table := 4
	order, err := models.CreateOrder(ctx, &models.NewOrder{
		OrderType:   models.OrderTypeDineIn,
		TableNumber: &table,
		Items:       []models.NewOrderItem{{ProductId: productId, Qty: qty}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func ingredientStock(t *testing.T, ctx context.Context, id int) decimal.Decimal {
	t.Helper()
	ing, err := models.GetIngredient(ctx, id)
	if err != nil {
		t.Fatalf("get ingredient %d: %v", id, err)
	}
	return ing.CurrentStock
}

func TestConfirmConsumesStockAllOrNothing(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.burger.ID, 3)
	confirmed, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.StockConsumed == nil || !*confirmed.StockConsumed {
		t.Error("stock_consumed must be true after confirming a recipe-tracked order")
	}
	if confirmed.Version != order.Version+1 {
		t.Errorf("version = %d, want %d", confirmed.Version, order.Version+1)
	}

	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("patty stock = %s, want 7", got)
	}
	if got := ingredientStock(t, ctx, menu.bun.ID); !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("bun stock = %s, want 7", got)
	}

	rows, err := models.GetIngredientHistories(ctx, 0, &order.ID)
	if err != nil {
		t.Fatalf("get histories: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 consumption rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Operation != models.StockOperationOrderConsumption {
			t.Errorf("operation = %s, want order_consumption", row.Operation)
		}
		if !row.Qty.Equal(decimal.NewFromInt(-3)) {
			t.Errorf("qty = %s, want -3", row.Qty)
		}
		if !row.PreviousStock.Add(row.Qty).Equal(row.NewStock) {
			t.Errorf("row %d breaks previous+qty=new: %s + %s != %s", row.ID, row.PreviousStock, row.Qty, row.NewStock)
		}
		if row.ActorName != "Test" {
			t.Errorf("actor = %q, want Test", row.ActorName)
		}
	}
}

func TestConfirmZeroRecipeOrderSkipsLedger(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.giftCard.ID, 2)
	confirmed, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.StockConsumed != nil && *confirmed.StockConsumed {
		t.Error("stock_consumed must stay false for a zero-recipe order")
	}
	rows, err := models.GetIngredientHistories(ctx, 0, &order.ID)
	if err != nil {
		t.Fatalf("get histories: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no ledger rows, got %d", len(rows))
	}
}

func TestInsufficientStockBlocksConfirmCompletely(t *testing.T) {
	ctx := setupIntegration(t)
	// Enough patties, not enough buns: the patty row must not be
	// written either.
	menu := seedMenu(t, ctx, 10, 2)

	order := createOrderOf(t, ctx, menu.burger.ID, 3)
	_, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	var shortfall *models.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if shortfall.IngredientId != menu.bun.ID {
		t.Errorf("shortfall ingredient = %d, want bun %d", shortfall.IngredientId, menu.bun.ID)
	}
	if !shortfall.Needed.Equal(decimal.NewFromInt(3)) || !shortfall.Available.Equal(decimal.NewFromInt(2)) {
		t.Errorf("shortfall needed=%s available=%s, want 3/2", shortfall.Needed, shortfall.Available)
	}

	// Nothing written, order untouched.
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("patty stock = %s, want 10 (no partial write)", got)
	}
	rows, _ := models.GetIngredientHistories(ctx, 0, &order.ID)
	if len(rows) != 0 {
		t.Errorf("expected no ledger rows, got %d", len(rows))
	}
	reread, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reread.CurrentStatus != models.OrderStatusPending || reread.Version != order.Version {
		t.Errorf("order must stay pending at version %d; got %s v%d", order.Version, reread.CurrentStatus, reread.Version)
	}
}

func TestCancelRestoresStockExactlyOnce(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.burger.ID, 4)
	confirmed, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	cancelled, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusCancelled, confirmed.Version)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.StockConsumed != nil && *cancelled.StockConsumed {
		t.Error("stock_consumed must be false after cancellation")
	}

	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("patty stock = %s, want 10 after round trip", got)
	}
	if got := ingredientStock(t, ctx, menu.bun.ID); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("bun stock = %s, want 10 after round trip", got)
	}

	rows, err := models.GetIngredientHistories(ctx, 0, &order.ID)
	if err != nil {
		t.Fatalf("get histories: %v", err)
	}
	var consumptions, cancellations int
	net := decimal.Zero
	for _, row := range rows {
		net = net.Add(row.Qty)
		switch row.Operation {
		case models.StockOperationOrderConsumption:
			consumptions++
		case models.StockOperationOrderCancellation:
			cancellations++
		}
	}
	if consumptions != 2 || cancellations != 2 {
		t.Errorf("expected 2 consumption and 2 cancellation rows, got %d/%d", consumptions, cancellations)
	}
	if !net.IsZero() {
		t.Errorf("ledger net for cancelled order = %s, want 0", net)
	}

	// A second cancellation is an illegal edge; the ledger must not
	// grow.
	_, err = workflow.TransitionOrder(ctx, order.ID, models.OrderStatusCancelled, cancelled.Version)
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError on double cancel, got %v", err)
	}
	after, _ := models.GetIngredientHistories(ctx, 0, &order.ID)
	if len(after) != len(rows) {
		t.Errorf("double cancel grew the ledger: %d -> %d rows", len(rows), len(after))
	}
}

func TestCancelRejectedOnceReady(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	order := createOrderOf(t, ctx, menu.burger.ID, 1)
	v := order.Version
	for _, target := range []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusPreparing, models.OrderStatusReady} {
		next, err := workflow.TransitionOrder(ctx, order.ID, target, v)
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		v = next.Version
	}

	_, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusCancelled, v)
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError cancelling a ready order, got %v", err)
	}
	if got := ingredientStock(t, ctx, menu.patty.ID); !got.Equal(decimal.NewFromInt(9)) {
		t.Errorf("patty stock = %s, want 9 (reservation stands)", got)
	}
}

func TestOrderTransitionVisibleToNextRead(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 10, 10)

	// Order-level transitions must carry the items with them: the
	// derived aggregate on the next read has to agree with what the
	// transition just returned.
	order := createOrderOf(t, ctx, menu.burger.ID, 2)
	v := order.Version
	walk := []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusReady,
		models.OrderStatusServed,
	}
	for _, target := range walk {
		next, err := workflow.TransitionOrder(ctx, order.ID, target, v)
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		v = next.Version

		reread, err := models.GetOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("get order after %s: %v", target, err)
		}
		if reread.CurrentStatus != target {
			t.Errorf("read after transition to %s reports %s", target, reread.CurrentStatus)
		}
	}

	final, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	for _, item := range final.Items {
		if item.CurrentStatus != models.OrderItemStatusServed {
			t.Errorf("item %d = %s, want served after order-level serve", item.ID, item.CurrentStatus)
		}
	}
	if final.ServedAt == nil {
		t.Error("served_at must be set")
	}
}

func TestItemTransitionsDriveAggregate(t *testing.T) {
	ctx := setupIntegration(t)
	menu := seedMenu(t, ctx, 20, 20)

	table := 7
	order, err := models.CreateOrder(ctx, &models.NewOrder{
		OrderType:   models.OrderTypeDineIn,
		TableNumber: &table,
		Items: []models.NewOrderItem{
			{ProductId: menu.burger.ID, Qty: 1},
			{ProductId: menu.giftCard.ID, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	confirmed, err := workflow.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, order.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	reread, _ := models.GetOrder(ctx, order.ID)
	first, second := reread.Items[0], reread.Items[1]

	cur, err := models.TransitionOrderItem(ctx, order.ID, first.ID, models.OrderItemStatusPreparing, confirmed.Version)
	if err != nil {
		t.Fatalf("item preparing: %v", err)
	}
	if cur.CurrentStatus != models.OrderStatusPreparing {
		t.Errorf("aggregate = %s, want preparing (one item started)", cur.CurrentStatus)
	}

	cur, err = models.TransitionOrderItem(ctx, order.ID, first.ID, models.OrderItemStatusReady, cur.Version)
	if err != nil {
		t.Fatalf("item ready: %v", err)
	}
	if cur.CurrentStatus != models.OrderStatusPreparing {
		t.Errorf("aggregate = %s, want preparing (second item still pending)", cur.CurrentStatus)
	}

	for _, target := range []models.OrderItemStatus{models.OrderItemStatusPreparing, models.OrderItemStatusReady} {
		cur, err = models.TransitionOrderItem(ctx, order.ID, second.ID, target, cur.Version)
		if err != nil {
			t.Fatalf("second item %s: %v", target, err)
		}
	}
	if cur.CurrentStatus != models.OrderStatusReady {
		t.Errorf("aggregate = %s, want ready (all items ready)", cur.CurrentStatus)
	}

	for _, itemId := range []int{first.ID, second.ID} {
		cur, err = models.TransitionOrderItem(ctx, order.ID, itemId, models.OrderItemStatusServed, cur.Version)
		if err != nil {
			t.Fatalf("serve item %d: %v", itemId, err)
		}
	}
	if cur.CurrentStatus != models.OrderStatusServed {
		t.Errorf("aggregate = %s, want served", cur.CurrentStatus)
	}
	if cur.ServedAt == nil {
		t.Error("served_at must be set when the aggregate reaches served")
	}

	// Skipping a state on an item is rejected.
	_, err = models.TransitionOrderItem(ctx, order.ID, first.ID, models.OrderItemStatusPreparing, cur.Version)
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("resto-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("resto-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=resto_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
