package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAggregateDemandSharedIngredients(t *testing.T) {
	// Burger and double burger share patty and bun.
	entries := []models.ProductIngredient{
		{ProductId: 1, IngredientId: 10, QtyRequired: dec("1")},    // patty
		{ProductId: 1, IngredientId: 11, QtyRequired: dec("1")},    // bun
		{ProductId: 2, IngredientId: 10, QtyRequired: dec("2")},    // patty
		{ProductId: 2, IngredientId: 11, QtyRequired: dec("1")},    // bun
		{ProductId: 3, IngredientId: 12, QtyRequired: dec("0.25")}, // potato
	}
	items := []models.OrderItem{
		{ProductId: 1, Qty: 2},
		{ProductId: 2, Qty: 1},
		{ProductId: 3, Qty: 3},
	}

	demand := AggregateDemand(entries, items)

	if len(demand) != 3 {
		t.Fatalf("expected demand on 3 ingredients, got %d", len(demand))
	}
	if !demand[10].Equal(dec("4")) {
		t.Errorf("patty demand = %s, want 4", demand[10])
	}
	if !demand[11].Equal(dec("3")) {
		t.Errorf("bun demand = %s, want 3", demand[11])
	}
	if !demand[12].Equal(dec("0.75")) {
		t.Errorf("potato demand = %s, want 0.75", demand[12])
	}
}

func TestAggregateDemandNoRecipes(t *testing.T) {
	items := []models.OrderItem{{ProductId: 9, Qty: 5}}
	demand := AggregateDemand(nil, items)
	if len(demand) != 0 {
		t.Fatalf("recipe-free items must produce no demand, got %v", demand)
	}
}

func TestSortedIngredientIdsDeterministic(t *testing.T) {
	demand := map[int]decimal.Decimal{
		7: dec("1"), 3: dec("2"), 11: dec("4"), 1: dec("1"),
	}
	ids := sortedIngredientIds(demand)
	want := []int{1, 3, 7, 11}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("lock order must ascend: got %v, want %v", ids, want)
		}
	}
}
