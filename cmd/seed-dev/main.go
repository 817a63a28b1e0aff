package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
)

// Seeds a small development dataset: a few menu products, their
// ingredients and recipes. Never run this against production.
func main() {
	confirm := flag.String("confirm", "", "Type SEED_DEV to proceed")
	flag.Parse()

	if *confirm != "SEED_DEV" {
		fmt.Fprintln(os.Stderr, "set --confirm=SEED_DEV to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := utils.SetActorNameInContext(context.Background(), "seed-dev")

	ingredients := []models.NewIngredient{
		{Name: "Beef patty", Unit: "pc", CurrentStock: decimal.NewFromInt(100), MinimumStock: decimal.NewFromInt(20), UnitCost: decimal.NewFromFloat(1.5)},
		{Name: "Burger bun", Unit: "pc", CurrentStock: decimal.NewFromInt(120), MinimumStock: decimal.NewFromInt(24), UnitCost: decimal.NewFromFloat(0.4)},
		{Name: "Cheddar slice", Unit: "pc", CurrentStock: decimal.NewFromInt(200), MinimumStock: decimal.NewFromInt(40), UnitCost: decimal.NewFromFloat(0.2)},
		{Name: "Potato", Unit: "kg", CurrentStock: decimal.NewFromInt(50), MinimumStock: decimal.NewFromInt(10), UnitCost: decimal.NewFromFloat(1.1)},
		{Name: "Cola syrup", Unit: "l", CurrentStock: decimal.NewFromInt(30), MinimumStock: decimal.NewFromInt(5), UnitCost: decimal.NewFromFloat(2.0)},
	}
	ingredientIds := map[string]int{}
	for i := range ingredients {
		ing, err := models.CreateIngredient(ctx, &ingredients[i])
		if err != nil {
			fmt.Fprintf(os.Stderr, "create ingredient %s: %v\n", ingredients[i].Name, err)
			os.Exit(1)
		}
		ingredientIds[ing.Name] = ing.ID
		fmt.Printf("ingredient %-14s id=%d\n", ing.Name, ing.ID)
	}

	products := []models.NewProduct{
		{Name: "Cheeseburger", Sku: "BRG-001", UnitPrice: decimal.NewFromFloat(6.5)},
		{Name: "Fries", Sku: "SID-001", UnitPrice: decimal.NewFromFloat(2.5)},
		{Name: "Cola", Sku: "DRK-001", UnitPrice: decimal.NewFromFloat(1.8)},
		{Name: "Gift card", Sku: "MSC-001", UnitPrice: decimal.NewFromInt(10)},
	}
	productIds := map[string]int{}
	for i := range products {
		p, err := models.CreateProduct(ctx, &products[i])
		if err != nil {
			fmt.Fprintf(os.Stderr, "create product %s: %v\n", products[i].Name, err)
			os.Exit(1)
		}
		productIds[p.Name] = p.ID
		fmt.Printf("product %-14s id=%d\n", p.Name, p.ID)
	}

	// Gift card stays recipe-free on purpose: confirming an order of
	// only gift cards must not touch the ledger.
	recipes := []models.RecipeReplaceInput{
		{ProductId: productIds["Cheeseburger"], Entries: []models.NewRecipeEntry{
			{IngredientId: ingredientIds["Beef patty"], QtyRequired: decimal.NewFromInt(1)},
			{IngredientId: ingredientIds["Burger bun"], QtyRequired: decimal.NewFromInt(1)},
			{IngredientId: ingredientIds["Cheddar slice"], QtyRequired: decimal.NewFromInt(2)},
		}},
		{ProductId: productIds["Fries"], Entries: []models.NewRecipeEntry{
			{IngredientId: ingredientIds["Potato"], QtyRequired: decimal.NewFromFloat(0.25)},
		}},
		{ProductId: productIds["Cola"], Entries: []models.NewRecipeEntry{
			{IngredientId: ingredientIds["Cola syrup"], QtyRequired: decimal.NewFromFloat(0.05)},
		}},
	}
	for _, res := range models.ReplaceProductRecipes(ctx, recipes) {
		if !res.Ok {
			fmt.Fprintf(os.Stderr, "recipe for product %d: %s\n", res.ProductId, res.Error)
			os.Exit(1)
		}
		fmt.Printf("recipe set for product %d\n", res.ProductId)
	}

	// Dev tokens for exercising the API by hand, one per role.
	roles := []models.ActorRole{
		models.ActorRoleServer,
		models.ActorRoleKitchen,
		models.ActorRoleCashier,
		models.ActorRoleManager,
	}
	for i, role := range roles {
		token, err := utils.JwtGenerate(i+1, "dev-"+string(role), string(role))
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate token for %s: %v\n", role, err)
			os.Exit(1)
		}
		fmt.Printf("token %-8s %s\n", role, token)
	}

	fmt.Println("seed complete")
}
