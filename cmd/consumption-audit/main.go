package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
)

// Audits the ingredient ledger against two invariants:
//
//  1. Round trip: every cancelled order's consumption and cancellation
//     rows net to zero per ingredient.
//  2. Continuity: replaying each ingredient's deltas from its oldest
//     row lands exactly on current_stock, and every row's
//     previous/new pair chains correctly.
//
// Read-only; exits non-zero when a violation is found.
func main() {
	ingredientID := flag.Int("ingredient-id", 0, "Optional: restrict continuity check to one ingredient")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	violations := 0

	// Round-trip check over cancelled orders.
	var cancelled []models.Order
	if err := db.Where("current_status = ?", models.OrderStatusCancelled).Find(&cancelled).Error; err != nil {
		fmt.Fprintln(os.Stderr, "load cancelled orders:", err)
		os.Exit(1)
	}
	for _, order := range cancelled {
		var rows []models.IngredientHistory
		err := db.Where("order_id = ?", order.ID).Order("id asc").Find(&rows).Error
		if err != nil {
			fmt.Fprintln(os.Stderr, "load history for order", order.ID, ":", err)
			os.Exit(1)
		}
		net := map[int]decimal.Decimal{}
		for _, row := range rows {
			net[row.IngredientId] = net[row.IngredientId].Add(row.Qty)
		}
		for ingID, sum := range net {
			if !sum.IsZero() {
				violations++
				fmt.Printf("VIOLATION order=%d (%s) ingredient=%d net=%s\n",
					order.ID, order.OrderNumber, ingID, sum.String())
			}
		}
	}
	fmt.Printf("checked %d cancelled orders\n", len(cancelled))

	// Ledger continuity per ingredient.
	var ingredients []models.Ingredient
	q := db.Order("id asc")
	if *ingredientID > 0 {
		q = q.Where("id = ?", *ingredientID)
	}
	if err := q.Find(&ingredients).Error; err != nil {
		fmt.Fprintln(os.Stderr, "load ingredients:", err)
		os.Exit(1)
	}
	for _, ing := range ingredients {
		var rows []models.IngredientHistory
		err := db.Where("ingredient_id = ?", ing.ID).Order("id asc").Find(&rows).Error
		if err != nil {
			fmt.Fprintln(os.Stderr, "load history for ingredient", ing.ID, ":", err)
			os.Exit(1)
		}
		if len(rows) == 0 {
			continue
		}

		running := rows[0].PreviousStock
		for _, row := range rows {
			if !row.PreviousStock.Equal(running) {
				violations++
				fmt.Printf("VIOLATION ingredient=%d history=%d previous_stock=%s, expected %s\n",
					ing.ID, row.ID, row.PreviousStock.String(), running.String())
				running = row.PreviousStock
			}
			expectedNew := running.Add(row.Qty)
			if !row.NewStock.Equal(expectedNew) {
				violations++
				fmt.Printf("VIOLATION ingredient=%d history=%d new_stock=%s, expected %s\n",
					ing.ID, row.ID, row.NewStock.String(), expectedNew.String())
			}
			running = row.NewStock
		}
		if !ing.CurrentStock.Equal(running) {
			violations++
			fmt.Printf("VIOLATION ingredient=%d current_stock=%s, ledger replay gives %s\n",
				ing.ID, ing.CurrentStock.String(), running.String())
		}
	}
	fmt.Printf("checked %d ingredients\n", len(ingredients))

	if violations > 0 {
		fmt.Printf("%d violations found\n", violations)
		os.Exit(2)
	}
	fmt.Println("ledger clean")
}
