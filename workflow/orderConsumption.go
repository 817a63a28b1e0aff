package workflow

import (
	"sort"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LowStockAlert is collected during a reservation and published after
// commit, never from inside the transaction.
type LowStockAlert struct {
	IngredientId   int
	IngredientName string
	CurrentStock   decimal.Decimal
	MinimumStock   decimal.Decimal
}

// AggregateDemand sums recipe requirements across all items:
// demand[ingredient] = sum of qty_required * item qty. Items whose
// product has no recipe entries contribute nothing.
func AggregateDemand(entries []models.ProductIngredient, items []models.OrderItem) map[int]decimal.Decimal {
	byProduct := make(map[int][]models.ProductIngredient)
	for _, e := range entries {
		byProduct[e.ProductId] = append(byProduct[e.ProductId], e)
	}

	demand := make(map[int]decimal.Decimal)
	for _, item := range items {
		itemQty := decimal.NewFromInt(int64(item.Qty))
		for _, e := range byProduct[item.ProductId] {
			demand[e.IngredientId] = demand[e.IngredientId].Add(e.QtyRequired.Mul(itemQty))
		}
	}
	return demand
}

// BuildIngredientDemand loads the recipe entries for the order's
// products and aggregates them.
func BuildIngredientDemand(tx *gorm.DB, items []models.OrderItem) (map[int]decimal.Decimal, error) {
	if len(items) == 0 {
		return map[int]decimal.Decimal{}, nil
	}

	productIds := make([]int, 0, len(items))
	for _, item := range items {
		productIds = append(productIds, item.ProductId)
	}

	var entries []models.ProductIngredient
	err := tx.Where("product_id IN ?", utils.UniqueSlice(productIds)).Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return AggregateDemand(entries, items), nil
}

// sortedIngredientIds gives the deterministic lock order. Concurrent
// reservations over overlapping ingredient sets always lock in the
// same sequence, so they cannot deadlock.
func sortedIngredientIds(demand map[int]decimal.Decimal) []int {
	ids := make([]int, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// lockIngredients reads the demanded rows FOR UPDATE in ascending id
// order.
func lockIngredients(tx *gorm.DB, ids []int) ([]models.Ingredient, error) {
	var ingredients []models.Ingredient
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&ingredients).Error
	if err != nil {
		return nil, err
	}
	return ingredients, nil
}

// ConsumeOrderStock performs the all-or-nothing reservation for a
// confirming order. Every demanded ingredient is locked and checked
// before anything is written; the first shortfall aborts with nothing
// persisted. Returns whether stock was consumed (false for
// zero-recipe orders) and any low-stock alerts for after commit.
func ConsumeOrderStock(tx *gorm.DB, order *models.Order, actorName string) (bool, []LowStockAlert, error) {
	demand, err := BuildIngredientDemand(tx, order.Items)
	if err != nil {
		return false, nil, err
	}
	if len(demand) == 0 {
		// Nothing recipe-tracked on this order; confirm without
		// touching the ledger.
		return false, nil, nil
	}

	ids := sortedIngredientIds(demand)
	ingredients, err := lockIngredients(tx, ids)
	if err != nil {
		return false, nil, err
	}
	if len(ingredients) != len(ids) {
		found := make(map[int]bool, len(ingredients))
		for _, ing := range ingredients {
			found[ing.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return false, nil, &models.NotFoundError{Resource: "ingredient", Id: id}
			}
		}
	}

	// Validate everything before writing anything.
	for _, ing := range ingredients {
		needed := demand[ing.ID]
		if ing.CurrentStock.LessThan(needed) {
			return false, nil, &models.InsufficientStockError{
				IngredientId:   ing.ID,
				IngredientName: ing.Name,
				Needed:         needed,
				Available:      ing.CurrentStock,
			}
		}
	}

	var alerts []LowStockAlert
	for _, ing := range ingredients {
		needed := demand[ing.ID]
		newStock := ing.CurrentStock.Sub(needed)

		row := models.IngredientHistory{
			IngredientId:  ing.ID,
			Operation:     models.StockOperationOrderConsumption,
			Qty:           needed.Neg(),
			PreviousStock: ing.CurrentStock,
			NewStock:      newStock,
			OrderId:       &order.ID,
			Note:          order.OrderNumber,
			ActorName:     actorName,
		}
		if err := models.AppendIngredientHistory(tx, &row); err != nil {
			return false, nil, err
		}

		if newStock.LessThanOrEqual(ing.MinimumStock) {
			alerts = append(alerts, LowStockAlert{
				IngredientId:   ing.ID,
				IngredientName: ing.Name,
				CurrentStock:   newStock,
				MinimumStock:   ing.MinimumStock,
			})
		}
	}

	return true, alerts, nil
}
