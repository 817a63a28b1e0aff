package workflow

import (
	"sort"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReverseOrderConsumption restores the stock an order is still
// holding, with paired order_cancellation rows mirroring the original
// order_consumption rows.
//
// Auditability: the original rows are never touched. The outstanding
// quantity per ingredient is the net of all consumption and
// cancellation rows for the order, so an order that was edited
// (reversed and re-reserved) still reverses exactly what it holds.
// The caller's stock_consumed guard makes the whole reversal
// exactly-once.
func ReverseOrderConsumption(tx *gorm.DB, order *models.Order, actorName string) error {
	var rows []models.IngredientHistory
	err := tx.Where("order_id = ? AND operation IN ?", order.ID,
		[]models.StockOperation{models.StockOperationOrderConsumption, models.StockOperationOrderCancellation}).
		Find(&rows).Error
	if err != nil {
		return err
	}

	// Consumption deltas are negative and cancellation deltas
	// positive, so a negative net is stock the order still holds.
	net := make(map[int]decimal.Decimal)
	for _, row := range rows {
		net[row.IngredientId] = net[row.IngredientId].Add(row.Qty)
	}

	ids := make([]int, 0, len(net))
	for id, sum := range net {
		if sum.IsNegative() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)

	ingredients, err := lockIngredients(tx, ids)
	if err != nil {
		return err
	}

	for _, ing := range ingredients {
		restore := net[ing.ID].Neg()
		newStock := ing.CurrentStock.Add(restore)

		row := models.IngredientHistory{
			IngredientId:  ing.ID,
			Operation:     models.StockOperationOrderCancellation,
			Qty:           restore,
			PreviousStock: ing.CurrentStock,
			NewStock:      newStock,
			OrderId:       &order.ID,
			Note:          "REV: " + order.OrderNumber,
			ActorName:     actorName,
		}
		if err := models.AppendIngredientHistory(tx, &row); err != nil {
			return err
		}
	}

	return nil
}
