package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// IngredientHistory is the append-only stock ledger. Rows are never
// updated or deleted; cancellations append new rows that mirror the
// originals. CurrentStock on the ingredient is derivable by replaying
// the deltas in order.
type IngredientHistory struct {
	ID            int             `gorm:"primary_key" json:"id"`
	IngredientId  int             `gorm:"index;not null" json:"ingredient_id"`
	Operation     StockOperation  `gorm:"type:enum('order_consumption','order_cancellation','restock','adjustment','spoilage');not null" json:"operation"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	PreviousStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"previous_stock"`
	NewStock      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"new_stock"`
	OrderId       *int            `gorm:"index" json:"order_id"`
	Note          string          `gorm:"size:255" json:"note"`
	ActorName     string          `gorm:"size:100" json:"actor_name"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// AppendIngredientHistory writes one ledger row and moves the
// ingredient's stock to NewStock. Must be called with the ingredient
// row already locked by the caller's transaction.
func AppendIngredientHistory(tx *gorm.DB, row *IngredientHistory) error {
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	return tx.Model(&Ingredient{}).
		Where("id = ?", row.IngredientId).
		Update("current_stock", row.NewStock).Error
}

func GetIngredientHistories(ctx context.Context, ingredientId int, orderId *int) ([]*IngredientHistory, error) {
	db := config.GetDB()

	var rows []*IngredientHistory
	dbCtx := db.WithContext(ctx).Order("id asc").Limit(config.SearchLimit * 4)
	if ingredientId > 0 {
		dbCtx = dbCtx.Where("ingredient_id = ?", ingredientId)
	}
	if orderId != nil {
		dbCtx = dbCtx.Where("order_id = ?", *orderId)
	}
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
