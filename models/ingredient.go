package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ingredient holds the live stock level. CurrentStock is only ever
// mutated alongside an IngredientHistory row, inside the same
// transaction.
type Ingredient struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Name         string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Unit         string          `gorm:"size:20;not null" json:"unit" binding:"required"`
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	MinimumStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewIngredient struct {
	Name         string          `json:"name" binding:"required"`
	Unit         string          `json:"unit" binding:"required"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

// StockAdjustmentInput is the manual ledger entry a manager makes
// outside the order flow.
type StockAdjustmentInput struct {
	Operation StockOperation  `json:"operation" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	Note      string          `json:"note"`
}

func (ing Ingredient) IsLowStock() bool {
	return ing.CurrentStock.LessThanOrEqual(ing.MinimumStock)
}

func CreateIngredient(ctx context.Context, input *NewIngredient) (*Ingredient, error) {
	db := config.GetDB()

	if input.CurrentStock.IsNegative() || input.MinimumStock.IsNegative() {
		return nil, &ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	if err := utils.ValidateUnique[Ingredient](ctx, "name", input.Name, 0); err != nil {
		return nil, &ValidationError{Field: "name", Reason: err.Error()}
	}

	ingredient := Ingredient{
		Name:         input.Name,
		Unit:         input.Unit,
		CurrentStock: input.CurrentStock,
		MinimumStock: input.MinimumStock,
		UnitCost:     input.UnitCost,
	}

	if err := db.WithContext(ctx).Create(&ingredient).Error; err != nil {
		return nil, err
	}

	if ingredient.CurrentStock.GreaterThan(decimal.Zero) {
		actorName, _ := utils.GetActorNameFromContext(ctx)
		row := IngredientHistory{
			IngredientId:  ingredient.ID,
			Operation:     StockOperationRestock,
			Qty:           ingredient.CurrentStock,
			PreviousStock: decimal.Zero,
			NewStock:      ingredient.CurrentStock,
			Note:          "opening stock",
			ActorName:     actorName,
		}
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, err
		}
	}

	return &ingredient, nil
}

func GetIngredient(ctx context.Context, id int) (*Ingredient, error) {
	db := config.GetDB()

	var ingredient Ingredient
	err := db.WithContext(ctx).First(&ingredient, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "ingredient", Id: id}
	}
	if err != nil {
		return nil, err
	}
	return &ingredient, nil
}

func GetIngredients(ctx context.Context) ([]*Ingredient, error) {
	db := config.GetDB()

	var ingredients []*Ingredient
	if err := db.WithContext(ctx).Order("name asc").Limit(config.SearchLimit * 4).Find(&ingredients).Error; err != nil {
		return nil, err
	}
	return ingredients, nil
}

func GetLowStockIngredients(ctx context.Context) ([]*Ingredient, error) {
	db := config.GetDB()

	var ingredients []*Ingredient
	err := db.WithContext(ctx).
		Where("current_stock <= minimum_stock").
		Order("name asc").
		Find(&ingredients).Error
	if err != nil {
		return nil, err
	}
	return ingredients, nil
}

// AdjustIngredientStock applies a manual restock/spoilage/adjustment.
// Restock must be positive and spoilage negative after normalization;
// adjustment takes the signed qty as given. The resulting stock may
// never go below zero.
func AdjustIngredientStock(ctx context.Context, ingredientId int, input *StockAdjustmentInput) (*Ingredient, error) {
	db := config.GetDB()

	if input.Qty.IsZero() {
		return nil, &ValidationError{Field: "qty", Reason: "must not be zero"}
	}

	var delta decimal.Decimal
	switch input.Operation {
	case StockOperationRestock:
		if input.Qty.IsNegative() {
			return nil, &ValidationError{Field: "qty", Reason: "restock qty must be positive"}
		}
		delta = input.Qty
	case StockOperationSpoilage:
		// Accept either sign on input; ledger delta is negative.
		delta = input.Qty.Abs().Neg()
	case StockOperationAdjustment:
		delta = input.Qty
	default:
		return nil, &ValidationError{Field: "operation", Reason: "must be restock, spoilage or adjustment"}
	}

	actorName, _ := utils.GetActorNameFromContext(ctx)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	var ingredient Ingredient
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ingredient, ingredientId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "ingredient", Id: ingredientId}
	}
	if err != nil {
		return nil, err
	}

	newStock := ingredient.CurrentStock.Add(delta)
	if newStock.IsNegative() {
		return nil, &InsufficientStockError{
			IngredientId:   ingredient.ID,
			IngredientName: ingredient.Name,
			Needed:         delta.Neg(),
			Available:      ingredient.CurrentStock,
		}
	}

	row := IngredientHistory{
		IngredientId:  ingredient.ID,
		Operation:     input.Operation,
		Qty:           delta,
		PreviousStock: ingredient.CurrentStock,
		NewStock:      newStock,
		Note:          input.Note,
		ActorName:     actorName,
	}
	if err := AppendIngredientHistory(tx, &row); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	ingredient.CurrentStock = newStock
	return &ingredient, nil
}
