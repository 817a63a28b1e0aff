package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const recipeCacheTTL = 10 * time.Minute

// ProductIngredient is one recipe line: making one unit of the product
// requires QtyRequired of the ingredient.
type ProductIngredient struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ProductId    int             `gorm:"index:idx_product_ingredient,unique;not null" json:"product_id"`
	IngredientId int             `gorm:"index:idx_product_ingredient,unique;not null" json:"ingredient_id"`
	QtyRequired  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_required"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecipeEntry struct {
	IngredientId int             `json:"ingredient_id" binding:"required"`
	QtyRequired  decimal.Decimal `json:"qty_required" binding:"required"`
}

type RecipeReplaceInput struct {
	ProductId int              `json:"product_id" binding:"required"`
	Entries   []NewRecipeEntry `json:"entries"`
}

// RecipeReplaceResult carries the per-product outcome of a bulk
// replace. One product failing never blocks the others.
type RecipeReplaceResult struct {
	ProductId int    `json:"product_id"`
	Ok        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

func recipeCacheKey(productId int) string {
	return fmt.Sprintf("recipe:product:%d", productId)
}

func invalidateRecipeCache(productId int) {
	if err := config.RemoveRedisKey(recipeCacheKey(productId)); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "invalidateRecipeCache", "remove key", productId, err)
	}
}

// GetProductRecipe returns the recipe lines for a product, cache-first.
func GetProductRecipe(ctx context.Context, productId int) ([]*ProductIngredient, error) {
	var cached []*ProductIngredient
	if found, err := config.GetRedisObject(recipeCacheKey(productId), &cached); err == nil && found {
		return cached, nil
	}

	db := config.GetDB()
	var entries []*ProductIngredient
	err := db.WithContext(ctx).
		Where("product_id = ?", productId).
		Order("ingredient_id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	if err := config.SetRedisObject(recipeCacheKey(productId), entries, recipeCacheTTL); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "GetProductRecipe", "cache set", productId, err)
	}

	return entries, nil
}

func (input NewRecipeEntry) validate(ctx context.Context) error {
	if input.QtyRequired.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "qty_required", Reason: "must be positive"}
	}
	if err := utils.ValidateResourceId[Ingredient](ctx, input.IngredientId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return &NotFoundError{Resource: "ingredient", Id: input.IngredientId}
		}
		return err
	}
	return nil
}

// AddRecipeEntry creates or updates the (product, ingredient) line.
func AddRecipeEntry(ctx context.Context, productId int, input *NewRecipeEntry) (*ProductIngredient, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Product](ctx, productId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &NotFoundError{Resource: "product", Id: productId}
		}
		return nil, err
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	var entry ProductIngredient
	err := db.WithContext(ctx).
		Where("product_id = ? AND ingredient_id = ?", productId, input.IngredientId).
		First(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = ProductIngredient{
			ProductId:    productId,
			IngredientId: input.IngredientId,
			QtyRequired:  input.QtyRequired,
		}
		if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		entry.QtyRequired = input.QtyRequired
		if err := db.WithContext(ctx).Model(&ProductIngredient{}).
			Where("id = ?", entry.ID).
			Update("qty_required", input.QtyRequired).Error; err != nil {
			return nil, err
		}
	}

	invalidateRecipeCache(productId)
	return &entry, nil
}

func RemoveRecipeEntry(ctx context.Context, productId int, ingredientId int) error {
	db := config.GetDB()

	result := db.WithContext(ctx).
		Where("product_id = ? AND ingredient_id = ?", productId, ingredientId).
		Delete(&ProductIngredient{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "recipe entry", Id: ingredientId}
	}

	invalidateRecipeCache(productId)
	return nil
}

// ReplaceProductRecipes swaps each product's full recipe for the given
// entry set. Each product runs in its own transaction so one bad
// product does not roll back the rest.
func ReplaceProductRecipes(ctx context.Context, inputs []RecipeReplaceInput) []RecipeReplaceResult {
	results := make([]RecipeReplaceResult, 0, len(inputs))
	for _, in := range inputs {
		err := replaceOneProductRecipe(ctx, in)
		r := RecipeReplaceResult{ProductId: in.ProductId, Ok: err == nil}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func replaceOneProductRecipe(ctx context.Context, input RecipeReplaceInput) error {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return &NotFoundError{Resource: "product", Id: input.ProductId}
		}
		return err
	}

	seen := map[int]bool{}
	for _, e := range input.Entries {
		if seen[e.IngredientId] {
			return &ValidationError{Field: "entries", Reason: fmt.Sprintf("duplicate ingredient %d", e.IngredientId)}
		}
		seen[e.IngredientId] = true
		if err := e.validate(ctx); err != nil {
			return err
		}
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	if err := tx.Where("product_id = ?", input.ProductId).Delete(&ProductIngredient{}).Error; err != nil {
		return err
	}
	for _, e := range input.Entries {
		entry := ProductIngredient{
			ProductId:    input.ProductId,
			IngredientId: e.IngredientId,
			QtyRequired:  e.QtyRequired,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	invalidateRecipeCache(input.ProductId)
	return nil
}
