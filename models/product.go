package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Description string          `gorm:"type:text" json:"description"`
	Sku         string          `gorm:"index;size:100;not null" json:"sku" binding:"required"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Sku         string          `json:"sku" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	IsActive    *bool           `json:"is_active"`
}

// IsRecipeTracked reports whether confirming an order containing this
// product consumes ingredient stock.
func (p Product) IsRecipeTracked(ctx context.Context) (bool, error) {
	count, err := utils.ResourceCountWhere[ProductIngredient](ctx, "product_id = ?", p.ID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	if input.UnitPrice.IsNegative() {
		return nil, &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if err := utils.ValidateUnique[Product](ctx, "sku", input.Sku, 0); err != nil {
		return nil, &ValidationError{Field: "sku", Reason: err.Error()}
	}

	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}

	product := Product{
		Name:        input.Name,
		Description: input.Description,
		Sku:         input.Sku,
		UnitPrice:   input.UnitPrice,
		IsActive:    isActive,
	}

	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}

	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()

	var product Product
	err := db.WithContext(ctx).First(&product, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "product", Id: id}
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProducts(ctx context.Context, activeOnly bool) ([]*Product, error) {
	db := config.GetDB()

	var products []*Product
	dbCtx := db.WithContext(ctx).Order("name asc").Limit(config.SearchLimit)
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	if err := dbCtx.Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}
