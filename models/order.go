package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Order struct {
	ID            int         `gorm:"primary_key" json:"id"`
	OrderNumber   string      `gorm:"uniqueIndex;size:50;not null" json:"order_number"`
	OrderType     OrderType   `gorm:"type:enum('dine_in','takeout','delivery');not null" json:"order_type"`
	TableNumber   *int        `json:"table_number"`
	CurrentStatus OrderStatus `gorm:"type:enum('pending','confirmed','preparing','ready','served','completed','cancelled');not null;index" json:"current_status"`

	// Charge rates are snapshotted at creation so the order's money
	// fields stay reproducible after configuration changes.
	Subtotal            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxRate             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_rate"`
	TaxAmount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	ServiceChargeRate   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"service_charge_rate"`
	ServiceChargeAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"service_charge_amount"`
	Discount            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	DiscountType        string          `gorm:"size:1" json:"discount_type"`
	DiscountAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	TotalAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`

	StockConsumed *bool `gorm:"not null;default:false" json:"stock_consumed"`
	Version       int   `gorm:"not null;default:1" json:"version"`

	Notes       string     `gorm:"type:text" json:"notes"`
	ServedAt    *time.Time `json:"served_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	OrderId             int             `gorm:"index;not null" json:"order_id"`
	ProductId           int             `gorm:"index;not null" json:"product_id"`
	ProductName         string          `gorm:"size:100;not null" json:"product_name"`
	Qty                 int             `gorm:"not null" json:"qty"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	SpecialInstructions string          `gorm:"size:255" json:"special_instructions"`
	CurrentStatus       OrderItemStatus `gorm:"type:enum('pending','preparing','ready','served');not null" json:"current_status"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrder struct {
	OrderType   OrderType       `json:"order_type" binding:"required"`
	TableNumber *int            `json:"table_number"`
	Discount    decimal.Decimal `json:"discount"`
	// "P" applies Discount as a percent of the subtotal; anything
	// else treats it as a flat amount.
	DiscountType string         `json:"discount_type" binding:"omitempty,oneof=P A"`
	Notes        string         `json:"notes"`
	Items        []NewOrderItem `json:"items" binding:"required"`
}

type NewOrderItem struct {
	ProductId           int    `json:"product_id" binding:"required"`
	Qty                 int    `json:"qty" binding:"required"`
	SpecialInstructions string `json:"special_instructions"`
}

func newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}

func (input NewOrder) validate(ctx context.Context) error {
	if len(input.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "order must have at least one item"}
	}
	if input.OrderType == OrderTypeDineIn && (input.TableNumber == nil || *input.TableNumber <= 0) {
		return &ValidationError{Field: "table_number", Reason: "required for dine_in orders"}
	}
	if input.Discount.IsNegative() {
		return &ValidationError{Field: "discount", Reason: "must not be negative"}
	}
	for i, item := range input.Items {
		if item.Qty <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].qty", i), Reason: "must be positive"}
		}
	}

	productIds := make([]int, 0, len(input.Items))
	for _, item := range input.Items {
		productIds = append(productIds, item.ProductId)
	}
	if err := utils.ValidateResourcesId[Product](ctx, productIds); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return &ValidationError{Field: "items", Reason: "unknown product"}
		}
		return err
	}
	return nil
}

// BuildOrderItems snapshots product name and unit price onto fresh
// item rows and returns them with the summed subtotal.
func BuildOrderItems(ctx context.Context, inputs []NewOrderItem) ([]OrderItem, decimal.Decimal, error) {
	db := config.GetDB()

	productIds := make([]int, 0, len(inputs))
	for _, in := range inputs {
		productIds = append(productIds, in.ProductId)
	}
	var products []Product
	if err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(productIds)).Find(&products).Error; err != nil {
		return nil, decimal.Zero, err
	}
	byId := make(map[int]Product, len(products))
	for _, p := range products {
		byId[p.ID] = p
	}

	items := make([]OrderItem, 0, len(inputs))
	subtotal := decimal.Zero
	for i, in := range inputs {
		product, ok := byId[in.ProductId]
		if !ok {
			return nil, decimal.Zero, &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "unknown product"}
		}
		if product.IsActive != nil && !*product.IsActive {
			return nil, decimal.Zero, &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "product is inactive"}
		}
		item := OrderItem{
			ProductId:           product.ID,
			ProductName:         product.Name,
			Qty:                 in.Qty,
			UnitPrice:           product.UnitPrice,
			SpecialInstructions: in.SpecialInstructions,
			CurrentStatus:       OrderItemStatusPending,
		}
		subtotal = subtotal.Add(product.UnitPrice.Mul(decimal.NewFromInt(int64(in.Qty))))
		items = append(items, item)
	}
	return items, subtotal, nil
}

// ApplyOrderCharges recomputes the money fields from the subtotal and
// the order's snapshotted rates. Total = subtotal + tax + service
// charge - discount.
func (o *Order) ApplyOrderCharges(subtotal decimal.Decimal) error {
	taxAmount := utils.CalculatePercentAmount(subtotal, o.TaxRate)
	serviceAmount := utils.CalculatePercentAmount(subtotal, o.ServiceChargeRate)
	discountAmount := utils.CalculateDiscountAmount(subtotal, o.Discount, o.DiscountType)
	total := subtotal.Add(taxAmount).Add(serviceAmount).Sub(discountAmount)
	if total.IsNegative() {
		return &ValidationError{Field: "discount", Reason: "exceeds order total"}
	}
	o.Subtotal = subtotal
	o.TaxAmount = taxAmount
	o.ServiceChargeAmount = serviceAmount
	o.DiscountAmount = discountAmount
	o.TotalAmount = total
	return nil
}

// CreateOrder creates a pending order. Validation runs before any
// side effect; no stock is touched until the order is confirmed.
func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	items, subtotal, err := BuildOrderItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	charges := config.GetChargeConfig()
	order := Order{
		OrderNumber:       newOrderNumber(),
		OrderType:         input.OrderType,
		TableNumber:       input.TableNumber,
		CurrentStatus:     OrderStatusPending,
		TaxRate:           charges.TaxRate,
		ServiceChargeRate: charges.ServiceChargeRate,
		Discount:          input.Discount,
		DiscountType:      input.DiscountType,
		StockConsumed:     utils.NewFalse(),
		Version:           1,
		Notes:             input.Notes,
		Items:             items,
	}
	if err := order.ApplyOrderCharges(subtotal); err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}

	return &order, nil
}

// DeriveOrderStatus computes the aggregate status from item states.
// Terminal and pre-kitchen states pass through unchanged; once the
// order is in the kitchen band the items are the truth:
// all served -> served, all at least ready -> ready, any started ->
// preparing, none started -> confirmed.
func DeriveOrderStatus(current OrderStatus, items []OrderItem) OrderStatus {
	switch current {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return current
	}
	if len(items) == 0 {
		return current
	}

	allServed := true
	allReady := true
	anyStarted := false
	for _, item := range items {
		switch item.CurrentStatus {
		case OrderItemStatusPending:
			allServed = false
			allReady = false
		case OrderItemStatusPreparing:
			allServed = false
			allReady = false
			anyStarted = true
		case OrderItemStatusReady:
			allServed = false
			anyStarted = true
		case OrderItemStatusServed:
			anyStarted = true
		}
	}

	switch {
	case allServed:
		return OrderStatusServed
	case allReady:
		return OrderStatusReady
	case anyStarted:
		return OrderStatusPreparing
	default:
		return OrderStatusConfirmed
	}
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	db := config.GetDB()

	var order Order
	err := db.WithContext(ctx).Preload("Items").First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "order", Id: id}
	}
	if err != nil {
		return nil, err
	}

	// Reads recompute defensively so pollers never see a stale
	// aggregate.
	order.CurrentStatus = DeriveOrderStatus(order.CurrentStatus, order.Items)
	return &order, nil
}

// GetOrders is the polling read. activeOnly keeps completed and
// cancelled orders out of kitchen displays.
func GetOrders(ctx context.Context, status *OrderStatus, activeOnly bool) ([]*Order, error) {
	db := config.GetDB()

	dbCtx := db.WithContext(ctx).Preload("Items").Order("id desc").Limit(config.SearchLimit)
	if status != nil {
		dbCtx = dbCtx.Where("current_status = ?", *status)
	}
	if activeOnly {
		dbCtx = dbCtx.Where("current_status NOT IN ?", []OrderStatus{OrderStatusCompleted, OrderStatusCancelled})
	}

	var orders []*Order
	if err := dbCtx.Find(&orders).Error; err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.CurrentStatus = DeriveOrderStatus(o.CurrentStatus, o.Items)
	}
	return orders, nil
}
