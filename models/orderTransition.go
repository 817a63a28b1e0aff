package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Allowed edges of the order state machine. Cancellation is only
// possible before the kitchen finishes; at ready and beyond the food
// is made and the order must run to completion.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusServed},
	OrderStatusServed:    {OrderStatusCompleted},
}

var itemTransitions = map[OrderItemStatus][]OrderItemStatus{
	OrderItemStatusPending:   {OrderItemStatusPreparing},
	OrderItemStatusPreparing: {OrderItemStatusReady},
	OrderItemStatusReady:     {OrderItemStatusServed},
}

func CanTransitionOrder(from OrderStatus, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanTransitionOrderItem(from OrderItemStatus, to OrderItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var itemStatusRank = map[OrderItemStatus]int{
	OrderItemStatusPending:   0,
	OrderItemStatusPreparing: 1,
	OrderItemStatusReady:     2,
	OrderItemStatusServed:    3,
}

// ItemFloorForOrderStatus maps a kitchen-band order target to the
// minimum item status that target implies. Targets outside the band
// say nothing about items.
func ItemFloorForOrderStatus(target OrderStatus) (OrderItemStatus, bool) {
	switch target {
	case OrderStatusPreparing:
		return OrderItemStatusPreparing, true
	case OrderStatusReady:
		return OrderItemStatusReady, true
	case OrderStatusServed:
		return OrderItemStatusServed, true
	}
	return "", false
}

// CascadeOrderItems lifts every item below floor up to floor. An
// order-level kitchen-band transition must leave the stored status and
// the item-derived aggregate in agreement, otherwise the next read
// would report the old derived state. Items already past floor keep
// their state.
func CascadeOrderItems(tx *gorm.DB, order *Order, floor OrderItemStatus) error {
	ids := make([]int, 0, len(order.Items))
	for i := range order.Items {
		if itemStatusRank[order.Items[i].CurrentStatus] < itemStatusRank[floor] {
			ids = append(ids, order.Items[i].ID)
			order.Items[i].CurrentStatus = floor
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&OrderItem{}).
		Where("id IN ?", ids).
		Update("current_status", floor).Error
}

// LockOrder re-reads the order with its items under FOR UPDATE inside
// the caller's transaction.
func LockOrder(tx *gorm.DB, orderId int) (*Order, error) {
	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&order, orderId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "order", Id: orderId}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CasOrderUpdate applies updates guarded by the optimistic version:
// the WHERE clause re-checks it and bumps it, so the guard holds even
// for callers that skipped the advisory lock.
func CasOrderUpdate(tx *gorm.DB, order *Order, expectedVersion int, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")
	result := tx.Model(&Order{}).
		Where("id = ? AND version = ?", order.ID, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &ConflictError{ExpectedVersion: expectedVersion, ActualVersion: order.Version}
	}
	order.Version = expectedVersion + 1
	return nil
}

// CheckOrderVersion compares the caller's version against the locked
// row before any work happens.
func CheckOrderVersion(order *Order, expectedVersion int) error {
	if order.Version != expectedVersion {
		return &ConflictError{ExpectedVersion: expectedVersion, ActualVersion: order.Version}
	}
	return nil
}

// TransitionOrderItem advances one item and re-derives the aggregate
// order status inside the same transaction, so the stored status and
// the item states never drift apart.
func TransitionOrderItem(ctx context.Context, orderId int, itemId int, target OrderItemStatus, expectedVersion int) (*Order, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	order, err := LockOrder(tx, orderId)
	if err != nil {
		return nil, err
	}
	if err := CheckOrderVersion(order, expectedVersion); err != nil {
		return nil, err
	}

	switch order.CurrentStatus {
	case OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady:
		// Kitchen band, items may progress.
	default:
		return nil, &InvalidTransitionError{
			Entity:    "order_item",
			Current:   string(order.CurrentStatus),
			Requested: string(target),
		}
	}

	var item *OrderItem
	for i := range order.Items {
		if order.Items[i].ID == itemId {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		return nil, &NotFoundError{Resource: "order item", Id: itemId}
	}

	if !CanTransitionOrderItem(item.CurrentStatus, target) {
		return nil, &InvalidTransitionError{
			Entity:    "order_item",
			Current:   string(item.CurrentStatus),
			Requested: string(target),
		}
	}

	if err := tx.Model(&OrderItem{}).
		Where("id = ?", item.ID).
		Update("current_status", target).Error; err != nil {
		return nil, err
	}
	item.CurrentStatus = target

	derived := DeriveOrderStatus(order.CurrentStatus, order.Items)
	updates := map[string]interface{}{"current_status": derived}
	if derived == OrderStatusServed && order.ServedAt == nil {
		now := time.Now().UTC()
		updates["served_at"] = &now
		order.ServedAt = &now
	}
	if err := CasOrderUpdate(tx, order, expectedVersion, updates); err != nil {
		return nil, err
	}
	order.CurrentStatus = derived

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return order, nil
}
