package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
)

// TransitionOrder moves an order along one allowed edge inside a
// single transaction: advisory lock, re-read, version check, edge
// check, engine work, compare-and-swap persist. Stock is consumed on
// confirm and restored on cancel; every other edge is a pure status
// move. Notifications go out after commit.
func TransitionOrder(ctx context.Context, orderId int, target models.OrderStatus, expectedVersion int) (*models.Order, error) {
	db := config.GetDB()
	actorName, _ := utils.GetActorNameFromContext(ctx)

	redisLock := obtainBestEffortOrderLock(ctx, orderId)
	defer releaseBestEffortOrderLock(ctx, redisLock)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	if err := AcquireOrderLock(tx, orderId); err != nil {
		return nil, err
	}
	defer ReleaseOrderLock(tx, orderId)

	order, err := models.LockOrder(tx, orderId)
	if err != nil {
		return nil, err
	}
	if err := models.CheckOrderVersion(order, expectedVersion); err != nil {
		return nil, err
	}

	if !models.CanTransitionOrder(order.CurrentStatus, target) {
		return nil, &models.InvalidTransitionError{
			Entity:    "order",
			Current:   string(order.CurrentStatus),
			Requested: string(target),
		}
	}

	if floor, ok := models.ItemFloorForOrderStatus(target); ok {
		if err := models.CascadeOrderItems(tx, order, floor); err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{"current_status": target}
	var lowStockAlerts []LowStockAlert

	now := time.Now().UTC()
	switch target {
	case models.OrderStatusConfirmed:
		consumed, alerts, err := ConsumeOrderStock(tx, order, actorName)
		if err != nil {
			return nil, err
		}
		if consumed {
			updates["stock_consumed"] = true
		}
		lowStockAlerts = alerts
	case models.OrderStatusCancelled:
		if order.StockConsumed != nil && *order.StockConsumed {
			if err := ReverseOrderConsumption(tx, order, actorName); err != nil {
				return nil, err
			}
			updates["stock_consumed"] = false
		}
		updates["cancelled_at"] = &now
	case models.OrderStatusServed:
		updates["served_at"] = &now
	case models.OrderStatusCompleted:
		updates["completed_at"] = &now
	}

	if err := models.CasOrderUpdate(tx, order, expectedVersion, updates); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	order.CurrentStatus = target
	if v, ok := updates["stock_consumed"].(bool); ok {
		order.StockConsumed = &v
	}
	switch target {
	case models.OrderStatusConfirmed:
		NotifyOrderConfirmed(ctx, order)
	case models.OrderStatusReady:
		NotifyOrderReady(ctx, order)
	case models.OrderStatusCompleted:
		NotifyPaymentCompleted(ctx, order)
	}
	NotifyLowStock(ctx, lowStockAlerts)

	return order, nil
}

// ReplaceOrderItems edits an order that is still before the kitchen
// (pending or confirmed). For a confirmed order the original
// reservation is reversed and the new item set re-reserved inside the
// same transaction, so a failed re-reservation rolls everything back
// and the original hold stands.
func ReplaceOrderItems(ctx context.Context, orderId int, newItems []models.NewOrderItem, expectedVersion int) (*models.Order, error) {
	db := config.GetDB()
	actorName, _ := utils.GetActorNameFromContext(ctx)

	if len(newItems) == 0 {
		return nil, &models.ValidationError{Field: "items", Reason: "order must have at least one item"}
	}
	for _, item := range newItems {
		if item.Qty <= 0 {
			return nil, &models.ValidationError{Field: "items", Reason: "qty must be positive"}
		}
	}

	items, subtotal, err := models.BuildOrderItems(ctx, newItems)
	if err != nil {
		return nil, err
	}

	redisLock := obtainBestEffortOrderLock(ctx, orderId)
	defer releaseBestEffortOrderLock(ctx, redisLock)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	if err := AcquireOrderLock(tx, orderId); err != nil {
		return nil, err
	}
	defer ReleaseOrderLock(tx, orderId)

	order, err := models.LockOrder(tx, orderId)
	if err != nil {
		return nil, err
	}
	if err := models.CheckOrderVersion(order, expectedVersion); err != nil {
		return nil, err
	}

	switch order.CurrentStatus {
	case models.OrderStatusPending, models.OrderStatusConfirmed:
	default:
		return nil, &models.InvalidTransitionError{
			Entity:    "order",
			Current:   string(order.CurrentStatus),
			Requested: "edit",
		}
	}

	if order.StockConsumed != nil && *order.StockConsumed {
		if err := ReverseOrderConsumption(tx, order, actorName); err != nil {
			return nil, err
		}
	}

	if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
		return nil, err
	}
	for i := range items {
		items[i].OrderId = order.ID
		if err := tx.Create(&items[i]).Error; err != nil {
			return nil, err
		}
	}
	order.Items = items

	if err := order.ApplyOrderCharges(subtotal); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"subtotal":              order.Subtotal,
		"tax_amount":            order.TaxAmount,
		"service_charge_amount": order.ServiceChargeAmount,
		"discount_amount":       order.DiscountAmount,
		"total_amount":          order.TotalAmount,
	}

	var lowStockAlerts []LowStockAlert
	if order.CurrentStatus == models.OrderStatusConfirmed {
		consumed, alerts, err := ConsumeOrderStock(tx, order, actorName)
		if err != nil {
			return nil, err
		}
		updates["stock_consumed"] = consumed
		lowStockAlerts = alerts
	} else {
		updates["stock_consumed"] = false
	}

	if err := models.CasOrderUpdate(tx, order, expectedVersion, updates); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if v, ok := updates["stock_consumed"].(bool); ok {
		order.StockConsumed = &v
	}
	NotifyLowStock(ctx, lowStockAlerts)

	return order, nil
}
