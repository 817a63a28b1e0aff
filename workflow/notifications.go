package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
)

const (
	EventOrderConfirmed   = "order_confirmed"
	EventOrderReady       = "order_ready"
	EventLowStock         = "low_stock"
	EventPaymentCompleted = "payment_completed"
)

const publishTimeout = 3 * time.Second

// publishEvent is best-effort and post-commit only. The order is
// already durable; a dead broker must never fail or delay the request
// beyond the short timeout.
func publishEvent(ctx context.Context, event config.PosEvent) {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	event.CorrelationId = correlationId
	event.OccurredAt = time.Now().UTC()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if _, err := config.PublishPosEvent(pubCtx, event); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "workflow", "publishEvent", "publish "+event.Kind, event, err)
	}
}

func NotifyOrderConfirmed(ctx context.Context, order *models.Order) {
	publishEvent(ctx, config.PosEvent{
		Kind:        EventOrderConfirmed,
		OrderId:     order.ID,
		OrderNumber: order.OrderNumber,
	})
}

func NotifyOrderReady(ctx context.Context, order *models.Order) {
	publishEvent(ctx, config.PosEvent{
		Kind:        EventOrderReady,
		OrderId:     order.ID,
		OrderNumber: order.OrderNumber,
	})
}

func NotifyPaymentCompleted(ctx context.Context, order *models.Order) {
	publishEvent(ctx, config.PosEvent{
		Kind:        EventPaymentCompleted,
		OrderId:     order.ID,
		OrderNumber: order.OrderNumber,
		Detail:      order.TotalAmount.String(),
	})
}

func NotifyLowStock(ctx context.Context, alerts []LowStockAlert) {
	for _, alert := range alerts {
		publishEvent(ctx, config.PosEvent{
			Kind:         EventLowStock,
			IngredientId: alert.IngredientId,
			Detail:       alert.IngredientName + " stock " + alert.CurrentStock.String() + " <= minimum " + alert.MinimumStock.String(),
		})
	}
}
