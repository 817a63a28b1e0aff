package models

import (
	"errors"
	"strconv"
)

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeout  OrderType = "takeout"
	OrderTypeDelivery OrderType = "delivery"
)

func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

// convert input to enum type
func (t *OrderType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("order type must be string")
	}
	orderTypes := map[string]OrderType{
		"dine_in":  OrderTypeDineIn,
		"takeout":  OrderTypeTakeout,
		"delivery": OrderTypeDelivery,
	}
	v, ok := orderTypes[str]
	if !ok {
		return errors.New("invalid order type")
	}
	*t = v
	return nil
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("order status must be string")
	}
	orderStatuses := map[string]OrderStatus{
		"pending":   OrderStatusPending,
		"confirmed": OrderStatusConfirmed,
		"preparing": OrderStatusPreparing,
		"ready":     OrderStatusReady,
		"served":    OrderStatusServed,
		"completed": OrderStatusCompleted,
		"cancelled": OrderStatusCancelled,
	}
	v, ok := orderStatuses[str]
	if !ok {
		return errors.New("invalid order status")
	}
	*s = v
	return nil
}

// IsTerminal reports whether no further transitions leave this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type OrderItemStatus string

const (
	OrderItemStatusPending   OrderItemStatus = "pending"
	OrderItemStatusPreparing OrderItemStatus = "preparing"
	OrderItemStatusReady     OrderItemStatus = "ready"
	OrderItemStatusServed    OrderItemStatus = "served"
)

func (s OrderItemStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *OrderItemStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("order item status must be string")
	}
	itemStatuses := map[string]OrderItemStatus{
		"pending":   OrderItemStatusPending,
		"preparing": OrderItemStatusPreparing,
		"ready":     OrderItemStatusReady,
		"served":    OrderItemStatusServed,
	}
	v, ok := itemStatuses[str]
	if !ok {
		return errors.New("invalid order item status")
	}
	*s = v
	return nil
}

type StockOperation string

const (
	StockOperationOrderConsumption  StockOperation = "order_consumption"
	StockOperationOrderCancellation StockOperation = "order_cancellation"
	StockOperationRestock           StockOperation = "restock"
	StockOperationAdjustment        StockOperation = "adjustment"
	StockOperationSpoilage          StockOperation = "spoilage"
)

func (o StockOperation) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(o))), nil
}

func (o *StockOperation) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("stock operation must be string")
	}
	operations := map[string]StockOperation{
		"order_consumption":  StockOperationOrderConsumption,
		"order_cancellation": StockOperationOrderCancellation,
		"restock":            StockOperationRestock,
		"adjustment":         StockOperationAdjustment,
		"spoilage":           StockOperationSpoilage,
	}
	v, ok := operations[str]
	if !ok {
		return errors.New("invalid stock operation")
	}
	*o = v
	return nil
}

type ActorRole string

const (
	ActorRoleServer  ActorRole = "server"
	ActorRoleKitchen ActorRole = "kitchen"
	ActorRoleCashier ActorRole = "cashier"
	ActorRoleManager ActorRole = "manager"
)

func (r ActorRole) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(r))), nil
}

func (r *ActorRole) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("actor role must be string")
	}
	roles := map[string]ActorRole{
		"server":  ActorRoleServer,
		"kitchen": ActorRoleKitchen,
		"cashier": ActorRoleCashier,
		"manager": ActorRoleManager,
	}
	v, ok := roles[str]
	if !ok {
		return errors.New("invalid actor role")
	}
	*r = v
	return nil
}
