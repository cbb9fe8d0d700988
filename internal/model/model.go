package model

import (
	"fmt"
	"strings"
)

// Priority decides which stream an order is routed to.
type Priority string

const (
	PriorityHigh Priority = "HIGH"
	PriorityLow  Priority = "LOW"
)

// ParsePriority accepts HIGH or LOW in any case.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Order is the in-flight event published to the order streams.
type Order struct {
	OrderID   string   `json:"orderId"`
	Product   string   `json:"product"`
	Price     float64  `json:"price"`
	Timestamp int64    `json:"timestamp"` // unix millis at creation
	Priority  Priority `json:"priority"`
}

// PersistedOrder is the durable record keyed by OrderID.
type PersistedOrder struct {
	OrderID   string   `json:"orderId"`
	Product   string   `json:"product"`
	Price     float64  `json:"price"`
	Timestamp int64    `json:"timestamp"`
	Priority  Priority `json:"priority"`
}

// Persisted converts an (already enriched) order to its stored form.
func (o Order) Persisted() PersistedOrder {
	return PersistedOrder{
		OrderID:   o.OrderID,
		Product:   o.Product,
		Price:     o.Price,
		Timestamp: o.Timestamp,
		Priority:  o.Priority,
	}
}

func (o Order) String() string {
	return fmt.Sprintf("Order{id=%s product=%q price=%.2f ts=%d priority=%s}", o.OrderID, o.Product, o.Price, o.Timestamp, o.Priority)
}

func (p PersistedOrder) String() string {
	return fmt.Sprintf("PersistedOrder{id=%s product=%q price=%.2f ts=%d priority=%s}", p.OrderID, p.Product, p.Price, p.Timestamp, p.Priority)
}
