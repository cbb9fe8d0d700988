package pipeline

import (
	"errors"
	"fmt"

	"orderflow/internal/model"
)

// DefaultMarkup is the factor applied to the price of every accepted order.
const DefaultMarkup = 1.1

var ErrInvalidPrice = errors.New("price must be greater than zero")

// Validate accepts an order only when its price is strictly positive. NaN is rejected.
// Product and timestamp are not checked.
func Validate(o model.Order) error {
	if !(o.Price > 0) {
		return fmt.Errorf("order %s: %w (got %v)", o.OrderID, ErrInvalidPrice, o.Price)
	}
	return nil
}

// Enrich returns a copy of o with the markup applied to its price. Callers apply it once per delivery.
func Enrich(o model.Order, markup float64) model.Order {
	o.Price *= markup
	return o
}
