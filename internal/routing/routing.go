// Package routing maps an order priority to the stream it travels on.
package routing

import "orderflow/internal/model"

type Router struct {
	Standard string
	Urgent   string
}

// RouteFor returns the urgent stream for HIGH and the standard stream for everything else.
func (r Router) RouteFor(p model.Priority) string {
	if p == model.PriorityHigh {
		return r.Urgent
	}
	return r.Standard
}
