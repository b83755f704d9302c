// Package notify is the outbound boundary for order change events. Delivery
// is fire-and-forget: callers never block on a dispatcher and never see its
// errors beyond a log line.
package notify

import (
	"context"
	"log"
	"time"
)

const (
	KindOrderCreated    = "order_created"
	KindOrderUpdated    = "order_updated"
	KindReturnRequested = "return_requested"
)

type Event struct {
	Kind        string    `json:"kind"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	IsPaid      bool      `json:"is_paid"`
	IsDelivered bool      `json:"is_delivered"`
	Total       string    `json:"total"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
	Close() error
}

// LogDispatcher is the dev/test dispatcher: events go to the process log.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher { return &LogDispatcher{} }

func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	log.Printf("[notify] %s order=%s status=%s paid=%v delivered=%v", ev.Kind, ev.OrderID, ev.Status, ev.IsPaid, ev.IsDelivered)
	return nil
}

func (d *LogDispatcher) Close() error { return nil }
