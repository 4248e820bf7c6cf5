package order

import (
	"time"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
)

var edges = map[Status][]Status{
	StatusPending:   {StatusHeld, StatusCompleted},
	StatusHeld:      {StatusPending},
	StatusCompleted: {StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates moving o to status to on behalf of actor and returns
// the new snapshot. It never persists anything.
//
// Refunding additionally requires a card payment and a manager.
func Transition(o Order, to Status, actor auth.Actor, now time.Time) (Order, error) {
	if !CanTransition(o.Status, to) {
		return Order{}, &IllegalTransitionError{From: o.Status, To: to}
	}

	if to == StatusRefunded {
		if o.PaymentType != PaymentCard {
			return Order{}, &IllegalTransitionError{
				From:   o.Status,
				To:     to,
				Reason: "only card payments can be refunded",
			}
		}
		if err := auth.RequireManager(actor, "refund order"); err != nil {
			return Order{}, err
		}
	} else if err := auth.RequireStaff(actor, "change order status"); err != nil {
		return Order{}, err
	}

	next := o.Clone()
	next.Status = to
	next.UpdatedAt = now
	return next, nil
}
