package models

import (
	"errors"
	"fmt"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusAssigned       OrderStatus = "assigned"
	StatusPickedUp       OrderStatus = "picked_up"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

var (
	ErrUnknownStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// statusRank orders the delivery progression. Cancelled is outside the sequence.
var statusRank = map[OrderStatus]int{
	StatusPending:        0,
	StatusAssigned:       1,
	StatusPickedUp:       2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

// ParseRequestedStatus accepts only statuses a caller may ask for.
func ParseRequestedStatus(value string) (OrderStatus, error) {
	status := OrderStatus(value)
	switch status {
	case StatusAssigned, StatusPickedUp, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
	}
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// TracksLocation reports whether a live location may be recorded in this status.
func (s OrderStatus) TracksLocation() bool {
	return s == StatusAssigned || s == StatusPickedUp || s == StatusOutForDelivery
}

// CheckTransition validates a move from s to next. Moves go forward only; an
// unassigned order can only be assigned or cancelled.
func (s OrderStatus) CheckTransition(next OrderStatus) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidStatusTransition, s)
	}
	if next == StatusCancelled {
		return nil
	}

	from, ok := statusRank[s]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	to, ok := statusRank[next]
	if !ok || next == StatusPending {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if to <= from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, s, next)
	}
	if s == StatusPending && next != StatusAssigned {
		return fmt.Errorf("%w: %s -> %s requires assignment first", ErrInvalidStatusTransition, s, next)
	}
	return nil
}
