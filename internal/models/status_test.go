package models

import (
	"errors"
	"testing"
)

func TestParseRequestedStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		wantErr bool
	}{
		{value: "assigned"},
		{value: "picked_up"},
		{value: "out_for_delivery"},
		{value: "delivered"},
		{value: "cancelled"},
		{value: "pending", wantErr: true},
		{value: "shipped", wantErr: true},
		{value: "", wantErr: true},
		{value: "DELIVERED", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.value, func(t *testing.T) {
			t.Parallel()
			_, err := ParseRequestedStatus(tc.value)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownStatus) {
					t.Fatalf("expected ErrUnknownStatus, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		ok   bool
	}{
		{name: "pending to assigned", from: StatusPending, to: StatusAssigned, ok: true},
		{name: "assigned to picked up", from: StatusAssigned, to: StatusPickedUp, ok: true},
		{name: "picked up to out for delivery", from: StatusPickedUp, to: StatusOutForDelivery, ok: true},
		{name: "out for delivery to delivered", from: StatusOutForDelivery, to: StatusDelivered, ok: true},
		{name: "assigned skips to delivered", from: StatusAssigned, to: StatusDelivered, ok: true},
		{name: "pending cancelled", from: StatusPending, to: StatusCancelled, ok: true},
		{name: "out for delivery cancelled", from: StatusOutForDelivery, to: StatusCancelled, ok: true},
		{name: "pending cannot skip assignment", from: StatusPending, to: StatusPickedUp},
		{name: "backwards", from: StatusOutForDelivery, to: StatusPickedUp},
		{name: "same status", from: StatusAssigned, to: StatusAssigned},
		{name: "delivered is terminal", from: StatusDelivered, to: StatusCancelled},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusAssigned},
		{name: "back to pending", from: StatusAssigned, to: StatusPending},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.from.CheckTransition(tc.to)
			if tc.ok && err != nil {
				t.Fatalf("expected transition to be allowed, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected transition %s -> %s to be rejected", tc.from, tc.to)
			}
		})
	}
}
