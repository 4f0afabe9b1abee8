package service

import (
	"context"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

// Availability is a free quantity. Unlimited availability covers any request.
type Availability struct {
	Quantity  int  `json:"quantity"`
	Unlimited bool `json:"unlimited"`
}

// Unlimited is the availability of anything whose stock is 0.
var Unlimited = Availability{Unlimited: true}

// Covers reports whether q units fit into the availability.
func (a Availability) Covers(q int) bool {
	return a.Unlimited || a.Quantity >= q
}

// availableStock computes how much of r is free over w. Usage rows are
// counted once per overlapping event instance, with ClaimAll resolved to
// the current stock. Callers must hold the lock on r when the result
// drives a decision.
func availableStock(ctx context.Context, tx Tx, r *model.Resource, w model.Window, excludeEventID string) (Availability, error) {
	if r.Unlimited() {
		return Unlimited, nil
	}

	usage, err := tx.OverlappingUsage(ctx, r.ID, w, excludeEventID)
	if err != nil {
		return Availability{}, storeErr(err, "load resource usage")
	}

	load := 0
	for _, u := range usage {
		load += r.Claim(u.Quantity)
	}
	return Availability{Quantity: r.Stock - load}, nil
}

// availableSeats computes the free seats of e, optionally ignoring one
// reservation. Callers must hold the lock on e.
func availableSeats(ctx context.Context, tx Tx, e *model.Event, excludeReservationID string) (Availability, error) {
	if e.Unlimited() {
		return Unlimited, nil
	}

	reservations, err := tx.ListReservations(ctx, e.ID)
	if err != nil {
		return Availability{}, storeErr(err, "load reservations")
	}

	taken := 0
	for _, r := range reservations {
		if r.ID == excludeReservationID {
			continue
		}
		taken += r.Quantity
	}
	return Availability{Quantity: e.Stock - taken}, nil
}
