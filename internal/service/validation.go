package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
)

func validateAllocationQuantity(q int) error {
	if q == model.ClaimAll || q >= 1 {
		return nil
	}
	return fail(KindInvalidQuantity, "allocation quantity must be positive or %d, got %d", model.ClaimAll, q)
}

func validateSeatQuantity(q int) error {
	if q < 1 {
		return fail(KindInvalidQuantity, "reservation quantity must be at least 1, got %d", q)
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return fail(KindInvalidQuantity, "stock must not be negative, got %d", stock)
	}
	return nil
}

func validateWindow(w model.Window) error {
	if !w.Valid() {
		return fail(KindInvalidTimeWindow, "date_stop %s must be after date_start %s",
			w.Stop.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

func validateFutureWindow(w model.Window, now time.Time) error {
	if err := validateWindow(w); err != nil {
		return err
	}
	if w.Start.Before(now) {
		return fail(KindInvalidTimeWindow, "date_start %s is in the past", w.Start.Format(time.RFC3339))
	}
	return nil
}

// checkFits enforces quantity <= resource.stock on a single allocation row.
func checkFits(r *model.Resource, q int) error {
	if r.Unlimited() || q == model.ClaimAll || q <= r.Stock {
		return nil
	}
	return fail(KindCapacityExceeded, "quantity %d exceeds stock %d of resource %s", q, r.Stock, r.ID)
}

func checkAllocatable(r *model.Resource, organisationID string) error {
	if r.Deleted {
		return fail(KindResourceNotAllowed, "resource %s is deleted", r.ID)
	}
	if r.OrganisationID != organisationID {
		return fail(KindResourceNotAllowed, "resource %s belongs to another organisation", r.ID)
	}
	return nil
}

// admitOnEvents checks that the row of containerID claiming quantity of r
// fits next to everything else using r during each of the events. The row
// is counted at its new quantity on every one of the container's events
// overlapping the one checked, not only on that event.
func admitOnEvents(ctx context.Context, tx Tx, r *model.Resource, kind model.AllocationKind, containerID string, events []model.Event, quantity int) error {
	if r.Unlimited() {
		return nil
	}
	need := r.Claim(quantity)
	for i := range events {
		e := &events[i]
		usage, err := tx.OverlappingUsage(ctx, r.ID, e.Window(), e.ID)
		if err != nil {
			return storeErr(err, "load resource usage")
		}

		load := 0
		for _, u := range usage {
			if u.Kind == kind && u.ContainerID == containerID {
				continue
			}
			load += r.Claim(u.Quantity)
		}
		for j := range events {
			if j != i && events[j].Window().Overlaps(e.Window()) {
				load += need
			}
		}

		if free := r.Stock - load; free < need {
			return fail(KindInsufficientCapacity, "resource %s has %d left during event %s, %d required",
				r.ID, free, e.ID, need)
		}
	}
	return nil
}

// validateEvent runs the structural checks on an event about to be committed.
func validateEvent(ctx context.Context, tx Tx, e *model.Event) error {
	if err := validateWindow(e.Window()); err != nil {
		return err
	}
	if err := validateStock(e.Stock); err != nil {
		return err
	}

	_, err := tx.FlexiReservationByEvent(ctx, e.ID)
	flexible := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return storeErr(err, "load flexible reservation of event "+e.ID)
	}

	switch {
	case e.ActivityID != nil && flexible:
		return fail(KindStructuralViolation, "event %s is linked to both an activity and a flexible reservation", e.ID)
	case e.ActivityID == nil && !flexible:
		return fail(KindStructuralViolation, "event %s has neither an activity nor a flexible reservation", e.ID)
	}

	if e.PlanningID != nil {
		p, err := tx.GetPlanning(ctx, *e.PlanningID)
		if err != nil {
			return storeErr(err, "planning "+*e.PlanningID)
		}
		if e.ActivityID == nil || p.ActivityID != *e.ActivityID {
			return fail(KindStructuralViolation, "planning %s is not associated with the activity of event %s", p.ID, e.ID)
		}
	}

	seats, err := availableSeats(ctx, tx, e, "")
	if err != nil {
		return err
	}
	if !seats.Covers(0) {
		return fail(KindStockInvariantViolation, "event %s has %d more seats reserved than its stock", e.ID, -seats.Quantity)
	}
	return nil
}
