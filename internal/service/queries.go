package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
)

// Reads in this file take no locks. Their results are advisory and are
// never used to decide a write.

// EventDetails describes an event as shown to callers.
type EventDetails struct {
	Event           model.Event  `json:"event"`
	Flexible        bool         `json:"flexible"`
	DurationSeconds int64        `json:"duration_seconds"`
	Seats           Availability `json:"seats"`
	// Resources are the allocation rows of the activity or flexible
	// reservation that produced the event.
	Resources []model.Allocation `json:"resources"`
}

// ResourceAvailability reports how much of a resource is free over w.
func (s *BookingService) ResourceAvailability(ctx context.Context, resourceID string, w model.Window) (Availability, error) {
	var avail Availability
	err := s.run(ctx, "resource availability", func(tx Tx) error {
		if err := validateWindow(w); err != nil {
			return err
		}
		r, err := tx.GetResource(ctx, resourceID)
		if err != nil {
			return storeErr(err, "resource "+resourceID)
		}
		avail, err = availableStock(ctx, tx, r, w, "")
		return err
	})
	return avail, err
}

// Event returns an event with its free seats.
func (s *BookingService) Event(ctx context.Context, eventID string) (*EventDetails, error) {
	var d *EventDetails
	err := s.run(ctx, "get event", func(tx Tx) error {
		e, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return storeErr(err, "event "+eventID)
		}
		flexible, err := isFlexible(ctx, tx, e)
		if err != nil {
			return err
		}
		seats, err := availableSeats(ctx, tx, e, "")
		if err != nil {
			return err
		}
		rows, err := eventAllocations(ctx, tx, e)
		if err != nil {
			return err
		}
		d = &EventDetails{
			Event:           *e,
			Flexible:        flexible,
			DurationSeconds: int64(e.Duration().Seconds()),
			Seats:           seats,
			Resources:       rows,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// isFlexible reports whether e was created by a flexible reservation.
func isFlexible(ctx context.Context, tx Tx, e *model.Event) (bool, error) {
	if e.ActivityID != nil {
		return false, nil
	}
	_, err := tx.FlexiReservationByEvent(ctx, e.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, storeErr(err, "flexible reservation of event "+e.ID)
	}
}

// eventAllocations returns the allocation rows e consumes through its producer.
func eventAllocations(ctx context.Context, tx Tx, e *model.Event) ([]model.Allocation, error) {
	kind, containerID := model.ActivityAllocation, ""
	if e.ActivityID != nil {
		containerID = *e.ActivityID
	} else {
		f, err := tx.FlexiReservationByEvent(ctx, e.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return []model.Allocation{}, nil
		case err != nil:
			return nil, storeErr(err, "flexible reservation of event "+e.ID)
		}
		kind, containerID = model.FlexiAllocation, f.ID
	}

	rows, err := tx.ListAllocations(ctx, kind, containerID)
	if err != nil {
		return nil, storeErr(err, "list "+kind.String())
	}
	if rows == nil {
		rows = []model.Allocation{}
	}
	return rows, nil
}

// ActivityEventsOfDay lists the events of an activity starting on the
// calendar day of day, in day's location, earliest first. A zero day means
// today.
func (s *BookingService) ActivityEventsOfDay(ctx context.Context, activityID string, day time.Time) ([]model.Event, error) {
	if day.IsZero() {
		day = s.now()
	}
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	until := from.AddDate(0, 0, 1)

	out := []model.Event{}
	err := s.run(ctx, "list events of the day", func(tx Tx) error {
		if _, err := tx.GetActivity(ctx, activityID); err != nil {
			return storeErr(err, "activity "+activityID)
		}
		events, err := tx.ListActivityEvents(ctx, activityID)
		if err != nil {
			return storeErr(err, "list events of activity "+activityID)
		}
		for _, e := range events {
			if !e.DateStart.Before(from) && e.DateStart.Before(until) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpcomingReservations lists the reservations of a user whose event has not
// ended yet, soonest first.
func (s *BookingService) UpcomingReservations(ctx context.Context, userID string) ([]model.BookedEvent, error) {
	now := s.now()
	booked, err := s.userReservations(ctx, userID, func(b model.BookedEvent) bool {
		return b.Event.DateStop.After(now)
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(booked, func(a, b model.BookedEvent) int {
		return a.Event.DateStart.Compare(b.Event.DateStart)
	})
	return booked, nil
}

// PastReservations lists the reservations of a user whose event has ended,
// most recent first.
func (s *BookingService) PastReservations(ctx context.Context, userID string) ([]model.BookedEvent, error) {
	now := s.now()
	booked, err := s.userReservations(ctx, userID, func(b model.BookedEvent) bool {
		return !b.Event.DateStop.After(now)
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(booked, func(a, b model.BookedEvent) int {
		return b.Event.DateStart.Compare(a.Event.DateStart)
	})
	return booked, nil
}

func (s *BookingService) userReservations(ctx context.Context, userID string, keep func(model.BookedEvent) bool) ([]model.BookedEvent, error) {
	var booked []model.BookedEvent
	err := s.run(ctx, "list reservations", func(tx Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return storeErr(err, "user "+userID)
		}
		all, err := tx.ListUserReservations(ctx, userID)
		if err != nil {
			return storeErr(err, "list reservations of user "+userID)
		}
		booked = slices.DeleteFunc(all, func(b model.BookedEvent) bool { return !keep(b) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	if booked == nil {
		booked = []model.BookedEvent{}
	}
	return booked, nil
}
