// Package service implements the booking protocol: every operation locks what
// it touches, computes availability under those locks, validates and writes
// inside a single entity store transaction.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

// BookingService runs the booking protocol against an entity store.
type BookingService struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a BookingService.
type Option func(*BookingService)

// WithClock replaces the wall clock used for past-window checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *BookingService) { s.now = now }
}

// NewBookingService constructs a BookingService. A nil logger disables logging.
func NewBookingService(store Store, logger *zap.Logger, opts ...Option) *BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BookingService{store: store, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run executes fn as one transaction and normalises whatever comes out of it
// into a tagged error.
func (s *BookingService) run(ctx context.Context, op string, fn func(tx Tx) error) error {
	err := s.store.WithinTx(ctx, fn)
	if err == nil {
		return nil
	}
	err = storeErr(err, op)
	kind := KindOf(err)
	if kind == KindStoreUnavailable {
		s.log.Warn("transaction aborted", zap.String("op", op), zap.Error(err))
	} else {
		s.log.Debug("operation rejected", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}

// BookEvent reserves quantity seats of an event for a user.
func (s *BookingService) BookEvent(ctx context.Context, eventID, userID string, quantity int) (*model.Reservation, error) {
	var res *model.Reservation
	err := s.run(ctx, "book event", func(tx Tx) error {
		if err := validateSeatQuantity(quantity); err != nil {
			return err
		}
		e, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return storeErr(err, "event "+eventID)
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return storeErr(err, "user "+userID)
		}

		seats, err := availableSeats(ctx, tx, e, "")
		if err != nil {
			return err
		}
		if !seats.Covers(quantity) {
			return fail(KindInsufficientCapacity, "event %s has %d seats left, %d requested", e.ID, seats.Quantity, quantity)
		}

		res = &model.Reservation{
			ID:        uuid.New().String(),
			EventID:   e.ID,
			UserID:    userID,
			Quantity:  quantity,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.InsertReservation(ctx, res); err != nil {
			return storeErr(err, "insert reservation")
		}
		return validateEvent(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("event booked",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.Int("quantity", quantity),
	)
	return res, nil
}

// BookResources creates a flexible reservation holding the requested
// quantities of each resource over w. Either every resource is granted or
// nothing is written.
func (s *BookingService) BookResources(ctx context.Context, userID, reservationTypeID string, w model.Window, quantities map[string]int) (*model.FlexiBooking, error) {
	var booking *model.FlexiBooking
	err := s.run(ctx, "book resources", func(tx Tx) error {
		if err := validateFutureWindow(w, s.now()); err != nil {
			return err
		}
		if len(quantities) == 0 {
			return fail(KindInvalidQuantity, "at least one resource must be requested")
		}
		ids := sortedKeys(quantities)
		for _, id := range ids {
			if err := validateAllocationQuantity(quantities[id]); err != nil {
				return err
			}
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return storeErr(err, "user "+userID)
		}
		rt, err := tx.GetReservationType(ctx, reservationTypeID)
		if err != nil {
			return storeErr(err, "reservation type "+reservationTypeID)
		}
		if rt.OrganisationID != user.OrganisationID {
			return fail(KindResourceNotAllowed, "reservation type %s belongs to another organisation", rt.ID)
		}
		if err := checkAllowed(ctx, tx, rt.ID, ids); err != nil {
			return err
		}

		locked, err := lockResources(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			r, q := locked[id], quantities[id]
			if err := checkAllocatable(r, rt.OrganisationID); err != nil {
				return err
			}
			if err := checkFits(r, q); err != nil {
				return err
			}
			avail, err := availableStock(ctx, tx, r, w, "")
			if err != nil {
				return err
			}
			if !avail.Covers(r.Claim(q)) {
				return fail(KindInsufficientCapacity, "resource %s has %d left in the requested window, %d requested",
					r.ID, avail.Quantity, r.Claim(q))
			}
		}

		booking = &model.FlexiBooking{
			Event: model.Event{
				ID:        uuid.New().String(),
				DateStart: w.Start,
				DateStop:  w.Stop,
				Stock:     1,
			},
		}
		booking.Reservation = model.FlexiReservation{
			ID:                uuid.New().String(),
			UserID:            user.ID,
			ReservationTypeID: rt.ID,
			EventID:           booking.Event.ID,
			CreatedAt:         s.now().UTC(),
		}
		if err := tx.InsertEvent(ctx, &booking.Event); err != nil {
			return storeErr(err, "insert event")
		}
		if err := tx.InsertFlexiReservation(ctx, &booking.Reservation); err != nil {
			return storeErr(err, "insert flexible reservation")
		}
		for _, id := range ids {
			row, err := addOrMerge(ctx, tx, model.FlexiAllocation, booking.Reservation.ID, locked[id], quantities[id], nil)
			if err != nil {
				return err
			}
			booking.Resources = append(booking.Resources, *row)
		}
		return validateEvent(ctx, tx, &booking.Event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("resources booked",
		zap.String("flexi_reservation_id", booking.Reservation.ID),
		zap.String("user_id", userID),
		zap.Int("resources", len(booking.Resources)),
		zap.Time("date_start", w.Start),
		zap.Time("date_stop", w.Stop),
	)
	return booking, nil
}

// AddActivityResource adds quantity of a resource to the requirements of an
// activity, merging with any existing requirement on the same resource.
func (s *BookingService) AddActivityResource(ctx context.Context, activityID, resourceID string, quantity int) (*model.Allocation, error) {
	var row *model.Allocation
	err := s.run(ctx, "add activity resource", func(tx Tx) error {
		if err := validateAllocationQuantity(quantity); err != nil {
			return err
		}
		r, err := tx.LockResource(ctx, resourceID)
		if err != nil {
			return storeErr(err, "resource "+resourceID)
		}
		a, err := lockActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		if err := checkAllocatable(r, a.OrganisationID); err != nil {
			return err
		}

		events, err := tx.ListActivityEvents(ctx, a.ID)
		if err != nil {
			return storeErr(err, "list events of activity "+a.ID)
		}
		row, err = addOrMerge(ctx, tx, model.ActivityAllocation, a.ID, r, quantity, func(q int) error {
			return admitOnEvents(ctx, tx, r, model.ActivityAllocation, a.ID, events, q)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("activity resource added",
		zap.String("activity_id", activityID),
		zap.String("resource_id", resourceID),
		zap.Int("quantity", row.Quantity),
	)
	return row, nil
}

// AddFlexiReservationResource adds quantity of a resource to an existing
// flexible reservation.
func (s *BookingService) AddFlexiReservationResource(ctx context.Context, flexiReservationID, resourceID string, quantity int) (*model.Allocation, error) {
	var row *model.Allocation
	err := s.run(ctx, "add flexible reservation resource", func(tx Tx) error {
		if err := validateAllocationQuantity(quantity); err != nil {
			return err
		}
		r, err := tx.LockResource(ctx, resourceID)
		if err != nil {
			return storeErr(err, "resource "+resourceID)
		}
		f, err := tx.LockFlexiReservation(ctx, flexiReservationID)
		if err != nil {
			return storeErr(err, "flexible reservation "+flexiReservationID)
		}
		rt, err := tx.GetReservationType(ctx, f.ReservationTypeID)
		if err != nil {
			return storeErr(err, "reservation type "+f.ReservationTypeID)
		}
		if err := checkAllowed(ctx, tx, rt.ID, []string{r.ID}); err != nil {
			return err
		}
		if err := checkAllocatable(r, rt.OrganisationID); err != nil {
			return err
		}

		e, err := tx.GetEvent(ctx, f.EventID)
		if err != nil {
			return storeErr(err, "event "+f.EventID)
		}
		row, err = addOrMerge(ctx, tx, model.FlexiAllocation, f.ID, r, quantity, func(q int) error {
			return admitOnEvents(ctx, tx, r, model.FlexiAllocation, f.ID, []model.Event{*e}, q)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("flexible reservation resource added",
		zap.String("flexi_reservation_id", flexiReservationID),
		zap.String("resource_id", resourceID),
		zap.Int("quantity", row.Quantity),
	)
	return row, nil
}

// SetActivityResourceQuantity overwrites the quantity of an activity requirement.
func (s *BookingService) SetActivityResourceQuantity(ctx context.Context, allocationID string, quantity int) (*model.Allocation, error) {
	return s.setAllocationQuantity(ctx, model.ActivityAllocation, allocationID, quantity)
}

// SetFlexiReservationResourceQuantity overwrites the quantity of a resource
// held by a flexible reservation.
func (s *BookingService) SetFlexiReservationResourceQuantity(ctx context.Context, allocationID string, quantity int) (*model.Allocation, error) {
	return s.setAllocationQuantity(ctx, model.FlexiAllocation, allocationID, quantity)
}

func (s *BookingService) setAllocationQuantity(ctx context.Context, kind model.AllocationKind, id string, quantity int) (*model.Allocation, error) {
	var row *model.Allocation
	err := s.run(ctx, "set "+kind.String()+" quantity", func(tx Tx) error {
		if err := validateAllocationQuantity(quantity); err != nil {
			return err
		}
		// Unlocked read, only to learn which rows to lock.
		probe, err := tx.GetAllocation(ctx, kind, id)
		if err != nil {
			return storeErr(err, kind.String()+" "+id)
		}
		r, err := tx.LockResource(ctx, probe.ResourceID)
		if err != nil {
			return storeErr(err, "resource "+probe.ResourceID)
		}
		if err := lockContainer(ctx, tx, kind, probe.ContainerID); err != nil {
			return err
		}
		if row, err = tx.GetAllocation(ctx, kind, id); err != nil {
			return storeErr(err, kind.String()+" "+id)
		}

		events, err := containerEvents(ctx, tx, kind, row.ContainerID)
		if err != nil {
			return err
		}
		return setQuantity(ctx, tx, row, r, quantity, func(q int) error {
			return admitOnEvents(ctx, tx, r, kind, row.ContainerID, events, q)
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("allocation quantity set",
		zap.Stringer("kind", kind),
		zap.String("allocation_id", id),
		zap.Int("quantity", quantity),
	)
	return row, nil
}

func containerEvents(ctx context.Context, tx Tx, kind model.AllocationKind, containerID string) ([]model.Event, error) {
	if kind == model.ActivityAllocation {
		events, err := tx.ListActivityEvents(ctx, containerID)
		if err != nil {
			return nil, storeErr(err, "list events of activity "+containerID)
		}
		return events, nil
	}
	f, err := tx.GetFlexiReservation(ctx, containerID)
	if err != nil {
		return nil, storeErr(err, "flexible reservation "+containerID)
	}
	e, err := tx.GetEvent(ctx, f.EventID)
	if err != nil {
		return nil, storeErr(err, "event "+f.EventID)
	}
	return []model.Event{*e}, nil
}

// ResizeResourceStock changes the stock of a resource. Shrinking below what
// committed allocations already use is rejected.
func (s *BookingService) ResizeResourceStock(ctx context.Context, resourceID string, stock int) (*model.Resource, error) {
	var r *model.Resource
	err := s.run(ctx, "resize resource stock", func(tx Tx) error {
		if err := validateStock(stock); err != nil {
			return err
		}
		var err error
		if r, err = tx.LockResource(ctx, resourceID); err != nil {
			return storeErr(err, "resource "+resourceID)
		}
		if r.Stock == stock {
			return nil
		}

		resized := *r
		resized.Stock = stock
		if !resized.Unlimited() {
			rows, err := tx.ListResourceAllocations(ctx, r.ID)
			if err != nil {
				return storeErr(err, "list allocations of resource "+r.ID)
			}
			for _, a := range rows {
				if checkFits(&resized, a.Quantity) != nil {
					return fail(KindStockInvariantViolation, "%s %s holds %d of resource %s, new stock is %d",
						a.Kind, a.ID, a.Quantity, r.ID, stock)
				}
			}
			usage, err := tx.ResourceUsage(ctx, r.ID)
			if err != nil {
				return storeErr(err, "load usage of resource "+r.ID)
			}
			for _, u := range usage {
				avail, err := availableStock(ctx, tx, &resized, u.Window, u.EventID)
				if err != nil {
					return err
				}
				if need := resized.Claim(u.Quantity); !avail.Covers(need) {
					return fail(KindStockInvariantViolation, "stock %d of resource %s is below committed usage during event %s",
						stock, r.ID, u.EventID)
				}
			}
		}

		if err := tx.UpdateResourceStock(ctx, r.ID, stock); err != nil {
			return storeErr(err, "update resource "+r.ID)
		}
		r.Stock = stock
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("resource stock resized", zap.String("resource_id", resourceID), zap.Int("stock", stock))
	return r, nil
}

// ResizeEventStock changes the seat stock of an event. Shrinking below the
// seats already reserved is rejected.
func (s *BookingService) ResizeEventStock(ctx context.Context, eventID string, stock int) (*model.Event, error) {
	var e *model.Event
	err := s.run(ctx, "resize event stock", func(tx Tx) error {
		if err := validateStock(stock); err != nil {
			return err
		}
		var err error
		if e, err = tx.LockEvent(ctx, eventID); err != nil {
			return storeErr(err, "event "+eventID)
		}
		if e.Stock == stock {
			return nil
		}

		e.Stock = stock
		seats, err := availableSeats(ctx, tx, e, "")
		if err != nil {
			return err
		}
		if !seats.Covers(0) {
			return fail(KindStockInvariantViolation, "event %s already has %d seats reserved, new stock is %d",
				e.ID, stock-seats.Quantity, stock)
		}
		if err := tx.UpdateEventStock(ctx, e.ID, stock); err != nil {
			return storeErr(err, "update event "+e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("event stock resized", zap.String("event_id", eventID), zap.Int("stock", stock))
	return e, nil
}

// errRequirementsChanged is returned when an activity's requirements moved
// between the unlocked read and the activity lock. Replaying is safe.
var errRequirementsChanged = errors.New("resource requirements changed concurrently")

// AddActivityEvent schedules a new event of an activity over w. Every
// resource the activity requires must have its claim free over w. A nil
// stock inherits the activity's stock.
func (s *BookingService) AddActivityEvent(ctx context.Context, activityID string, w model.Window, stock *int, planningID *string) (*model.Event, error) {
	var e *model.Event
	err := s.run(ctx, "add activity event", func(tx Tx) error {
		if err := validateWindow(w); err != nil {
			return err
		}
		if stock != nil {
			if err := validateStock(*stock); err != nil {
				return err
			}
		}

		// Requirements are read unlocked to know which resources to lock,
		// then read again once the activity is held.
		probe, err := tx.ListAllocations(ctx, model.ActivityAllocation, activityID)
		if err != nil {
			return storeErr(err, "list requirements of activity "+activityID)
		}
		ids := make([]string, 0, len(probe))
		for _, row := range probe {
			ids = append(ids, row.ResourceID)
		}
		locked, err := lockResources(ctx, tx, ids)
		if err != nil {
			return err
		}
		a, err := lockActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		requirements, err := tx.ListAllocations(ctx, model.ActivityAllocation, a.ID)
		if err != nil {
			return storeErr(err, "list requirements of activity "+a.ID)
		}
		for _, row := range requirements {
			if _, ok := locked[row.ResourceID]; !ok {
				return &Error{Kind: KindStoreUnavailable, Message: "activity " + a.ID, Err: errRequirementsChanged}
			}
		}

		if planningID != nil {
			p, err := tx.GetPlanning(ctx, *planningID)
			if err != nil {
				return storeErr(err, "planning "+*planningID)
			}
			if p.ActivityID != a.ID {
				return fail(KindStructuralViolation, "planning %s belongs to another activity", p.ID)
			}
		}

		for _, row := range requirements {
			r := locked[row.ResourceID]
			avail, err := availableStock(ctx, tx, r, w, "")
			if err != nil {
				return err
			}
			if need := r.Claim(row.Quantity); !avail.Covers(need) {
				return fail(KindInsufficientCapacity, "resource %s has %d left in the event window, activity requires %d",
					r.ID, avail.Quantity, need)
			}
		}

		e = &model.Event{
			ID:         uuid.New().String(),
			ActivityID: &a.ID,
			PlanningID: planningID,
			DateStart:  w.Start,
			DateStop:   w.Stop,
			Stock:      a.Stock,
		}
		if stock != nil {
			e.Stock = *stock
		}
		if err := tx.InsertEvent(ctx, e); err != nil {
			return storeErr(err, "insert event")
		}
		return validateEvent(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("activity event added",
		zap.String("activity_id", activityID),
		zap.String("event_id", e.ID),
		zap.Time("date_start", w.Start),
		zap.Time("date_stop", w.Stop),
	)
	return e, nil
}

// checkAllowed rejects any resource outside the reservation type's allowed set.
func checkAllowed(ctx context.Context, tx Tx, reservationTypeID string, resourceIDs []string) error {
	allowed, err := tx.AllowedResourceIDs(ctx, reservationTypeID)
	if err != nil {
		return storeErr(err, "allowed resources of reservation type "+reservationTypeID)
	}
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	for _, id := range resourceIDs {
		if _, ok := set[id]; !ok {
			return fail(KindResourceNotAllowed, "resource %s is not allowed by reservation type %s", id, reservationTypeID)
		}
	}
	return nil
}
