package repository

import (
	"context"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

// Tx is the set of operations available inside one transaction.
//
// Lock* methods take an exclusive row lock held until the transaction ends,
// block while another transaction holds it, and return the row as read
// under the lock. Getters and listings never lock.
type Tx interface {
	LockResource(ctx context.Context, id string) (*model.Resource, error)
	LockActivity(ctx context.Context, id string) (*model.Activity, error)
	LockEvent(ctx context.Context, id string) (*model.Event, error)
	LockFlexiReservation(ctx context.Context, id string) (*model.FlexiReservation, error)
	LockReservationType(ctx context.Context, id string) (*model.ReservationType, error)

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	GetActivity(ctx context.Context, id string) (*model.Activity, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	GetFlexiReservation(ctx context.Context, id string) (*model.FlexiReservation, error)
	GetReservationType(ctx context.Context, id string) (*model.ReservationType, error)
	GetPlanning(ctx context.Context, id string) (*model.Planning, error)
	GetAllocation(ctx context.Context, kind model.AllocationKind, id string) (*model.Allocation, error)
	FindAllocation(ctx context.Context, kind model.AllocationKind, containerID, resourceID string) (*model.Allocation, error)
	FlexiReservationByEvent(ctx context.Context, eventID string) (*model.FlexiReservation, error)

	ListAllocations(ctx context.Context, kind model.AllocationKind, containerID string) ([]model.Allocation, error)
	// ListResourceAllocations returns the allocation rows of both kinds on resourceID.
	ListResourceAllocations(ctx context.Context, resourceID string) ([]model.Allocation, error)
	ListActivityEvents(ctx context.Context, activityID string) ([]model.Event, error)
	ListReservations(ctx context.Context, eventID string) ([]model.Reservation, error)
	ListUserReservations(ctx context.Context, userID string) ([]model.BookedEvent, error)
	AllowedResourceIDs(ctx context.Context, reservationTypeID string) ([]string, error)

	// OverlappingUsage returns one Usage per (allocation row, event instance)
	// consuming resourceID whose event overlaps w, skipping excludeEventID.
	OverlappingUsage(ctx context.Context, resourceID string, w model.Window, excludeEventID string) ([]model.Usage, error)
	// ResourceUsage is OverlappingUsage over all time.
	ResourceUsage(ctx context.Context, resourceID string) ([]model.Usage, error)

	InsertUser(ctx context.Context, u *model.User) error
	InsertResource(ctx context.Context, r *model.Resource) error
	InsertActivity(ctx context.Context, a *model.Activity) error
	InsertPlanning(ctx context.Context, p *model.Planning) error
	InsertReservationType(ctx context.Context, rt *model.ReservationType) error
	InsertAllowedResource(ctx context.Context, reservationTypeID, resourceID string) error
	InsertEvent(ctx context.Context, e *model.Event) error
	InsertReservation(ctx context.Context, r *model.Reservation) error
	InsertFlexiReservation(ctx context.Context, f *model.FlexiReservation) error
	InsertAllocation(ctx context.Context, a *model.Allocation) error

	UpdateResourceStock(ctx context.Context, id string, stock int) error
	UpdateEventStock(ctx context.Context, id string, stock int) error
	UpdateAllocationQuantity(ctx context.Context, kind model.AllocationKind, id string, quantity int) error

	// Soft deletes keep the row and its allocations but flag it as retired.
	MarkResourceDeleted(ctx context.Context, id string) error
	MarkActivityDeleted(ctx context.Context, id string) error
}
