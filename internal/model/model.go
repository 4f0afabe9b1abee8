// Package model defines the core domain types for the resource reservation system.
package model

import "time"

const (
	// UnlimitedStock marks a Resource or Event whose stock is unbounded.
	UnlimitedStock = 0
	// ClaimAll is the allocation quantity that consumes the whole stock of a resource.
	ClaimAll = -1
)

// User is a member of an organisation who books events and resources.
type User struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
}

// Resource is a finite (or unlimited) piece of equipment, room or seat pool.
type Resource struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	ResourceType   string `json:"resource_type"`
	Name           string `json:"name"`
	Stock          int    `json:"stock"`
	Deleted        bool   `json:"deleted"`
}

// Unlimited reports whether the resource stock is unbounded.
func (r *Resource) Unlimited() bool {
	return r.Stock == UnlimitedStock
}

// Claim resolves an allocation quantity against the resource stock.
// A ClaimAll quantity occupies the whole current stock.
func (r *Resource) Claim(quantity int) int {
	if quantity == ClaimAll {
		return r.Stock
	}
	return quantity
}

// Activity is a scheduled offering that consumes resources on each of its events.
type Activity struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	Stock          int    `json:"stock"`
	Deleted        bool   `json:"deleted"`
}

// Planning links the events of an activity to its periodic plan.
type Planning struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id"`
}

// Event is a time-boxed occurrence produced either by an activity or by a
// flexible reservation, never both.
type Event struct {
	ID         string    `json:"id"`
	ActivityID *string   `json:"activity_id,omitempty"`
	PlanningID *string   `json:"planning_id,omitempty"`
	DateStart  time.Time `json:"date_start"`
	DateStop   time.Time `json:"date_stop"`
	Stock      int       `json:"stock"`
}

// Window returns the half-open interval covered by the event.
func (e *Event) Window() Window {
	return Window{Start: e.DateStart, Stop: e.DateStop}
}

// Duration returns how long the event lasts.
func (e *Event) Duration() time.Duration {
	return e.DateStop.Sub(e.DateStart)
}

// Unlimited reports whether the event accepts any number of seats.
func (e *Event) Unlimited() bool {
	return e.Stock == UnlimitedStock
}

// Reservation books seats of an event for a user.
type Reservation struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// BookedEvent is a reservation together with the event it holds seats on.
type BookedEvent struct {
	Reservation Reservation `json:"reservation"`
	Event       Event       `json:"event"`
}

// ReservationType scopes which resources a flexible reservation may draw from.
type ReservationType struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
}

// FlexiReservation is a booking that creates its own single-use event.
type FlexiReservation struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ReservationTypeID string    `json:"reservation_type_id"`
	EventID           string    `json:"event_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// AllocationKind tells which container an allocation row belongs to.
type AllocationKind int

const (
	// ActivityAllocation rows are ActivityResource links.
	ActivityAllocation AllocationKind = iota + 1
	// FlexiAllocation rows are FlexiReservationResource links.
	FlexiAllocation
)

func (k AllocationKind) String() string {
	switch k {
	case ActivityAllocation:
		return "activity_resource"
	case FlexiAllocation:
		return "flexi_reservation_resource"
	default:
		return "unknown"
	}
}

// Allocation is a quantity-bearing link between a container (activity or
// flexible reservation) and a resource. (ContainerID, ResourceID) is unique
// per kind.
type Allocation struct {
	ID          string         `json:"id"`
	Kind        AllocationKind `json:"-"`
	ContainerID string         `json:"container_id"`
	ResourceID  string         `json:"resource_id"`
	Quantity    int            `json:"quantity"`
}

// Usage is one allocation row as seen through one event instance of its container.
type Usage struct {
	Allocation
	EventID string
	Window  Window
}

// FlexiBooking is the outcome of a flexible reservation: the reservation, the
// event it created and the resources it holds.
type FlexiBooking struct {
	Reservation FlexiReservation `json:"reservation"`
	Event       Event            `json:"event"`
	Resources   []Allocation     `json:"resources"`
}
