package model

import "time"

// CreateUserRequest is the payload for registering a user.
type CreateUserRequest struct {
	OrganisationID string `json:"organisation_id"`
}

// CreateResourceRequest is the payload for registering a resource.
type CreateResourceRequest struct {
	OrganisationID string `json:"organisation_id"`
	ResourceType   string `json:"resource_type"`
	Name           string `json:"name"`
	Stock          int    `json:"stock"`
}

// CreateActivityRequest is the payload for registering an activity with its
// initial resource requirements, keyed by resource id.
type CreateActivityRequest struct {
	OrganisationID string         `json:"organisation_id"`
	Name           string         `json:"name"`
	Stock          int            `json:"stock"`
	Resources      map[string]int `json:"resources,omitempty"`
}

// CreateActivityResponse is an activity together with its requirements.
type CreateActivityResponse struct {
	Activity  *Activity    `json:"activity"`
	Resources []Allocation `json:"resources"`
}

// CreateReservationTypeRequest is the payload for registering a reservation type.
type CreateReservationTypeRequest struct {
	OrganisationID string   `json:"organisation_id"`
	Name           string   `json:"name"`
	Resources      []string `json:"resources,omitempty"`
}

// AllowResourceRequest adds a resource to a reservation type.
type AllowResourceRequest struct {
	ResourceID string `json:"resource_id"`
}

// BookEventRequest is the payload for reserving seats on an event.
type BookEventRequest struct {
	UserID   string `json:"user_id"`
	Quantity int    `json:"quantity"`
}

// BookResourcesRequest is the payload for creating a flexible reservation.
type BookResourcesRequest struct {
	UserID            string         `json:"user_id"`
	ReservationTypeID string         `json:"reservation_type_id"`
	DateStart         time.Time      `json:"date_start"`
	DateStop          time.Time      `json:"date_stop"`
	Resources         map[string]int `json:"resources"`
}

// AddResourceRequest adds a resource requirement to an activity or a flexible reservation.
type AddResourceRequest struct {
	ResourceID string `json:"resource_id"`
	Quantity   int    `json:"quantity"`
}

// SetQuantityRequest resizes an allocation row.
type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// SetStockRequest resizes a resource or an event.
type SetStockRequest struct {
	Stock int `json:"stock"`
}

// AddActivityEventRequest schedules a new event of an activity.
// A nil Stock inherits the activity stock.
type AddActivityEventRequest struct {
	DateStart  time.Time `json:"date_start"`
	DateStop   time.Time `json:"date_stop"`
	Stock      *int      `json:"stock,omitempty"`
	PlanningID *string   `json:"planning_id,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
