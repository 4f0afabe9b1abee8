// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the booking service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/service"
)

// BookingHandler holds all HTTP handlers for the booking API.
type BookingHandler struct {
	svc *service.BookingService
	log *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.BookingService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, log: logger}
}

// Routes mounts every booking endpoint on r.
func (h *BookingHandler) Routes(r chi.Router) {
	r.Post("/users", h.CreateUser)
	r.Get("/users/{id}/reservations", h.ListReservations)

	r.Route("/resources", func(r chi.Router) {
		r.Post("/", h.CreateResource)
		r.Put("/{id}/stock", h.ResizeResourceStock)
		r.Get("/{id}/availability", h.ResourceAvailability)
		r.Delete("/{id}", h.DeleteResource)
	})

	r.Route("/activities", func(r chi.Router) {
		r.Post("/", h.CreateActivity)
		r.Post("/{id}/resources", h.AddActivityResource)
		r.Post("/{id}/events", h.AddActivityEvent)
		r.Get("/{id}/events", h.ActivityEventsOfDay)
		r.Delete("/{id}", h.DeleteActivity)
		r.Post("/{id}/plannings", h.CreatePlanning)
	})
	r.Put("/activity-resources/{id}", h.SetActivityResourceQuantity)

	r.Route("/reservation-types", func(r chi.Router) {
		r.Post("/", h.CreateReservationType)
		r.Post("/{id}/resources", h.AddReservationTypeResource)
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/{id}", h.GetEvent)
		r.Put("/{id}/stock", h.ResizeEventStock)
		r.Post("/{id}/reservations", h.BookEvent)
	})

	r.Route("/flexi-reservations", func(r chi.Router) {
		r.Post("/", h.BookResources)
		r.Post("/{id}/resources", h.AddFlexiReservationResource)
	})
	r.Put("/flexi-reservation-resources/{id}", h.SetFlexiReservationResourceQuantity)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps a booking error kind onto an HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindInsufficientCapacity, service.KindCapacityExceeded, service.KindStockInvariantViolation:
		return http.StatusConflict
	case service.KindResourceNotAllowed:
		return http.StatusForbidden
	case service.KindInvalidTimeWindow, service.KindInvalidQuantity, service.KindInvalidArgument:
		return http.StatusBadRequest
	case service.KindStructuralViolation:
		return http.StatusUnprocessableEntity
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err with the status of its kind. Store failures
// carry driver details, so only their kind reaches the client.
func (h *BookingHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var e *service.Error
	if !errors.As(err, &e) {
		h.log.Error("unexpected error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	msg := e.Message
	if e.Kind == service.KindStoreUnavailable {
		w.Header().Set("Retry-After", "1")
		msg = "temporarily unavailable, retry the request"
	}
	writeJSON(w, statusFor(e.Kind), model.ErrorResponse{Error: msg, Kind: string(e.Kind)})
}

func (h *BookingHandler) badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
}

// ─── Administration ───────────────────────────────────────────────────────────

// CreateUser handles POST /users
func (h *BookingHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	u, err := h.svc.CreateUser(r.Context(), req.OrganisationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// CreateResource handles POST /resources
// A stock of 0 registers an unlimited resource.
func (h *BookingHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req model.CreateResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	res, err := h.svc.CreateResource(r.Context(), req.OrganisationID, req.ResourceType, req.Name, req.Stock)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// CreateActivity handles POST /activities
func (h *BookingHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var req model.CreateActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	a, rows, err := h.svc.CreateActivity(r.Context(), req.OrganisationID, req.Name, req.Stock, req.Resources)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.Allocation{}
	}
	writeJSON(w, http.StatusCreated, model.CreateActivityResponse{Activity: a, Resources: rows})
}

// CreatePlanning handles POST /activities/{id}/plannings
func (h *BookingHandler) CreatePlanning(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.CreatePlanning(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// CreateReservationType handles POST /reservation-types
func (h *BookingHandler) CreateReservationType(w http.ResponseWriter, r *http.Request) {
	var req model.CreateReservationTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	rt, err := h.svc.CreateReservationType(r.Context(), req.OrganisationID, req.Name, req.Resources)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// AddReservationTypeResource handles POST /reservation-types/{id}/resources
func (h *BookingHandler) AddReservationTypeResource(w http.ResponseWriter, r *http.Request) {
	var req model.AllowResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if err := h.svc.AddReservationTypeResource(r.Context(), chi.URLParam(r, "id"), req.ResourceID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteResource handles DELETE /resources/{id}
func (h *BookingHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteResource(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteActivity handles DELETE /activities/{id}
func (h *BookingHandler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteActivity(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Booking protocol ─────────────────────────────────────────────────────────

// BookEvent handles POST /events/{id}/reservations
// Quantity defaults to 1 when omitted.
func (h *BookingHandler) BookEvent(w http.ResponseWriter, r *http.Request) {
	req := model.BookEventRequest{Quantity: 1}
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	res, err := h.svc.BookEvent(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// BookResources handles POST /flexi-reservations
func (h *BookingHandler) BookResources(w http.ResponseWriter, r *http.Request) {
	var req model.BookResourcesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	window := model.Window{Start: req.DateStart, Stop: req.DateStop}
	booking, err := h.svc.BookResources(r.Context(), req.UserID, req.ReservationTypeID, window, req.Resources)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// AddActivityResource handles POST /activities/{id}/resources
func (h *BookingHandler) AddActivityResource(w http.ResponseWriter, r *http.Request) {
	var req model.AddResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	row, err := h.svc.AddActivityResource(r.Context(), chi.URLParam(r, "id"), req.ResourceID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// AddFlexiReservationResource handles POST /flexi-reservations/{id}/resources
func (h *BookingHandler) AddFlexiReservationResource(w http.ResponseWriter, r *http.Request) {
	var req model.AddResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	row, err := h.svc.AddFlexiReservationResource(r.Context(), chi.URLParam(r, "id"), req.ResourceID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// SetActivityResourceQuantity handles PUT /activity-resources/{id}
func (h *BookingHandler) SetActivityResourceQuantity(w http.ResponseWriter, r *http.Request) {
	var req model.SetQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	row, err := h.svc.SetActivityResourceQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// SetFlexiReservationResourceQuantity handles PUT /flexi-reservation-resources/{id}
func (h *BookingHandler) SetFlexiReservationResourceQuantity(w http.ResponseWriter, r *http.Request) {
	var req model.SetQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	row, err := h.svc.SetFlexiReservationResourceQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// ResizeResourceStock handles PUT /resources/{id}/stock
func (h *BookingHandler) ResizeResourceStock(w http.ResponseWriter, r *http.Request) {
	var req model.SetStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	res, err := h.svc.ResizeResourceStock(r.Context(), chi.URLParam(r, "id"), req.Stock)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResizeEventStock handles PUT /events/{id}/stock
func (h *BookingHandler) ResizeEventStock(w http.ResponseWriter, r *http.Request) {
	var req model.SetStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	e, err := h.svc.ResizeEventStock(r.Context(), chi.URLParam(r, "id"), req.Stock)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// AddActivityEvent handles POST /activities/{id}/events
func (h *BookingHandler) AddActivityEvent(w http.ResponseWriter, r *http.Request) {
	var req model.AddActivityEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	window := model.Window{Start: req.DateStart, Stop: req.DateStop}
	e, err := h.svc.AddActivityEvent(r.Context(), chi.URLParam(r, "id"), window, req.Stock, req.PlanningID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// GetEvent handles GET /events/{id}
func (h *BookingHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ResourceAvailability handles GET /resources/{id}/availability?start=…&stop=…
// Both bounds are RFC 3339 timestamps. The result is advisory.
func (h *BookingHandler) ResourceAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp")
		return
	}
	stop, err := time.Parse(time.RFC3339, q.Get("stop"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "stop must be an RFC 3339 timestamp")
		return
	}

	avail, err := h.svc.ResourceAvailability(r.Context(), chi.URLParam(r, "id"), model.Window{Start: start, Stop: stop})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// ActivityEventsOfDay handles GET /activities/{id}/events?day=YYYY-MM-DD
// The day is a UTC calendar date and defaults to today.
func (h *BookingHandler) ActivityEventsOfDay(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if v := r.URL.Query().Get("day"); v != "" {
		var err error
		if day, err = time.Parse(time.DateOnly, v); err != nil {
			writeError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
			return
		}
	}
	events, err := h.svc.ActivityEventsOfDay(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ListReservations handles GET /users/{id}/reservations?when=upcoming|past
// Upcoming is the default.
func (h *BookingHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		booked []model.BookedEvent
		err    error
	)
	switch r.URL.Query().Get("when") {
	case "", "upcoming":
		booked, err = h.svc.UpcomingReservations(r.Context(), id)
	case "past":
		booked, err = h.svc.PastReservations(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "when must be upcoming or past")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booked)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
