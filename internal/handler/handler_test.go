package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/service"
)

var now = time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc := service.NewBookingService(repository.NewMemoryStore(), logger,
		service.WithClock(func() time.Time { return now }))

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Use(CORS)
	r.Get("/health", HealthCheck)
	NewBookingHandler(svc, logger).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func requireKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind service.Kind) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, string(kind), decode[model.ErrorResponse](t, rec).Kind)
}

type seed struct {
	user     string
	racquet  string
	activity string
	event    string
}

// seedLesson creates a user, a racquet resource of stock 2 and a two-seat
// lesson event needing one racquet, one to two hours from now.
func seedLesson(t *testing.T, h http.Handler) seed {
	t.Helper()
	var s seed

	rec := do(t, h, http.MethodPost, "/users", model.CreateUserRequest{OrganisationID: "org-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s.user = decode[model.User](t, rec).ID

	rec = do(t, h, http.MethodPost, "/resources", model.CreateResourceRequest{
		OrganisationID: "org-1", ResourceType: "equipment", Name: "racquet", Stock: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s.racquet = decode[model.Resource](t, rec).ID

	rec = do(t, h, http.MethodPost, "/activities", model.CreateActivityRequest{
		OrganisationID: "org-1", Name: "tennis lesson", Stock: 2,
		Resources: map[string]int{s.racquet: 1},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.CreateActivityResponse](t, rec)
	require.Len(t, created.Resources, 1)
	s.activity = created.Activity.ID

	rec = do(t, h, http.MethodPost, "/activities/"+s.activity+"/events", model.AddActivityEventRequest{
		DateStart: now.Add(time.Hour), DateStop: now.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s.event = decode[model.Event](t, rec).ID
	return s
}

func TestHealthCheck(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBookEvent(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)
	path := "/events/" + s.event + "/reservations"

	rec := do(t, h, http.MethodPost, path, map[string]any{"user_id": s.user})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[model.Reservation](t, rec)
	assert.Equal(t, 1, res.Quantity, "quantity defaults to one")

	rec = do(t, h, http.MethodPost, path, model.BookEventRequest{UserID: s.user, Quantity: 2})
	requireKind(t, rec, http.StatusConflict, service.KindInsufficientCapacity)

	rec = do(t, h, http.MethodGet, "/events/"+s.event, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[service.EventDetails](t, rec)
	assert.False(t, details.Flexible)
	assert.EqualValues(t, 3600, details.DurationSeconds)
	assert.Equal(t, 1, details.Seats.Quantity)
}

func TestBookEventErrors(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   service.Kind
	}{
		{"zero quantity", "/events/" + s.event + "/reservations", model.BookEventRequest{UserID: s.user, Quantity: 0}, http.StatusBadRequest, service.KindInvalidQuantity},
		{"unknown event", "/events/missing/reservations", model.BookEventRequest{UserID: s.user, Quantity: 1}, http.StatusNotFound, service.KindNotFound},
		{"unknown user", "/events/" + s.event + "/reservations", model.BookEventRequest{UserID: "ghost", Quantity: 1}, http.StatusNotFound, service.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, do(t, h, http.MethodPost, tt.path, tt.body), tt.status, tt.kind)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"organisation_id":`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"organisation":"org-1"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestBookResources(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodPost, "/reservation-types", model.CreateReservationTypeRequest{
		OrganisationID: "org-1", Name: "court hire", Resources: []string{s.racquet},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rt := decode[model.ReservationType](t, rec)

	book := func(from, to time.Duration, qty int) *httptest.ResponseRecorder {
		return do(t, h, http.MethodPost, "/flexi-reservations", model.BookResourcesRequest{
			UserID:            s.user,
			ReservationTypeID: rt.ID,
			DateStart:         now.Add(from),
			DateStop:          now.Add(to),
			Resources:         map[string]int{s.racquet: qty},
		})
	}

	// The lesson holds one of the two racquets from +1h to +2h.
	rec = book(90*time.Minute, 3*time.Hour, 2)
	requireKind(t, rec, http.StatusConflict, service.KindInsufficientCapacity)

	rec = book(90*time.Minute, 3*time.Hour, 1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode[model.FlexiBooking](t, rec)
	require.Len(t, booking.Resources, 1)
	assert.Equal(t, 1, booking.Event.Stock)

	rec = book(-2*time.Hour, -time.Hour, 1)
	requireKind(t, rec, http.StatusBadRequest, service.KindInvalidTimeWindow)

	rec = book(3*time.Hour, 4*time.Hour, 3)
	requireKind(t, rec, http.StatusConflict, service.KindCapacityExceeded)

	q := url.Values{
		"start": {now.Add(90 * time.Minute).Format(time.RFC3339)},
		"stop":  {now.Add(2 * time.Hour).Format(time.RFC3339)},
	}
	rec = do(t, h, http.MethodGet, "/resources/"+s.racquet+"/availability?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, service.Availability{Quantity: 0}, decode[service.Availability](t, rec))
}

func TestResourceNotAllowed(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodPost, "/resources", model.CreateResourceRequest{
		OrganisationID: "org-1", ResourceType: "room", Name: "court", Stock: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	court := decode[model.Resource](t, rec)

	rec = do(t, h, http.MethodPost, "/reservation-types", model.CreateReservationTypeRequest{
		OrganisationID: "org-1", Name: "racquets only", Resources: []string{s.racquet},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rt := decode[model.ReservationType](t, rec)

	rec = do(t, h, http.MethodPost, "/flexi-reservations", model.BookResourcesRequest{
		UserID:            s.user,
		ReservationTypeID: rt.ID,
		DateStart:         now.Add(5 * time.Hour),
		DateStop:          now.Add(6 * time.Hour),
		Resources:         map[string]int{court.ID: 1},
	})
	requireKind(t, rec, http.StatusForbidden, service.KindResourceNotAllowed)

	rec = do(t, h, http.MethodPost, "/reservation-types/"+rt.ID+"/resources", model.AllowResourceRequest{ResourceID: court.ID})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestResizeStock(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodPost, "/events/"+s.event+"/reservations", model.BookEventRequest{UserID: s.user, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/events/"+s.event+"/stock", model.SetStockRequest{Stock: 1})
	requireKind(t, rec, http.StatusConflict, service.KindStockInvariantViolation)

	rec = do(t, h, http.MethodPut, "/events/"+s.event+"/stock", model.SetStockRequest{Stock: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[model.Event](t, rec).Stock)

	rec = do(t, h, http.MethodPut, "/resources/"+s.racquet+"/stock", model.SetStockRequest{Stock: -1})
	requireKind(t, rec, http.StatusBadRequest, service.KindInvalidQuantity)
}

func TestListReservations(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodPost, "/events/"+s.event+"/reservations", model.BookEventRequest{UserID: s.user, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/users/"+s.user+"/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.BookedEvent](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/users/"+s.user+"/reservations?when=past", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/users/"+s.user+"/reservations?when=later", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityQueryValidation(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodGet, "/resources/"+s.racquet+"/availability?start=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q := url.Values{
		"start": {now.Add(2 * time.Hour).Format(time.RFC3339)},
		"stop":  {now.Add(time.Hour).Format(time.RFC3339)},
	}
	rec = do(t, h, http.MethodGet, "/resources/"+s.racquet+"/availability?"+q.Encode(), nil)
	requireKind(t, rec, http.StatusBadRequest, service.KindInvalidTimeWindow)
}

func TestStoreUnavailable(t *testing.T) {
	h := newRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"organisation_id":"org-1"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	requireKind(t, rec, http.StatusServiceUnavailable, service.KindStoreUnavailable)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodOptions, "/users", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeout(t *testing.T) {
	var deadline bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	})

	Timeout(time.Second)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, deadline)

	Timeout(0)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, deadline, "a zero timeout leaves the context alone")
}

func TestStatusFor(t *testing.T) {
	tests := map[service.Kind]int{
		service.KindInsufficientCapacity:    http.StatusConflict,
		service.KindCapacityExceeded:        http.StatusConflict,
		service.KindStockInvariantViolation: http.StatusConflict,
		service.KindResourceNotAllowed:      http.StatusForbidden,
		service.KindInvalidTimeWindow:       http.StatusBadRequest,
		service.KindInvalidQuantity:         http.StatusBadRequest,
		service.KindInvalidArgument:         http.StatusBadRequest,
		service.KindStructuralViolation:     http.StatusUnprocessableEntity,
		service.KindNotFound:                http.StatusNotFound,
		service.KindStoreUnavailable:        http.StatusServiceUnavailable,
		service.Kind("mystery"):             http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestDeleteEndpoints(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodDelete, "/resources/"+s.racquet, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/activities/"+s.activity+"/resources", model.AddResourceRequest{ResourceID: s.racquet, Quantity: 1})
	requireKind(t, rec, http.StatusForbidden, service.KindResourceNotAllowed)

	rec = do(t, h, http.MethodDelete, "/activities/"+s.activity, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/activities/"+s.activity+"/events", model.AddActivityEventRequest{
		DateStart: now.Add(3 * time.Hour), DateStop: now.Add(4 * time.Hour),
	})
	requireKind(t, rec, http.StatusNotFound, service.KindNotFound)

	rec = do(t, h, http.MethodDelete, "/activities/missing", nil)
	requireKind(t, rec, http.StatusNotFound, service.KindNotFound)
}

func TestActivityEventsOfDay(t *testing.T) {
	h := newRouter(t)
	s := seedLesson(t, h)

	rec := do(t, h, http.MethodGet, "/activities/"+s.activity+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := decode[[]model.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, s.event, events[0].ID)

	rec = do(t, h, http.MethodGet, "/activities/"+s.activity+"/events?day=2030-03-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/activities/"+s.activity+"/events?day=05/03/2030", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/events/"+s.event, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[service.EventDetails](t, rec)
	require.Len(t, details.Resources, 1)
	assert.Equal(t, s.racquet, details.Resources[0].ResourceID)
}

func TestBlankNameIsBadRequest(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodPost, "/resources", model.CreateResourceRequest{OrganisationID: "org-1", Stock: 1})
	requireKind(t, rec, http.StatusBadRequest, service.KindInvalidArgument)
}
