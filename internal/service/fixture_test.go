package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
)

const testOrg = "org-1"

type fixture struct {
	ctx  context.Context
	svc  *BookingService
	now  time.Time
	user *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)
	f := &fixture{
		ctx: context.Background(),
		now: now,
		svc: NewBookingService(repository.NewMemoryStore(), zaptest.NewLogger(t),
			WithClock(func() time.Time { return now })),
	}
	var err error
	f.user, err = f.svc.CreateUser(f.ctx, testOrg)
	require.NoError(t, err)
	return f
}

// window returns [now+from, now+to) in hours.
func (f *fixture) window(from, to float64) model.Window {
	return model.Window{
		Start: f.now.Add(time.Duration(from * float64(time.Hour))),
		Stop:  f.now.Add(time.Duration(to * float64(time.Hour))),
	}
}

func (f *fixture) resource(t *testing.T, name string, stock int) *model.Resource {
	t.Helper()
	r, err := f.svc.CreateResource(f.ctx, testOrg, "equipment", name, stock)
	require.NoError(t, err)
	return r
}

func (f *fixture) activity(t *testing.T, stock int, requirements map[string]int) *model.Activity {
	t.Helper()
	a, _, err := f.svc.CreateActivity(f.ctx, testOrg, "tennis lesson", stock, requirements)
	require.NoError(t, err)
	return a
}

func (f *fixture) event(t *testing.T, activityID string, w model.Window, stock *int) *model.Event {
	t.Helper()
	e, err := f.svc.AddActivityEvent(f.ctx, activityID, w, stock, nil)
	require.NoError(t, err)
	return e
}

func (f *fixture) reservationType(t *testing.T, resources ...*model.Resource) *model.ReservationType {
	t.Helper()
	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		ids = append(ids, r.ID)
	}
	rt, err := f.svc.CreateReservationType(f.ctx, testOrg, "court booking", ids)
	require.NoError(t, err)
	return rt
}

func (f *fixture) available(t *testing.T, r *model.Resource, w model.Window) Availability {
	t.Helper()
	a, err := f.svc.ResourceAvailability(f.ctx, r.ID, w)
	require.NoError(t, err)
	return a
}

func intPtr(v int) *int { return &v }
