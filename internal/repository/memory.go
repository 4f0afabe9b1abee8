package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

// MemoryStore is an in-process entity store with the same locking contract
// as PostgresStore: exclusive per-row locks held until the transaction ends
// and full rollback on failure. Writes become visible to other transactions
// as they happen, so decisions must only be taken on data read under a lock.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	state memoryState
}

type memoryState struct {
	users        map[string]model.User
	resources    map[string]model.Resource
	activities   map[string]model.Activity
	plannings    map[string]model.Planning
	events       map[string]model.Event
	reservations map[string]model.Reservation
	flexis       map[string]model.FlexiReservation
	types        map[string]model.ReservationType
	allowed      map[string][]string
	allocations  map[model.AllocationKind]map[string]model.Allocation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: map[string]chan struct{}{},
		state: memoryState{
			users:        map[string]model.User{},
			resources:    map[string]model.Resource{},
			activities:   map[string]model.Activity{},
			plannings:    map[string]model.Planning{},
			events:       map[string]model.Event{},
			reservations: map[string]model.Reservation{},
			flexis:       map[string]model.FlexiReservation{},
			types:        map[string]model.ReservationType{},
			allowed:      map[string][]string{},
			allocations: map[model.AllocationKind]map[string]model.Allocation{
				model.ActivityAllocation: {},
				model.FlexiAllocation:    {},
			},
		},
	}
}

// WithinTx runs fn in a transaction. Locks are released and, unless fn
// returned nil with ctx still live, every write is undone.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w: %w", ErrStoreUnavailable, err)
	}
	tx := &memoryTx{store: s, held: map[string]struct{}{}}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
		tx.release()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w: %w", ErrStoreUnavailable, err)
	}
	committed = true
	return nil
}

type memoryTx struct {
	store *MemoryStore
	held  map[string]struct{}
	undo  []func(*memoryState)
}

func (tx *memoryTx) rollback() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i](&tx.store.state)
	}
	tx.undo = nil
}

func (tx *memoryTx) release() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for key := range tx.held {
		<-tx.store.locks[key]
	}
	clear(tx.held)
}

// lock blocks until the row lock for key is free or ctx ends. Locks are
// re-entrant within a transaction.
func (tx *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	tx.store.mu.Lock()
	ch, ok := tx.store.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		tx.store.locks[key] = ch
	}
	tx.store.mu.Unlock()

	select {
	case ch <- struct{}{}:
		tx.held[key] = struct{}{}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w: %w", key, ErrStoreUnavailable, ctx.Err())
	}
}

// read runs fn against the state under the store mutex.
func (tx *memoryTx) read(fn func(st *memoryState) error) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return fn(&tx.store.state)
}

// write runs fn against the state under the store mutex and records how to
// undo it when fn succeeds.
func (tx *memoryTx) write(fn func(st *memoryState) (func(*memoryState), error)) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	undo, err := fn(&tx.store.state)
	if err != nil {
		return err
	}
	tx.undo = append(tx.undo, undo)
	return nil
}

func lookup[T any](tx *memoryTx, rows func(*memoryState) map[string]T, what, id string) (*T, error) {
	var out T
	err := tx.read(func(st *memoryState) error {
		v, ok := rows(st)[id]
		if !ok {
			return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func lockRow[T any](ctx context.Context, tx *memoryTx, rows func(*memoryState) map[string]T, what, id string) (*T, error) {
	if _, err := lookup(tx, rows, what, id); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, what+":"+id); err != nil {
		return nil, err
	}
	return lookup(tx, rows, what, id)
}

func insertRow[T any](tx *memoryTx, rows func(*memoryState) map[string]T, what, id string, v T) error {
	return tx.write(func(st *memoryState) (func(*memoryState), error) {
		m := rows(st)
		if _, ok := m[id]; ok {
			return nil, fmt.Errorf("insert %s %s: %w", what, id, ErrDuplicate)
		}
		m[id] = v
		return func(st *memoryState) { delete(rows(st), id) }, nil
	})
}

func updateRow[T any](tx *memoryTx, rows func(*memoryState) map[string]T, what, id string, mutate func(*T)) error {
	return tx.write(func(st *memoryState) (func(*memoryState), error) {
		m := rows(st)
		old, ok := m[id]
		if !ok {
			return nil, fmt.Errorf("update %s %s: %w", what, id, ErrNotFound)
		}
		v := old
		mutate(&v)
		m[id] = v
		return func(st *memoryState) { rows(st)[id] = old }, nil
	})
}

func users(st *memoryState) map[string]model.User { return st.users }
func resources(st *memoryState) map[string]model.Resource { return st.resources }
func activities(st *memoryState) map[string]model.Activity { return st.activities }
func plannings(st *memoryState) map[string]model.Planning { return st.plannings }
func events(st *memoryState) map[string]model.Event { return st.events }
func reservations(st *memoryState) map[string]model.Reservation { return st.reservations }
func flexis(st *memoryState) map[string]model.FlexiReservation { return st.flexis }
func reservationTypes(st *memoryState) map[string]model.ReservationType { return st.types }

func allocationsOf(kind model.AllocationKind) func(*memoryState) map[string]model.Allocation {
	return func(st *memoryState) map[string]model.Allocation { return st.allocations[kind] }
}

func (tx *memoryTx) LockResource(ctx context.Context, id string) (*model.Resource, error) {
	return lockRow(ctx, tx, resources, "resource", id)
}

func (tx *memoryTx) LockActivity(ctx context.Context, id string) (*model.Activity, error) {
	return lockRow(ctx, tx, activities, "activity", id)
}

func (tx *memoryTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return lockRow(ctx, tx, events, "event", id)
}

func (tx *memoryTx) LockFlexiReservation(ctx context.Context, id string) (*model.FlexiReservation, error) {
	return lockRow(ctx, tx, flexis, "flexi_reservation", id)
}

func (tx *memoryTx) LockReservationType(ctx context.Context, id string) (*model.ReservationType, error) {
	return lockRow(ctx, tx, reservationTypes, "reservation_type", id)
}

func (tx *memoryTx) GetUser(_ context.Context, id string) (*model.User, error) {
	return lookup(tx, users, "user", id)
}

func (tx *memoryTx) GetResource(_ context.Context, id string) (*model.Resource, error) {
	return lookup(tx, resources, "resource", id)
}

func (tx *memoryTx) GetActivity(_ context.Context, id string) (*model.Activity, error) {
	return lookup(tx, activities, "activity", id)
}

func (tx *memoryTx) GetEvent(_ context.Context, id string) (*model.Event, error) {
	return lookup(tx, events, "event", id)
}

func (tx *memoryTx) GetFlexiReservation(_ context.Context, id string) (*model.FlexiReservation, error) {
	return lookup(tx, flexis, "flexi_reservation", id)
}

func (tx *memoryTx) GetReservationType(_ context.Context, id string) (*model.ReservationType, error) {
	return lookup(tx, reservationTypes, "reservation_type", id)
}

func (tx *memoryTx) GetPlanning(_ context.Context, id string) (*model.Planning, error) {
	return lookup(tx, plannings, "planning", id)
}

func (tx *memoryTx) GetAllocation(_ context.Context, kind model.AllocationKind, id string) (*model.Allocation, error) {
	return lookup(tx, allocationsOf(kind), kind.String(), id)
}

func (tx *memoryTx) FindAllocation(_ context.Context, kind model.AllocationKind, containerID, resourceID string) (*model.Allocation, error) {
	var out *model.Allocation
	err := tx.read(func(st *memoryState) error {
		for _, a := range st.allocations[kind] {
			if a.ContainerID == containerID && a.ResourceID == resourceID {
				out = &a
				return nil
			}
		}
		return fmt.Errorf("%s %s/%s: %w", kind, containerID, resourceID, ErrNotFound)
	})
	return out, err
}

func (tx *memoryTx) FlexiReservationByEvent(_ context.Context, eventID string) (*model.FlexiReservation, error) {
	var out *model.FlexiReservation
	err := tx.read(func(st *memoryState) error {
		for _, f := range st.flexis {
			if f.EventID == eventID {
				out = &f
				return nil
			}
		}
		return fmt.Errorf("flexi_reservation of event %s: %w", eventID, ErrNotFound)
	})
	return out, err
}

func (tx *memoryTx) ListAllocations(_ context.Context, kind model.AllocationKind, containerID string) ([]model.Allocation, error) {
	var out []model.Allocation
	err := tx.read(func(st *memoryState) error {
		for _, a := range st.allocations[kind] {
			if a.ContainerID == containerID {
				out = append(out, a)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Allocation) int { return strings.Compare(a.ResourceID, b.ResourceID) })
	return out, err
}

func (tx *memoryTx) ListResourceAllocations(_ context.Context, resourceID string) ([]model.Allocation, error) {
	var out []model.Allocation
	err := tx.read(func(st *memoryState) error {
		for _, rows := range st.allocations {
			for _, a := range rows {
				if a.ResourceID == resourceID {
					out = append(out, a)
				}
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Allocation) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (tx *memoryTx) ListActivityEvents(_ context.Context, activityID string) ([]model.Event, error) {
	var out []model.Event
	err := tx.read(func(st *memoryState) error {
		for _, e := range st.events {
			if e.ActivityID != nil && *e.ActivityID == activityID {
				out = append(out, e)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Event) int { return a.DateStart.Compare(b.DateStart) })
	return out, err
}

func (tx *memoryTx) ListReservations(_ context.Context, eventID string) ([]model.Reservation, error) {
	var out []model.Reservation
	err := tx.read(func(st *memoryState) error {
		for _, r := range st.reservations {
			if r.EventID == eventID {
				out = append(out, r)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.Reservation) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

func (tx *memoryTx) ListUserReservations(_ context.Context, userID string) ([]model.BookedEvent, error) {
	var out []model.BookedEvent
	err := tx.read(func(st *memoryState) error {
		for _, r := range st.reservations {
			if r.UserID != userID {
				continue
			}
			e, ok := st.events[r.EventID]
			if !ok {
				return fmt.Errorf("event %s of reservation %s: %w", r.EventID, r.ID, ErrNotFound)
			}
			out = append(out, model.BookedEvent{Reservation: r, Event: e})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b model.BookedEvent) int { return a.Event.DateStart.Compare(b.Event.DateStart) })
	return out, err
}

func (tx *memoryTx) AllowedResourceIDs(_ context.Context, reservationTypeID string) ([]string, error) {
	var out []string
	err := tx.read(func(st *memoryState) error {
		out = slices.Clone(st.allowed[reservationTypeID])
		return nil
	})
	return out, err
}

func (tx *memoryTx) OverlappingUsage(_ context.Context, resourceID string, w model.Window, excludeEventID string) ([]model.Usage, error) {
	return tx.usage(resourceID, func(e model.Event) bool {
		return e.ID != excludeEventID && e.Window().Overlaps(w)
	})
}

func (tx *memoryTx) ResourceUsage(_ context.Context, resourceID string) ([]model.Usage, error) {
	return tx.usage(resourceID, func(model.Event) bool { return true })
}

// usage expands every allocation row on resourceID into one Usage per
// event of its container accepted by match.
func (tx *memoryTx) usage(resourceID string, match func(model.Event) bool) ([]model.Usage, error) {
	var out []model.Usage
	err := tx.read(func(st *memoryState) error {
		for _, a := range st.allocations[model.ActivityAllocation] {
			if a.ResourceID != resourceID {
				continue
			}
			for _, e := range st.events {
				if e.ActivityID != nil && *e.ActivityID == a.ContainerID && match(e) {
					out = append(out, model.Usage{Allocation: a, EventID: e.ID, Window: e.Window()})
				}
			}
		}
		for _, a := range st.allocations[model.FlexiAllocation] {
			if a.ResourceID != resourceID {
				continue
			}
			f, ok := st.flexis[a.ContainerID]
			if !ok {
				continue
			}
			if e, ok := st.events[f.EventID]; ok && match(e) {
				out = append(out, model.Usage{Allocation: a, EventID: e.ID, Window: e.Window()})
			}
		}
		return nil
	})
	return out, err
}

func (tx *memoryTx) InsertUser(_ context.Context, u *model.User) error {
	return insertRow(tx, users, "user", u.ID, *u)
}

func (tx *memoryTx) InsertResource(_ context.Context, r *model.Resource) error {
	return insertRow(tx, resources, "resource", r.ID, *r)
}

func (tx *memoryTx) InsertActivity(_ context.Context, a *model.Activity) error {
	return insertRow(tx, activities, "activity", a.ID, *a)
}

func (tx *memoryTx) InsertPlanning(_ context.Context, p *model.Planning) error {
	return insertRow(tx, plannings, "planning", p.ID, *p)
}

func (tx *memoryTx) InsertReservationType(_ context.Context, rt *model.ReservationType) error {
	return insertRow(tx, reservationTypes, "reservation_type", rt.ID, *rt)
}

func (tx *memoryTx) InsertAllowedResource(_ context.Context, reservationTypeID, resourceID string) error {
	return tx.write(func(st *memoryState) (func(*memoryState), error) {
		if slices.Contains(st.allowed[reservationTypeID], resourceID) {
			return nil, fmt.Errorf("insert allowed resource %s/%s: %w", reservationTypeID, resourceID, ErrDuplicate)
		}
		old := st.allowed[reservationTypeID]
		st.allowed[reservationTypeID] = append(slices.Clone(old), resourceID)
		return func(st *memoryState) { st.allowed[reservationTypeID] = old }, nil
	})
}

func (tx *memoryTx) InsertEvent(_ context.Context, e *model.Event) error {
	return insertRow(tx, events, "event", e.ID, *e)
}

func (tx *memoryTx) InsertReservation(_ context.Context, r *model.Reservation) error {
	return insertRow(tx, reservations, "reservation", r.ID, *r)
}

func (tx *memoryTx) InsertFlexiReservation(_ context.Context, f *model.FlexiReservation) error {
	return tx.write(func(st *memoryState) (func(*memoryState), error) {
		for _, other := range st.flexis {
			if other.ID == f.ID || other.EventID == f.EventID {
				return nil, fmt.Errorf("insert flexi_reservation %s: %w", f.ID, ErrDuplicate)
			}
		}
		st.flexis[f.ID] = *f
		return func(st *memoryState) { delete(st.flexis, f.ID) }, nil
	})
}

func (tx *memoryTx) InsertAllocation(_ context.Context, a *model.Allocation) error {
	return tx.write(func(st *memoryState) (func(*memoryState), error) {
		rows, ok := st.allocations[a.Kind]
		if !ok {
			return nil, fmt.Errorf("insert allocation of kind %d: %w", a.Kind, ErrConstraint)
		}
		for _, other := range rows {
			if other.ID == a.ID || (other.ContainerID == a.ContainerID && other.ResourceID == a.ResourceID) {
				return nil, fmt.Errorf("insert %s %s/%s: %w", a.Kind, a.ContainerID, a.ResourceID, ErrDuplicate)
			}
		}
		rows[a.ID] = *a
		id := a.ID
		return func(st *memoryState) { delete(st.allocations[a.Kind], id) }, nil
	})
}

func (tx *memoryTx) UpdateResourceStock(_ context.Context, id string, stock int) error {
	return updateRow(tx, resources, "resource", id, func(r *model.Resource) { r.Stock = stock })
}

func (tx *memoryTx) UpdateEventStock(_ context.Context, id string, stock int) error {
	return updateRow(tx, events, "event", id, func(e *model.Event) { e.Stock = stock })
}

func (tx *memoryTx) UpdateAllocationQuantity(_ context.Context, kind model.AllocationKind, id string, quantity int) error {
	return updateRow(tx, allocationsOf(kind), kind.String(), id, func(a *model.Allocation) { a.Quantity = quantity })
}

func (tx *memoryTx) MarkResourceDeleted(_ context.Context, id string) error {
	return updateRow(tx, resources, "resource", id, func(r *model.Resource) { r.Deleted = true })
}

func (tx *memoryTx) MarkActivityDeleted(_ context.Context, id string) error {
	return updateRow(tx, activities, "activity", id, func(a *model.Activity) { a.Deleted = true })
}

var _ Tx = (*memoryTx)(nil)
