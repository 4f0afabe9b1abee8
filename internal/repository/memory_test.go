package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

var errAbort = errors.New("abort")

func seedResource(t *testing.T, s *MemoryStore, id string, stock int) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertResource(context.Background(), &model.Resource{ID: id, OrganisationID: "org", Name: id, Stock: stock})
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedResource(t, s, "racquet", 6)

	err := s.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.UpdateResourceStock(ctx, "racquet", 2))
		require.NoError(t, tx.InsertUser(ctx, &model.User{ID: "u1", OrganisationID: "org"}))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = s.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.GetResource(ctx, "racquet")
		require.NoError(t, err)
		assert.Equal(t, 6, r.Stock)

		_, err = tx.GetUser(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedResource(t, s, "ball", 1)

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.LockResource(ctx, "ball")
			require.NoError(t, err)
			require.NoError(t, tx.UpdateResourceStock(ctx, "ball", 9))
			panic("boom")
		})
	})

	// The lock must have been released and the write undone.
	err := s.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.LockResource(ctx, "ball")
		require.NoError(t, err)
		assert.Equal(t, 1, r.Stock)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_LockBlocksUntilRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedResource(t, s, "court", 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.WithinTx(ctx, func(tx Tx) error {
			if _, err := tx.LockResource(ctx, "court"); err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.UpdateResourceStock(ctx, "court", 3)
		})
	}()
	<-locked

	second := make(chan int, 1)
	go func() {
		_ = s.WithinTx(ctx, func(tx Tx) error {
			r, err := tx.LockResource(ctx, "court")
			if err != nil {
				return err
			}
			second <- r.Stock
			return nil
		})
	}()

	select {
	case <-second:
		t.Fatal("second transaction acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	select {
	case stock := <-second:
		assert.Equal(t, 3, stock, "the waiter must read the committed row")
	case <-time.After(time.Second):
		t.Fatal("second transaction never acquired the lock")
	}
}

func TestMemoryStore_LockIsReentrant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedResource(t, s, "net", 2)

	err := s.WithinTx(ctx, func(tx Tx) error {
		for n := 0; n < 3; n++ {
			if _, err := tx.LockResource(ctx, "net"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_LockWaitHonoursContext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedResource(t, s, "room", 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.WithinTx(ctx, func(tx Tx) error {
			_, _ = tx.LockResource(ctx, "room")
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.WithinTx(waitCtx, func(tx Tx) error {
		_, err := tx.LockResource(waitCtx, "room")
		return err
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestMemoryStore_LockMissingRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.LockEvent(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DuplicateAllocation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertAllocation(ctx, &model.Allocation{
			ID: "a1", Kind: model.ActivityAllocation, ContainerID: "act", ResourceID: "r", Quantity: 1,
		}))
		return tx.InsertAllocation(ctx, &model.Allocation{
			ID: "a2", Kind: model.ActivityAllocation, ContainerID: "act", ResourceID: "r", Quantity: 2,
		})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStore_OneFlexiReservationPerEvent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertFlexiReservation(ctx, &model.FlexiReservation{ID: "f1", EventID: "e1"}))
		return tx.InsertFlexiReservation(ctx, &model.FlexiReservation{ID: "f2", EventID: "e1"})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStore_UsageIsPerEventInstance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	activity := "yoga"

	err := s.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertAllocation(ctx, &model.Allocation{
			ID: "ar", Kind: model.ActivityAllocation, ContainerID: activity, ResourceID: "mat", Quantity: 4,
		}))
		for i, id := range []string{"e1", "e2", "e3"} {
			start := base.Add(time.Duration(i) * time.Hour)
			require.NoError(t, tx.InsertEvent(ctx, &model.Event{
				ID: id, ActivityID: &activity, DateStart: start, DateStop: start.Add(time.Hour),
			}))
		}
		require.NoError(t, tx.InsertEvent(ctx, &model.Event{ID: "fe", DateStart: base, DateStop: base.Add(time.Hour)}))
		require.NoError(t, tx.InsertFlexiReservation(ctx, &model.FlexiReservation{ID: "f", EventID: "fe"}))
		require.NoError(t, tx.InsertAllocation(ctx, &model.Allocation{
			ID: "fr", Kind: model.FlexiAllocation, ContainerID: "f", ResourceID: "mat", Quantity: 1,
		}))

		w := model.Window{Start: base, Stop: base.Add(2 * time.Hour)}
		usage, err := tx.OverlappingUsage(ctx, "mat", w, "")
		require.NoError(t, err)
		assert.Len(t, usage, 3, "e1, e2 and the flexible event overlap; e3 starts at the window end")

		usage, err = tx.OverlappingUsage(ctx, "mat", w, "e1")
		require.NoError(t, err)
		assert.Len(t, usage, 2)

		all, err := tx.ResourceUsage(ctx, "mat")
		require.NoError(t, err)
		assert.Len(t, all, 4)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_WithinTxCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryStore().WithinTx(ctx, func(Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, called)
}

func TestMemoryStore_MarkDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedResource(t, s, "mat", 4)

	err := s.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.MarkResourceDeleted(ctx, "mat"))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = s.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.GetResource(ctx, "mat")
		require.NoError(t, err)
		assert.False(t, r.Deleted, "rolled back")

		require.NoError(t, tx.MarkResourceDeleted(ctx, "mat"))
		assert.ErrorIs(t, tx.MarkActivityDeleted(ctx, "missing"), ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.GetResource(ctx, "mat")
		require.NoError(t, err)
		assert.True(t, r.Deleted)
		return nil
	})
	require.NoError(t, err)
}
