package service

import (
	"context"
	"slices"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

// Locks are always taken resource-first, in ascending id order, then on the
// container being mutated. Every operation in this package follows that
// order so two transactions can never wait on each other in a cycle.

// lockResources locks the given resources in ascending id order and returns
// them keyed by id. Duplicate ids are locked once.
func lockResources(ctx context.Context, tx Tx, ids []string) (map[string]*model.Resource, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	locked := make(map[string]*model.Resource, len(ordered))
	for _, id := range ordered {
		r, err := tx.LockResource(ctx, id)
		if err != nil {
			return nil, storeErr(err, "lock resource "+id)
		}
		locked[id] = r
	}
	return locked, nil
}

// lockContainer locks the activity or flexible reservation owning an allocation row.
func lockContainer(ctx context.Context, tx Tx, kind model.AllocationKind, id string) error {
	switch kind {
	case model.ActivityAllocation:
		if _, err := lockActivity(ctx, tx, id); err != nil {
			return err
		}
	case model.FlexiAllocation:
		if _, err := tx.LockFlexiReservation(ctx, id); err != nil {
			return storeErr(err, "lock flexible reservation "+id)
		}
	default:
		return fail(KindStructuralViolation, "unknown allocation kind %d", kind)
	}
	return nil
}

// lockActivity locks an activity that may still take new events or requirements.
func lockActivity(ctx context.Context, tx Tx, id string) (*model.Activity, error) {
	a, err := tx.LockActivity(ctx, id)
	if err != nil {
		return nil, storeErr(err, "activity "+id)
	}
	if a.Deleted {
		return nil, fail(KindNotFound, "activity %s is deleted", id)
	}
	return a, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
