package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
)

// admitFunc gets the final quantity of a row before it is written and may veto it.
type admitFunc func(quantity int) error

// mergeQuantity adds q to an existing row. ClaimAll absorbs any other quantity.
func mergeQuantity(current, q int) int {
	if current == model.ClaimAll || q == model.ClaimAll {
		return model.ClaimAll
	}
	return current + q
}

// addOrMerge increments the (container, resource) row by q, inserting it if
// missing. The caller holds the locks on r and on the container.
func addOrMerge(ctx context.Context, tx Tx, kind model.AllocationKind, containerID string, r *model.Resource, q int, admit admitFunc) (*model.Allocation, error) {
	if err := validateAllocationQuantity(q); err != nil {
		return nil, err
	}

	row, err := tx.FindAllocation(ctx, kind, containerID, r.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		row = nil
	default:
		return nil, storeErr(err, "load "+kind.String())
	}

	merged := q
	if row != nil {
		merged = mergeQuantity(row.Quantity, q)
	}
	if err := checkFits(r, merged); err != nil {
		return nil, err
	}
	if admit != nil {
		if err := admit(merged); err != nil {
			return nil, err
		}
	}

	if row == nil {
		row = &model.Allocation{
			ID:          uuid.New().String(),
			Kind:        kind,
			ContainerID: containerID,
			ResourceID:  r.ID,
			Quantity:    merged,
		}
		if err := tx.InsertAllocation(ctx, row); err != nil {
			return nil, storeErr(err, "insert "+kind.String())
		}
		return row, nil
	}

	if merged != row.Quantity {
		if err := tx.UpdateAllocationQuantity(ctx, kind, row.ID, merged); err != nil {
			return nil, storeErr(err, "update "+kind.String())
		}
		row.Quantity = merged
	}
	return row, nil
}

// setQuantity overwrites the quantity of row. The caller holds the lock on r.
// An unchanged quantity writes nothing.
func setQuantity(ctx context.Context, tx Tx, row *model.Allocation, r *model.Resource, q int, admit admitFunc) error {
	if err := validateAllocationQuantity(q); err != nil {
		return err
	}
	if row.Quantity == q {
		return nil
	}
	if err := checkFits(r, q); err != nil {
		return err
	}
	if admit != nil {
		if err := admit(q); err != nil {
			return err
		}
	}
	if err := tx.UpdateAllocationQuantity(ctx, row.Kind, row.ID, q); err != nil {
		return storeErr(err, "update "+row.Kind.String())
	}
	row.Quantity = q
	return nil
}
