package service

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

func requireName(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fail(KindInvalidArgument, "%s is required", field)
	}
	return value, nil
}

// CreateUser registers a user in an organisation.
func (s *BookingService) CreateUser(ctx context.Context, organisationID string) (*model.User, error) {
	var u *model.User
	err := s.run(ctx, "create user", func(tx Tx) error {
		org, err := requireName("organisation_id", organisationID)
		if err != nil {
			return err
		}
		u = &model.User{ID: uuid.New().String(), OrganisationID: org}
		return storeErr(tx.InsertUser(ctx, u), "insert user")
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user created", zap.String("user_id", u.ID))
	return u, nil
}

// CreateResource registers a resource. A stock of 0 makes it unlimited.
func (s *BookingService) CreateResource(ctx context.Context, organisationID, resourceType, name string, stock int) (*model.Resource, error) {
	var r *model.Resource
	err := s.run(ctx, "create resource", func(tx Tx) error {
		org, err := requireName("organisation_id", organisationID)
		if err != nil {
			return err
		}
		if name, err = requireName("name", name); err != nil {
			return err
		}
		if err := validateStock(stock); err != nil {
			return err
		}
		r = &model.Resource{
			ID:             uuid.New().String(),
			OrganisationID: org,
			ResourceType:   strings.TrimSpace(resourceType),
			Name:           name,
			Stock:          stock,
		}
		return storeErr(tx.InsertResource(ctx, r), "insert resource")
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("resource created", zap.String("resource_id", r.ID), zap.Int("stock", r.Stock))
	return r, nil
}

// CreateActivity registers an activity together with its initial resource
// requirements. The whole call is atomic.
func (s *BookingService) CreateActivity(ctx context.Context, organisationID, name string, stock int, requirements map[string]int) (*model.Activity, []model.Allocation, error) {
	var (
		a    *model.Activity
		rows []model.Allocation
	)
	err := s.run(ctx, "create activity", func(tx Tx) error {
		org, err := requireName("organisation_id", organisationID)
		if err != nil {
			return err
		}
		if name, err = requireName("name", name); err != nil {
			return err
		}
		if err := validateStock(stock); err != nil {
			return err
		}
		ids := sortedKeys(requirements)
		for _, id := range ids {
			if err := validateAllocationQuantity(requirements[id]); err != nil {
				return err
			}
		}

		a = &model.Activity{ID: uuid.New().String(), OrganisationID: org, Name: name, Stock: stock}
		if err := tx.InsertActivity(ctx, a); err != nil {
			return storeErr(err, "insert activity")
		}
		locked, err := lockResources(ctx, tx, ids)
		if err != nil {
			return err
		}
		if _, err := lockActivity(ctx, tx, a.ID); err != nil {
			return err
		}
		for _, id := range ids {
			r := locked[id]
			if err := checkAllocatable(r, org); err != nil {
				return err
			}
			row, err := addOrMerge(ctx, tx, model.ActivityAllocation, a.ID, r, requirements[id], nil)
			if err != nil {
				return err
			}
			rows = append(rows, *row)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("activity created", zap.String("activity_id", a.ID), zap.Int("requirements", len(rows)))
	return a, rows, nil
}

// CreateReservationType registers a reservation type allowing the given resources.
func (s *BookingService) CreateReservationType(ctx context.Context, organisationID, name string, resourceIDs []string) (*model.ReservationType, error) {
	var rt *model.ReservationType
	err := s.run(ctx, "create reservation type", func(tx Tx) error {
		org, err := requireName("organisation_id", organisationID)
		if err != nil {
			return err
		}
		if name, err = requireName("name", name); err != nil {
			return err
		}

		rt = &model.ReservationType{ID: uuid.New().String(), OrganisationID: org, Name: name}
		if err := tx.InsertReservationType(ctx, rt); err != nil {
			return storeErr(err, "insert reservation type")
		}
		ids := slices.Clone(resourceIDs)
		slices.Sort(ids)
		for _, id := range slices.Compact(ids) {
			if err := allowResource(ctx, tx, rt, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("reservation type created", zap.String("reservation_type_id", rt.ID))
	return rt, nil
}

// AddReservationTypeResource adds a resource to the allowed set of a
// reservation type. Adding a resource twice is a no-op.
func (s *BookingService) AddReservationTypeResource(ctx context.Context, reservationTypeID, resourceID string) error {
	err := s.run(ctx, "add reservation type resource", func(tx Tx) error {
		rt, err := tx.LockReservationType(ctx, reservationTypeID)
		if err != nil {
			return storeErr(err, "reservation type "+reservationTypeID)
		}
		allowed, err := tx.AllowedResourceIDs(ctx, rt.ID)
		if err != nil {
			return storeErr(err, "allowed resources of reservation type "+rt.ID)
		}
		if slices.Contains(allowed, resourceID) {
			return nil
		}
		return allowResource(ctx, tx, rt, resourceID)
	})
	if err != nil {
		return err
	}
	s.log.Info("reservation type resource added",
		zap.String("reservation_type_id", reservationTypeID),
		zap.String("resource_id", resourceID),
	)
	return nil
}

func allowResource(ctx context.Context, tx Tx, rt *model.ReservationType, resourceID string) error {
	r, err := tx.GetResource(ctx, resourceID)
	if err != nil {
		return storeErr(err, "resource "+resourceID)
	}
	if err := checkAllocatable(r, rt.OrganisationID); err != nil {
		return err
	}
	return storeErr(tx.InsertAllowedResource(ctx, rt.ID, r.ID), "insert allowed resource")
}

// CreatePlanning registers a planning for an activity.
func (s *BookingService) CreatePlanning(ctx context.Context, activityID string) (*model.Planning, error) {
	var p *model.Planning
	err := s.run(ctx, "create planning", func(tx Tx) error {
		a, err := tx.GetActivity(ctx, activityID)
		if err != nil {
			return storeErr(err, "activity "+activityID)
		}
		if a.Deleted {
			return fail(KindNotFound, "activity %s is deleted", a.ID)
		}
		p = &model.Planning{ID: uuid.New().String(), ActivityID: a.ID}
		return storeErr(tx.InsertPlanning(ctx, p), "insert planning")
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("planning created", zap.String("planning_id", p.ID), zap.String("activity_id", activityID))
	return p, nil
}

// DeleteResource retires a resource. Rows already allocated on it stay
// committed, but it can no longer be allocated.
func (s *BookingService) DeleteResource(ctx context.Context, resourceID string) error {
	err := s.run(ctx, "delete resource", func(tx Tx) error {
		r, err := tx.LockResource(ctx, resourceID)
		if err != nil {
			return storeErr(err, "resource "+resourceID)
		}
		if r.Deleted {
			return nil
		}
		return storeErr(tx.MarkResourceDeleted(ctx, r.ID), "delete resource "+r.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("resource deleted", zap.String("resource_id", resourceID))
	return nil
}

// DeleteActivity retires an activity. Its scheduled events keep their
// reservations, but it gets no new events or requirements.
func (s *BookingService) DeleteActivity(ctx context.Context, activityID string) error {
	err := s.run(ctx, "delete activity", func(tx Tx) error {
		a, err := tx.LockActivity(ctx, activityID)
		if err != nil {
			return storeErr(err, "activity "+activityID)
		}
		if a.Deleted {
			return nil
		}
		return storeErr(tx.MarkActivityDeleted(ctx, a.ID), "delete activity "+a.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("activity deleted", zap.String("activity_id", activityID))
	return nil
}
