package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

const (
	ReasonCheckedOutToOther = "Equipment checked out to another student"
	ReasonNoLongerOffered   = "Equipment is no longer offered"
	errEarlierPending       = "Cannot approve: earlier pending requests exist for this equipment"
)

// EquipmentCacheInvalidator is told when a checkout changes equipment status.
type EquipmentCacheInvalidator interface {
	InvalidateEquipment(ctx context.Context)
}

// CheckoutService runs the equipment checkout state machine:
//
//	pending -> approved -> returned
//	pending -> denied
//
// Requests for one item are served strictly in createdAt order, and at most
// one approved, unreturned checkout may reference an item.
type CheckoutService struct {
	store   *store.Store
	catalog EquipmentCacheInvalidator
	now     func() time.Time
	log     *zap.Logger
}

func NewCheckoutService(st *store.Store, catalog EquipmentCacheInvalidator, log *zap.Logger) *CheckoutService {
	return &CheckoutService{store: st, catalog: catalog, now: time.Now, log: log}
}

type CheckoutRequestInput struct {
	EquipmentID primitive.ObjectID
	DueDate     time.Time
	Notes       string
}

// Request queues a pending checkout. Several students may wait on the same item.
func (s *CheckoutService) Request(ctx context.Context, requester *models.User, in CheckoutRequestInput) (*models.Checkout, error) {
	now := s.now().UTC()
	if !in.DueDate.After(now) {
		return nil, apperr.Invalid("dueDate must be in the future")
	}

	eq, err := s.store.Equipment.ByID(ctx, in.EquipmentID)
	if err != nil {
		return nil, equipmentLookupErr(err)
	}
	if !eq.Active {
		return nil, apperr.InvalidState(ReasonNoLongerOffered)
	}
	if eq.Status != models.EquipmentAvailable {
		return nil, apperr.InvalidState("Equipment is not available (status: %s)", eq.Status)
	}

	pending, err := s.store.Checkouts.PendingForEquipment(ctx, eq.ID)
	if err != nil {
		return nil, apperr.Internal("Failed to load pending requests", err)
	}
	for _, p := range pending {
		if p.RequesterUserID == requester.ID {
			return nil, apperr.InvalidState("You already have a pending request for this equipment")
		}
	}

	c := &models.Checkout{
		EquipmentID:     eq.ID,
		RequesterUserID: requester.ID,
		RequestDate:     now,
		DueDate:         in.DueDate.UTC(),
		Status:          models.CheckoutPending,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Checkouts.Create(ctx, c); err != nil {
		return nil, apperr.Internal("Failed to create checkout request", err)
	}

	s.log.Info("checkout requested",
		zap.String("checkout_id", c.ID.Hex()),
		zap.String("equipment_id", eq.ID.Hex()),
		zap.String("requester_id", requester.ID.Hex()),
	)
	return c, nil
}

// Approve hands the item to the oldest pending request and denies the rest.
// If the item stopped being available or was deleted since the request was
// made, the checkout is denied (and stays denied) and InvalidState is returned.
func (s *CheckoutService) Approve(ctx context.Context, id primitive.ObjectID) (*models.Checkout, error) {
	var (
		approved   *models.Checkout
		autoDenied string
		siblings   int64
	)

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		approved, autoDenied, siblings = nil, "", 0
		now := s.now().UTC()

		c, err := s.loadCheckout(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != models.CheckoutPending {
			return apperr.InvalidState("Checkout is not pending (status: %s)", c.Status)
		}

		eq, err := s.store.Equipment.ByID(ctx, c.EquipmentID)
		if err != nil {
			return equipmentLookupErr(err)
		}
		if !eq.Active || eq.Status != models.EquipmentAvailable {
			reason := ReasonNoLongerOffered
			if eq.Active {
				reason = fmt.Sprintf("Equipment is now %s", eq.Status)
			}
			ok, err := s.store.Checkouts.Transition(ctx, c.ID, models.CheckoutPending, models.CheckoutDenied,
				models.CheckoutTransition{DenialReason: &reason, At: now})
			if err != nil {
				return apperr.Internal("Failed to deny checkout", err)
			}
			if !ok {
				return apperr.InvalidState("Checkout is no longer pending")
			}
			// Commit the denial; the caller still gets an error.
			autoDenied = reason
			return nil
		}

		pending, err := s.store.Checkouts.PendingForEquipment(ctx, c.EquipmentID)
		if err != nil {
			return apperr.Internal("Failed to load pending requests", err)
		}
		for _, p := range pending {
			if p.ID != c.ID && p.CreatedAt.Before(c.CreatedAt) {
				return apperr.InvalidState(errEarlierPending)
			}
		}

		ok, err := s.store.Equipment.CompareAndSetStatus(ctx, eq.ID, models.EquipmentAvailable, models.EquipmentCheckedOut, now)
		if err != nil {
			return apperr.Internal("Failed to update equipment status", err)
		}
		if !ok {
			return apperr.InvalidState("Equipment was checked out concurrently")
		}

		ok, err = s.store.Checkouts.Transition(ctx, c.ID, models.CheckoutPending, models.CheckoutApproved,
			models.CheckoutTransition{CheckoutDate: &now, At: now})
		if err == nil && !ok {
			err = apperr.InvalidState("Checkout is no longer pending")
		}
		if err != nil {
			// Undo the equipment claim so the item is not stranded.
			if _, rbErr := s.store.Equipment.CompareAndSetStatus(ctx, eq.ID, models.EquipmentCheckedOut, models.EquipmentAvailable, now); rbErr != nil {
				s.log.Error("failed to release equipment after aborted approval",
					zap.String("equipment_id", eq.ID.Hex()), zap.Error(rbErr))
			}
			if apperr.KindOf(err) == apperr.KindInternal {
				return apperr.Internal("Failed to approve checkout", err)
			}
			return err
		}

		siblings, err = s.store.Checkouts.DenyPendingExcept(ctx, eq.ID, c.ID, ReasonCheckedOutToOther, now)
		if err != nil {
			return apperr.Internal("Failed to deny competing requests", err)
		}

		approved, err = s.loadCheckout(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if autoDenied != "" {
		s.log.Info("checkout auto-denied on approval", zap.String("checkout_id", id.Hex()), zap.String("reason", autoDenied))
		return nil, apperr.InvalidState("%s", autoDenied)
	}

	s.invalidateEquipment(ctx)
	s.log.Info("checkout approved",
		zap.String("checkout_id", approved.ID.Hex()),
		zap.String("equipment_id", approved.EquipmentID.Hex()),
		zap.Int64("siblings_denied", siblings),
	)
	return approved, nil
}

// Deny rejects a pending request. reason may be empty.
func (s *CheckoutService) Deny(ctx context.Context, id primitive.ObjectID, reason string) (*models.Checkout, error) {
	now := s.now().UTC()
	ok, err := s.store.Checkouts.Transition(ctx, id, models.CheckoutPending, models.CheckoutDenied,
		models.CheckoutTransition{DenialReason: &reason, At: now})
	if err != nil {
		return nil, apperr.Internal("Failed to deny checkout", err)
	}
	c, err := s.loadCheckout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("Checkout is not pending (status: %s)", c.Status)
	}
	s.log.Info("checkout denied", zap.String("checkout_id", id.Hex()))
	return c, nil
}

// Return closes an approved checkout and frees the item. A second call fails.
func (s *CheckoutService) Return(ctx context.Context, id primitive.ObjectID) (*models.Checkout, error) {
	var returned *models.Checkout

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		c, err := s.loadCheckout(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != models.CheckoutApproved {
			return apperr.InvalidState("Checkout is not approved (status: %s)", c.Status)
		}

		ok, err := s.store.Checkouts.Transition(ctx, c.ID, models.CheckoutApproved, models.CheckoutReturned,
			models.CheckoutTransition{ReturnedDate: &now, At: now})
		if err != nil {
			return apperr.Internal("Failed to return checkout", err)
		}
		if !ok {
			return apperr.InvalidState("Checkout is no longer approved")
		}

		freed, err := s.store.Equipment.CompareAndSetStatus(ctx, c.EquipmentID, models.EquipmentCheckedOut, models.EquipmentAvailable, now)
		if err != nil {
			return apperr.Internal("Failed to update equipment status", err)
		}
		if !freed {
			s.log.Warn("equipment was not checked out at return; status left unchanged",
				zap.String("equipment_id", c.EquipmentID.Hex()))
		}

		returned, err = s.loadCheckout(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateEquipment(ctx)
	s.log.Info("checkout returned", zap.String("checkout_id", id.Hex()))
	return returned, nil
}

// CheckoutUpdateInput holds the fields staff may edit outside the state machine.
type CheckoutUpdateInput struct {
	DueDate *time.Time
	Notes   *string
}

func (s *CheckoutService) Update(ctx context.Context, id primitive.ObjectID, in CheckoutUpdateInput) (*models.Checkout, error) {
	if in.DueDate == nil && in.Notes == nil {
		return nil, apperr.Invalid("No fields to update")
	}
	p := models.CheckoutPatch{Notes: in.Notes}
	if in.DueDate != nil {
		due := in.DueDate.UTC()
		p.DueDate = &due
	}
	c, err := s.store.Checkouts.Update(ctx, id, p, s.now().UTC())
	if err != nil {
		return nil, checkoutLookupErr(err)
	}
	return c, nil
}

// Get returns a checkout to its requester or to staff.
func (s *CheckoutService) Get(ctx context.Context, viewer *models.User, id primitive.ObjectID) (*models.Checkout, error) {
	c, err := s.loadCheckout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsStaff() && c.RequesterUserID != viewer.ID {
		return nil, apperr.Forbidden("You can only view your own checkouts")
	}
	return c, nil
}

func (s *CheckoutService) ListMine(ctx context.Context, requester *models.User) ([]models.Checkout, error) {
	out, err := s.store.Checkouts.List(ctx, models.CheckoutFilter{RequesterID: &requester.ID})
	if err != nil {
		return nil, apperr.Internal("Failed to retrieve checkouts", err)
	}
	return out, nil
}

// List is the staff view, optionally narrowed to one status.
func (s *CheckoutService) List(ctx context.Context, status models.CheckoutStatus) ([]models.Checkout, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Invalid("invalid status %q", status)
	}
	out, err := s.store.Checkouts.List(ctx, models.CheckoutFilter{Status: status})
	if err != nil {
		return nil, apperr.Internal("Failed to retrieve checkouts", err)
	}
	return out, nil
}

func (s *CheckoutService) loadCheckout(ctx context.Context, id primitive.ObjectID) (*models.Checkout, error) {
	c, err := s.store.Checkouts.ByID(ctx, id)
	if err != nil {
		return nil, checkoutLookupErr(err)
	}
	return c, nil
}

func (s *CheckoutService) invalidateEquipment(ctx context.Context) {
	if s.catalog != nil {
		s.catalog.InvalidateEquipment(ctx)
	}
}

func checkoutLookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Checkout not found")
	}
	return apperr.Internal("Failed to access checkout", err)
}
