// Package store defines the repositories the workflows run against.
// mongostore is the production implementation, memstore backs tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/fablab-api/internal/models"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate key")
)

type Users interface {
	Create(ctx context.Context, u *models.User) error
	ByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	ByExternalID(ctx context.Context, externalID string) (*models.User, error)
	UpdateName(ctx context.Context, id primitive.ObjectID, name string, at time.Time) (*models.User, error)
}

type Services interface {
	Create(ctx context.Context, s *models.Service) error
	ByID(ctx context.Context, id primitive.ObjectID) (*models.Service, error)
	ByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Service, error)
	List(ctx context.Context, activeOnly bool) ([]models.Service, error)
	Update(ctx context.Context, id primitive.ObjectID, p models.ServicePatch, at time.Time) (*models.Service, error)
}

type Equipment interface {
	Create(ctx context.Context, e *models.Equipment) error
	ByID(ctx context.Context, id primitive.ObjectID) (*models.Equipment, error)
	List(ctx context.Context, activeOnly bool) ([]models.Equipment, error)
	Update(ctx context.Context, id primitive.ObjectID, p models.EquipmentPatch, at time.Time) (*models.Equipment, error)
	// CompareAndSetStatus moves the item to "to" only if it is currently "from".
	CompareAndSetStatus(ctx context.Context, id primitive.ObjectID, from, to models.EquipmentStatus, at time.Time) (bool, error)
}

type Checkouts interface {
	Create(ctx context.Context, c *models.Checkout) error
	ByID(ctx context.Context, id primitive.ObjectID) (*models.Checkout, error)
	// List returns newest first.
	List(ctx context.Context, f models.CheckoutFilter) ([]models.Checkout, error)
	// PendingForEquipment returns pending requests oldest first.
	PendingForEquipment(ctx context.Context, equipmentID primitive.ObjectID) ([]models.Checkout, error)
	// Transition changes status only if the current status is "from".
	Transition(ctx context.Context, id primitive.ObjectID, from, to models.CheckoutStatus, t models.CheckoutTransition) (bool, error)
	DenyPendingExcept(ctx context.Context, equipmentID, exceptID primitive.ObjectID, reason string, at time.Time) (int64, error)
	Update(ctx context.Context, id primitive.ObjectID, p models.CheckoutPatch, at time.Time) (*models.Checkout, error)
}

type Orders interface {
	Create(ctx context.Context, o *models.Order) error
	ByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	List(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	Update(ctx context.Context, id primitive.ObjectID, p models.OrderPatch, at time.Time) (*models.Order, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type Outbox interface {
	Enqueue(ctx context.Context, m *models.OutboxMessage) error
	Pending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) error
}

// Store bundles the repositories with a transaction runner.
type Store struct {
	Users     Users
	Services  Services
	Equipment Equipment
	Checkouts Checkouts
	Orders    Orders
	Outbox    Outbox

	tx func(ctx context.Context, fn func(ctx context.Context) error) error
}

// New assembles a Store. tx may be nil, in which case WithTx runs fn directly.
func New(users Users, services Services, equipment Equipment, checkouts Checkouts, orders Orders, outbox Outbox,
	tx func(ctx context.Context, fn func(ctx context.Context) error) error) *Store {
	return &Store{
		Users:     users,
		Services:  services,
		Equipment: equipment,
		Checkouts: checkouts,
		Orders:    orders,
		Outbox:    outbox,
		tx:        tx,
	}
}

// WithTx runs fn as one unit of work. Repositories must be called with the ctx handed to fn.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx(ctx, fn)
}
