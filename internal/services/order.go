package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

const orderSuffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// OrderService prices and tracks fabrication orders.
type OrderService struct {
	store    *store.Store
	notifier *NotificationService
	now      func() time.Time
	randIntN func(n int) int
	log      *zap.Logger
}

func NewOrderService(st *store.Store, notifier *NotificationService, log *zap.Logger) *OrderService {
	return &OrderService{store: st, notifier: notifier, now: time.Now, randIntN: rand.IntN, log: log}
}

type OrderItemInput struct {
	ServiceID primitive.ObjectID
	Quantity  float64
}

type CreateOrderInput struct {
	Items []OrderItemInput
	Files []string
	Notes string
}

// Create prices every line from the catalog and stores the order together
// with its order.created notification.
func (s *OrderService) Create(ctx context.Context, requester *models.User, in CreateOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.Invalid("An order needs at least one item")
	}
	ids := make([]primitive.ObjectID, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, apperr.Invalid("Item quantity must be greater than zero")
		}
		ids = append(ids, it.ServiceID)
	}

	catalog, err := s.store.Services.ByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("Failed to load services", err)
	}

	items, total := s.priceItems(in.Items, catalog)
	now := s.now().UTC()
	files := in.Files
	if files == nil {
		files = []string{}
	}
	order := &models.Order{
		OrderNumber: NewOrderNumber(now, s.randIntN),
		OwnerUserID: requester.ID,
		Items:       items,
		TotalPrice:  total,
		Status:      models.OrderSubmitted,
		Files:       files,
		Notes:       in.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var enqueueFailed bool
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		order.ID = primitive.NilObjectID
		enqueueFailed = false
		if err := s.store.Orders.Create(ctx, order); err != nil {
			return apperr.Internal("Failed to create order", err)
		}
		if s.notifier == nil {
			return nil
		}
		if err := s.notifier.EnqueueOrderCreated(ctx, order, requester); err != nil {
			enqueueFailed = true
			return apperr.Internal("Failed to create order", err)
		}
		return nil
	})
	if err != nil {
		if enqueueFailed {
			s.discardOrder(ctx, order.ID)
		}
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.Hex()),
		zap.String("order_number", order.OrderNumber),
		zap.Float64("total_price", order.TotalPrice),
	)
	return order, nil
}

// discardOrder removes an order whose notification could not be recorded.
// A rolled-back transaction already dropped it; without transactions the
// order is still stored and a retry would duplicate it.
func (s *OrderService) discardOrder(ctx context.Context, id primitive.ObjectID) {
	if id.IsZero() {
		return
	}
	err := s.store.Orders.Delete(context.WithoutCancel(ctx), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("failed to discard order after outbox failure",
			zap.String("order_id", id.Hex()), zap.Error(err))
	}
}

// priceItems computes line totals in decimal so the order total is the exact
// sum of its lines. Unknown or soft-deleted services price at zero.
func (s *OrderService) priceItems(in []OrderItemInput, catalog map[primitive.ObjectID]models.Service) ([]models.OrderItem, float64) {
	items := make([]models.OrderItem, 0, len(in))
	total := decimal.Zero
	for _, it := range in {
		item := models.OrderItem{ServiceID: it.ServiceID, Quantity: it.Quantity}

		svc, ok := catalog[it.ServiceID]
		if !ok || !svc.Active {
			s.log.Warn("order line references a missing service; priced at zero",
				zap.String("service_id", it.ServiceID.Hex()))
			items = append(items, item)
			continue
		}

		unit := decimal.NewFromFloat(unitPrice(svc))
		line := unit.Mul(decimal.NewFromFloat(it.Quantity)).Round(2)
		item.ServiceName = svc.Name
		item.UnitPrice = unit.InexactFloat64()
		item.LineTotal = line.InexactFloat64()
		total = total.Add(line)
		items = append(items, item)
	}
	return items, total.Round(2).InexactFloat64()
}

func unitPrice(svc models.Service) float64 {
	if svc.PriceType == models.PricePerUnit || svc.PricePerUnit > 0 {
		return svc.PricePerUnit
	}
	return svc.BasePrice
}

// NewOrderNumber formats FAB-YYMMDD-HHMM-XXXX with a random base-36 suffix.
// Numbers are for display; uniqueness is not checked.
func NewOrderNumber(t time.Time, randIntN func(n int) int) string {
	var b strings.Builder
	b.WriteString("FAB-")
	b.WriteString(t.UTC().Format("060102-1504"))
	b.WriteByte('-')
	for range 4 {
		b.WriteByte(orderSuffixAlphabet[randIntN(len(orderSuffixAlphabet))])
	}
	return b.String()
}

// Get returns an order to its owner or to staff.
func (s *OrderService) Get(ctx context.Context, viewer *models.User, id primitive.ObjectID) (*models.Order, error) {
	o, err := s.store.Orders.ByID(ctx, id)
	if err != nil {
		return nil, orderLookupErr(err)
	}
	if !viewer.IsStaff() && o.OwnerUserID != viewer.ID {
		return nil, apperr.Forbidden("You can only view your own orders")
	}
	return o, nil
}

// List shows students their own orders and staff every order.
func (s *OrderService) List(ctx context.Context, viewer *models.User, status models.OrderStatus) ([]models.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Invalid("invalid status %q", status)
	}
	f := models.OrderFilter{Status: status}
	if !viewer.IsStaff() {
		f.OwnerID = &viewer.ID
	}
	out, err := s.store.Orders.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal("Failed to retrieve orders", err)
	}
	return out, nil
}

// Update edits status and notes. Any status may follow any other.
func (s *OrderService) Update(ctx context.Context, id primitive.ObjectID, p models.OrderPatch) (*models.Order, error) {
	if p.Status == nil && p.Notes == nil {
		return nil, apperr.Invalid("No fields to update")
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperr.Invalid("invalid status %q", *p.Status)
	}
	o, err := s.store.Orders.Update(ctx, id, p, s.now().UTC())
	if err != nil {
		return nil, orderLookupErr(err)
	}
	return o, nil
}

func (s *OrderService) Delete(ctx context.Context, id primitive.ObjectID) error {
	if err := s.store.Orders.Delete(ctx, id); err != nil {
		return orderLookupErr(err)
	}
	s.log.Info("order deleted", zap.String("order_id", id.Hex()))
	return nil
}

func orderLookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Order not found")
	}
	return apperr.Internal("Failed to access order", err)
}
