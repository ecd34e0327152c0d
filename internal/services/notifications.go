package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/events"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

// NotificationService records notification intents in the outbox. Delivery
// happens later through the Dispatcher, so a broker outage never fails the
// change that triggered the notification.
type NotificationService struct {
	outbox store.Outbox
	now    func() time.Time
}

func NewNotificationService(outbox store.Outbox) *NotificationService {
	return &NotificationService{outbox: outbox, now: time.Now}
}

// EnqueueOrderCreated must be called with the ctx of the order's transaction.
func (s *NotificationService) EnqueueOrderCreated(ctx context.Context, order *models.Order, user *models.User) error {
	ev := events.OrderCreated{
		EventID:     uuid.NewString(),
		OrderID:     order.ID.Hex(),
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		TotalPrice:  order.TotalPrice,
		Files:       order.Files,
		Notes:       order.Notes,
		Requester:   events.Requester{Email: user.Email, Name: user.Name},
		CreatedAt:   order.CreatedAt,
	}
	for _, it := range order.Items {
		ev.Items = append(ev.Items, events.OrderLine{
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.LineTotal,
		})
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", events.RKOrderCreated, err)
	}
	msg := &models.OutboxMessage{
		EventID:    ev.EventID,
		RoutingKey: events.RKOrderCreated,
		Payload:    payload,
		Status:     models.OutboxPending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", events.RKOrderCreated, err)
	}
	return nil
}

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

// Dispatcher moves pending outbox messages to the broker.
type Dispatcher struct {
	outbox   store.Outbox
	pub      Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
	log      *zap.Logger
}

func NewDispatcher(outbox store.Outbox, pub Publisher, interval time.Duration, batch int, log *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Dispatcher{outbox: outbox, pub: pub, interval: interval, batch: batch, now: time.Now, log: log}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info("outbox dispatcher started", zap.Duration("interval", d.interval))
	for {
		if _, err := d.DispatchOnce(ctx); err != nil {
			d.log.Warn("outbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes one batch and returns how many messages were delivered.
// Failed messages stay pending with their attempt count bumped.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.outbox.Pending(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("load pending outbox: %w", err)
	}

	delivered := 0
	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := d.pub.Publish(ctx, m.RoutingKey, m.EventID, m.Payload); err != nil {
			d.log.Warn("publish failed; will retry",
				zap.String("event_id", m.EventID),
				zap.String("routing_key", m.RoutingKey),
				zap.Int("attempts", m.Attempts+1),
				zap.Error(err),
			)
			if mErr := d.outbox.MarkFailed(ctx, m.ID, err.Error()); mErr != nil {
				d.log.Error("mark outbox failure", zap.String("event_id", m.EventID), zap.Error(mErr))
			}
			continue
		}
		if err := d.outbox.MarkDelivered(ctx, m.ID, d.now().UTC()); err != nil {
			// Published but not marked: the next poll publishes it again.
			d.log.Error("mark outbox delivered", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered, nil
}
