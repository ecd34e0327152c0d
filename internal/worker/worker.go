// Package worker consumes notification events and sends the emails they call for.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/events"
)

// ErrUndecodable marks payloads that can never be processed. They are
// rejected without requeue so a configured DLX can collect them.
var ErrUndecodable = errors.New("undecodable payload")

type Worker struct {
	mailer     Mailer
	staffEmail string
	log        *zap.Logger
}

func New(mailer Mailer, staffEmail string, log *zap.Logger) *Worker {
	return &Worker{mailer: mailer, staffEmail: staffEmail, log: log}
}

// Run processes deliveries until ctx is cancelled or the channel closes.
// A message is acked only after every email it triggers has been sent;
// any other failure requeues it.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			w.dispatch(ctx, d)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, d amqp.Delivery) {
	log := w.log.With(zap.String("routing_key", d.RoutingKey), zap.String("message_id", d.MessageId))

	err := w.handle(ctx, d.RoutingKey, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
	case errors.Is(err, ErrUndecodable):
		log.Error("rejecting message", zap.Error(err))
		_ = d.Reject(false)
	default:
		log.Warn("handle failed; requeueing", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

func (w *Worker) handle(ctx context.Context, routingKey string, body []byte) error {
	switch routingKey {
	case events.RKOrderCreated:
		ev, err := events.Decode[events.OrderCreated](body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return w.orderCreated(ctx, ev)
	default:
		w.log.Info("skip unknown routing key", zap.String("routing_key", routingKey))
		return nil
	}
}

func (w *Worker) orderCreated(ctx context.Context, ev events.OrderCreated) error {
	summary := orderSummary(ev)

	if ev.Requester.Email != "" {
		greeting := "Hello"
		if ev.Requester.Name != "" {
			greeting += " " + ev.Requester.Name
		}
		err := w.mailer.Send(ctx, Message{
			To:      []string{ev.Requester.Email},
			Subject: fmt.Sprintf("Fab Lab order %s received", ev.OrderNumber),
			Body:    greeting + ",\n\nWe received your fabrication order.\n\n" + summary + "\nStaff will review it shortly.\n",
		})
		if err != nil {
			return fmt.Errorf("requester email: %w", err)
		}
	} else {
		w.log.Warn("order has no requester email; skipping confirmation", zap.String("order_id", ev.OrderID))
	}

	err := w.mailer.Send(ctx, Message{
		To:      []string{w.staffEmail},
		Subject: fmt.Sprintf("New Fab Lab order %s", ev.OrderNumber),
		Body:    fmt.Sprintf("New order from %s <%s>.\n\n%s", ev.Requester.Name, ev.Requester.Email, summary),
	})
	if err != nil {
		return fmt.Errorf("staff email: %w", err)
	}

	w.log.Info("order notifications sent", zap.String("order_id", ev.OrderID), zap.String("event_id", ev.EventID))
	return nil
}

func orderSummary(ev events.OrderCreated) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order: %s\nStatus: %s\n\n", ev.OrderNumber, ev.Status)
	for _, it := range ev.Items {
		name := it.ServiceName
		if name == "" {
			name = "(unknown service)"
		}
		fmt.Fprintf(&b, "  %s x %s @ %s = %s\n", name,
			decimal.NewFromFloat(it.Quantity).String(),
			money(it.UnitPrice), money(it.LineTotal))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", money(ev.TotalPrice))
	if len(ev.Files) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(ev.Files, ", "))
	}
	if ev.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", ev.Notes)
	}
	return b.String()
}

func money(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}
