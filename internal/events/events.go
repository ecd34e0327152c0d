package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	RKOrderCreated = "order.created"
)

type Requester struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type OrderLine struct {
	ServiceName string  `json:"service_name"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// OrderCreated carries enough to render both confirmation emails.
type OrderCreated struct {
	EventID     string      `json:"event_id"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Status      string      `json:"status"`
	TotalPrice  float64     `json:"total_price"`
	Items       []OrderLine `json:"items"`
	Files       []string    `json:"files,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	Requester   Requester   `json:"requester"`
	CreatedAt   time.Time   `json:"created_at"`
}

func Decode[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
