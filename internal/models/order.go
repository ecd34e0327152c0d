package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	OrderSubmitted  OrderStatus = "submitted"
	OrderInProgress OrderStatus = "in-progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderSubmitted, OrderInProgress, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

type OrderItem struct {
	ServiceID   primitive.ObjectID `bson:"serviceId" json:"serviceId"`
	ServiceName string             `bson:"serviceName" json:"serviceName"`
	Quantity    float64            `bson:"quantity" json:"quantity"`
	UnitPrice   float64            `bson:"unitPrice" json:"unitPrice"`
	LineTotal   float64            `bson:"lineTotal" json:"lineTotal"`
}

type Order struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderNumber string             `bson:"orderNumber" json:"orderNumber"`
	OwnerUserID primitive.ObjectID `bson:"ownerUserId" json:"ownerUserId"`
	Items       []OrderItem        `bson:"items" json:"items"`
	TotalPrice  float64            `bson:"totalPrice" json:"totalPrice"`
	Status      OrderStatus        `bson:"status" json:"status"`
	Files       []string           `bson:"files" json:"files"`
	Notes       string             `bson:"notes" json:"notes"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type OrderPatch struct {
	Status *OrderStatus
	Notes  *string
}

type OrderFilter struct {
	OwnerID *primitive.ObjectID
	Status  OrderStatus
}
