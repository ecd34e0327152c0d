package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
)

// OutboxMessage is a notification intent stored with the change that caused it.
type OutboxMessage struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID     string             `bson:"eventId" json:"eventId"`
	RoutingKey  string             `bson:"routingKey" json:"routingKey"`
	Payload     []byte             `bson:"payload" json:"payload"`
	Status      OutboxStatus       `bson:"status" json:"status"`
	Attempts    int                `bson:"attempts" json:"attempts"`
	LastError   string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	DeliveredAt *time.Time         `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
}
