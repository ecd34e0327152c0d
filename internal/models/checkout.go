package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CheckoutStatus string

const (
	CheckoutPending  CheckoutStatus = "pending"
	CheckoutApproved CheckoutStatus = "approved"
	CheckoutDenied   CheckoutStatus = "denied"
	CheckoutReturned CheckoutStatus = "returned"
)

func (s CheckoutStatus) Valid() bool {
	switch s {
	case CheckoutPending, CheckoutApproved, CheckoutDenied, CheckoutReturned:
		return true
	}
	return false
}

// Checkout is a student's request to borrow one equipment item.
// EquipmentID is a back-reference only.
type Checkout struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EquipmentID     primitive.ObjectID `bson:"equipmentId" json:"equipmentId"`
	RequesterUserID primitive.ObjectID `bson:"requesterUserId" json:"requesterUserId"`
	RequestDate     time.Time          `bson:"requestDate" json:"requestDate"`
	CheckoutDate    *time.Time         `bson:"checkoutDate" json:"checkoutDate"`
	DueDate         time.Time          `bson:"dueDate" json:"dueDate"`
	ReturnedDate    *time.Time         `bson:"returnedDate" json:"returnedDate"`
	Status          CheckoutStatus     `bson:"status" json:"status"`
	DenialReason    *string            `bson:"denialReason,omitempty" json:"denialReason,omitempty"`
	Notes           string             `bson:"notes" json:"notes"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CheckoutTransition is written together with a status change.
type CheckoutTransition struct {
	CheckoutDate *time.Time
	ReturnedDate *time.Time
	DenialReason *string
	At           time.Time
}

type CheckoutPatch struct {
	DueDate *time.Time
	Notes   *string
}

type CheckoutFilter struct {
	RequesterID *primitive.ObjectID
	EquipmentID *primitive.ObjectID
	Status      CheckoutStatus
}
