package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleStaff
}

type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ExternalAuthID string             `bson:"externalAuthId" json:"externalAuthId"`
	Email          string             `bson:"email" json:"email"`
	Name           string             `bson:"name" json:"name"`
	Role           Role               `bson:"role" json:"role"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) IsStaff() bool {
	return u != nil && u.Role == RoleStaff
}
