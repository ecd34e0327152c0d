package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ServiceType string

const (
	ServiceTypeMaterial ServiceType = "material"
	ServiceTypeService  ServiceType = "service"
)

type ServiceStatus string

const (
	ServiceAvailable   ServiceStatus = "available"
	ServiceUnavailable ServiceStatus = "unavailable"
)

type PriceType string

const (
	PriceFixed   PriceType = "fixed"
	PricePerUnit PriceType = "per_unit"
)

// Service is a fabrication service or material offered by the lab.
type Service struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Description  string             `bson:"description" json:"description"`
	Category     string             `bson:"category" json:"category"`
	Type         ServiceType        `bson:"type" json:"type"`
	Status       ServiceStatus      `bson:"status" json:"status"`
	PriceType    PriceType          `bson:"priceType" json:"priceType"`
	BasePrice    float64            `bson:"basePrice" json:"basePrice"`
	PricePerUnit float64            `bson:"pricePerUnit" json:"pricePerUnit"`
	UnitLabel    string             `bson:"unitLabel" json:"unitLabel"`
	Active       bool               `bson:"active" json:"active"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// ServicePatch lists the fields staff may change. Nil means untouched.
type ServicePatch struct {
	Name         *string        `json:"name"`
	Description  *string        `json:"description"`
	Category     *string        `json:"category"`
	Type         *ServiceType   `json:"type"`
	Status       *ServiceStatus `json:"status"`
	PriceType    *PriceType     `json:"priceType"`
	BasePrice    *float64       `json:"basePrice"`
	PricePerUnit *float64       `json:"pricePerUnit"`
	UnitLabel    *string        `json:"unitLabel"`
	Active       *bool          `json:"active"`
}

type EquipmentStatus string

const (
	EquipmentAvailable   EquipmentStatus = "available"
	EquipmentCheckedOut  EquipmentStatus = "checked_out"
	EquipmentMaintenance EquipmentStatus = "maintenance"
	EquipmentRetired     EquipmentStatus = "retired"
)

func (s EquipmentStatus) Valid() bool {
	switch s {
	case EquipmentAvailable, EquipmentCheckedOut, EquipmentMaintenance, EquipmentRetired:
		return true
	}
	return false
}

// Equipment is a lendable lab item. Status decides checkout eligibility.
type Equipment struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name             string             `bson:"name" json:"name"`
	Description      string             `bson:"description" json:"description"`
	Category         string             `bson:"category" json:"category"`
	Location         string             `bson:"location" json:"location"`
	Status           EquipmentStatus    `bson:"status" json:"status"`
	RequiresTraining bool               `bson:"requiresTraining" json:"requiresTraining"`
	ImageURL         string             `bson:"imageUrl" json:"imageUrl"`
	ThumbURL         string             `bson:"thumbUrl" json:"thumbUrl"`
	Active           bool               `bson:"active" json:"active"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type EquipmentPatch struct {
	Name             *string          `json:"name"`
	Description      *string          `json:"description"`
	Category         *string          `json:"category"`
	Location         *string          `json:"location"`
	Status           *EquipmentStatus `json:"status"`
	RequiresTraining *bool            `json:"requiresTraining"`
	ImageURL         *string          `json:"imageUrl"`
	ThumbURL         *string          `json:"thumbUrl"`
	Active           *bool            `json:"active"`
}
