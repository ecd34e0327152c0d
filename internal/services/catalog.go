package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/cache"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

// CatalogService manages services and equipment. Deletes are soft.
type CatalogService struct {
	services  store.Services
	equipment store.Equipment
	cache     cache.Cache
	now       func() time.Time
	log       *zap.Logger

	// Bumped on every invalidation. A listing loaded across a bump is
	// dropped from the cache again instead of outliving the write.
	servicesGen  atomic.Uint64
	equipmentGen atomic.Uint64
}

func NewCatalogService(services store.Services, equipment store.Equipment, c cache.Cache, log *zap.Logger) *CatalogService {
	if c == nil {
		c = cache.Noop{}
	}
	return &CatalogService{services: services, equipment: equipment, cache: c, now: time.Now, log: log}
}

// --- Services ---

type ServiceInput struct {
	Name         string               `json:"name" binding:"required"`
	Description  string               `json:"description"`
	Category     string               `json:"category"`
	Type         models.ServiceType   `json:"type"`
	Status       models.ServiceStatus `json:"status"`
	PriceType    models.PriceType     `json:"priceType"`
	BasePrice    float64              `json:"basePrice"`
	PricePerUnit float64              `json:"pricePerUnit"`
	UnitLabel    string               `json:"unitLabel"`
}

func (s *CatalogService) ListServices(ctx context.Context, includeInactive bool) ([]models.Service, error) {
	key := cache.KeyServicesActive
	if includeInactive {
		key = cache.KeyServicesAll
	}
	var out []models.Service
	if cache.GetJSON(ctx, s.cache, key, &out) {
		return out, nil
	}

	gen := s.servicesGen.Load()
	out, err := s.services.List(ctx, !includeInactive)
	if err != nil {
		return nil, apperr.Internal("Failed to retrieve services", err)
	}
	s.fill(ctx, &s.servicesGen, gen, key, out)
	return out, nil
}

// GetService returns the service even when it has been soft-deleted.
func (s *CatalogService) GetService(ctx context.Context, id primitive.ObjectID) (*models.Service, error) {
	svc, err := s.services.ByID(ctx, id)
	if err != nil {
		return nil, serviceLookupErr(err)
	}
	return svc, nil
}

func (s *CatalogService) CreateService(ctx context.Context, in ServiceInput) (*models.Service, error) {
	if in.Type == "" {
		in.Type = models.ServiceTypeService
	}
	if in.Status == "" {
		in.Status = models.ServiceAvailable
	}
	if in.PriceType == "" {
		in.PriceType = models.PriceFixed
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Invalid("name is required")
	}
	if err := validateServiceFields(&in.Type, &in.Status, &in.PriceType, &in.BasePrice, &in.PricePerUnit); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	svc := &models.Service{
		Name:         in.Name,
		Description:  in.Description,
		Category:     in.Category,
		Type:         in.Type,
		Status:       in.Status,
		PriceType:    in.PriceType,
		BasePrice:    in.BasePrice,
		PricePerUnit: in.PricePerUnit,
		UnitLabel:    in.UnitLabel,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.services.Create(ctx, svc); err != nil {
		return nil, apperr.Internal("Failed to create service", err)
	}
	s.invalidateServices(ctx)
	return svc, nil
}

func (s *CatalogService) UpdateService(ctx context.Context, id primitive.ObjectID, p models.ServicePatch) (*models.Service, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, apperr.Invalid("name cannot be empty")
	}
	if err := validateServiceFields(p.Type, p.Status, p.PriceType, p.BasePrice, p.PricePerUnit); err != nil {
		return nil, err
	}
	svc, err := s.services.Update(ctx, id, p, s.now().UTC())
	if err != nil {
		return nil, serviceLookupErr(err)
	}
	s.invalidateServices(ctx)
	return svc, nil
}

// DeleteService hides the service from default listings; it stays retrievable by id.
func (s *CatalogService) DeleteService(ctx context.Context, id primitive.ObjectID) error {
	inactive := false
	if _, err := s.services.Update(ctx, id, models.ServicePatch{Active: &inactive}, s.now().UTC()); err != nil {
		return serviceLookupErr(err)
	}
	s.invalidateServices(ctx)
	return nil
}

func (s *CatalogService) invalidateServices(ctx context.Context) {
	s.servicesGen.Add(1)
	s.cache.Delete(ctx, cache.KeyServicesActive, cache.KeyServicesAll)
}

// fill caches a listing loaded at generation gen. Other API instances are
// not covered and their stale writes expire with the cache TTL.
func (s *CatalogService) fill(ctx context.Context, gen *atomic.Uint64, loadedAt uint64, key string, v any) {
	cache.SetJSON(ctx, s.cache, key, v)
	if gen.Load() != loadedAt {
		s.cache.Delete(ctx, key)
	}
}

func validateServiceFields(typ *models.ServiceType, status *models.ServiceStatus, priceType *models.PriceType, basePrice, perUnit *float64) error {
	if typ != nil && *typ != models.ServiceTypeMaterial && *typ != models.ServiceTypeService {
		return apperr.Invalid("type must be material or service")
	}
	if status != nil && *status != models.ServiceAvailable && *status != models.ServiceUnavailable {
		return apperr.Invalid("status must be available or unavailable")
	}
	if priceType != nil && *priceType != models.PriceFixed && *priceType != models.PricePerUnit {
		return apperr.Invalid("priceType must be fixed or per_unit")
	}
	if (basePrice != nil && *basePrice < 0) || (perUnit != nil && *perUnit < 0) {
		return apperr.Invalid("prices cannot be negative")
	}
	return nil
}

func serviceLookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Service not found")
	}
	return apperr.Internal("Failed to access service", err)
}

// --- Equipment ---

type EquipmentInput struct {
	Name             string                 `json:"name" binding:"required"`
	Description      string                 `json:"description"`
	Category         string                 `json:"category"`
	Location         string                 `json:"location"`
	Status           models.EquipmentStatus `json:"status"`
	RequiresTraining bool                   `json:"requiresTraining"`
	ImageURL         string                 `json:"imageUrl"`
	ThumbURL         string                 `json:"thumbUrl"`
}

func (s *CatalogService) ListEquipment(ctx context.Context, includeInactive bool) ([]models.Equipment, error) {
	key := cache.KeyEquipmentActive
	if includeInactive {
		key = cache.KeyEquipmentAll
	}
	var out []models.Equipment
	if cache.GetJSON(ctx, s.cache, key, &out) {
		return out, nil
	}

	gen := s.equipmentGen.Load()
	out, err := s.equipment.List(ctx, !includeInactive)
	if err != nil {
		return nil, apperr.Internal("Failed to retrieve equipment", err)
	}
	s.fill(ctx, &s.equipmentGen, gen, key, out)
	return out, nil
}

func (s *CatalogService) GetEquipment(ctx context.Context, id primitive.ObjectID) (*models.Equipment, error) {
	e, err := s.equipment.ByID(ctx, id)
	if err != nil {
		return nil, equipmentLookupErr(err)
	}
	return e, nil
}

func (s *CatalogService) CreateEquipment(ctx context.Context, in EquipmentInput) (*models.Equipment, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Invalid("name is required")
	}
	if in.Status == "" {
		in.Status = models.EquipmentAvailable
	}
	if !in.Status.Valid() {
		return nil, apperr.Invalid("invalid equipment status %q", in.Status)
	}

	now := s.now().UTC()
	e := &models.Equipment{
		Name:             in.Name,
		Description:      in.Description,
		Category:         in.Category,
		Location:         in.Location,
		Status:           in.Status,
		RequiresTraining: in.RequiresTraining,
		ImageURL:         in.ImageURL,
		ThumbURL:         in.ThumbURL,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.equipment.Create(ctx, e); err != nil {
		return nil, apperr.Internal("Failed to create equipment", err)
	}
	s.invalidateEquipment(ctx)
	return e, nil
}

// UpdateEquipment also serves manual status toggles such as maintenance.
func (s *CatalogService) UpdateEquipment(ctx context.Context, id primitive.ObjectID, p models.EquipmentPatch) (*models.Equipment, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, apperr.Invalid("name cannot be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperr.Invalid("invalid equipment status %q", *p.Status)
	}
	e, err := s.equipment.Update(ctx, id, p, s.now().UTC())
	if err != nil {
		return nil, equipmentLookupErr(err)
	}
	s.invalidateEquipment(ctx)
	return e, nil
}

func (s *CatalogService) DeleteEquipment(ctx context.Context, id primitive.ObjectID) error {
	inactive := false
	if _, err := s.equipment.Update(ctx, id, models.EquipmentPatch{Active: &inactive}, s.now().UTC()); err != nil {
		return equipmentLookupErr(err)
	}
	s.invalidateEquipment(ctx)
	return nil
}

// InvalidateEquipment drops cached equipment listings. Checkout transitions
// change equipment status, so the checkout workflow calls this too.
func (s *CatalogService) InvalidateEquipment(ctx context.Context) {
	s.invalidateEquipment(ctx)
}

func (s *CatalogService) invalidateEquipment(ctx context.Context) {
	s.equipmentGen.Add(1)
	s.cache.Delete(ctx, cache.KeyEquipmentActive, cache.KeyEquipmentAll)
}

func equipmentLookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Equipment not found")
	}
	return apperr.Internal("Failed to access equipment", err)
}
