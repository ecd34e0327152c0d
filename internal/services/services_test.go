package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
	"github.com/harentsoaR/fablab-api/internal/store/memstore"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mapCache is an in-process Cache that records deletes.
type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok
}

func (m *mapCache) Set(_ context.Context, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *mapCache) Delete(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
}

type fixture struct {
	st        *store.Store
	clock     *fakeClock
	cache     *mapCache
	tokens    *utils.TokenVerifier
	identity  *IdentityService
	catalog   *CatalogService
	checkouts *CheckoutService
	notifier  *NotificationService
	orders    *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	st := memstore.New()
	clock := &fakeClock{t: time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)}
	c := newMapCache()
	tokens := utils.NewTokenVerifier("test-secret", "", "")

	f := &fixture{
		st:       st,
		clock:    clock,
		cache:    c,
		tokens:   tokens,
		identity: NewIdentityService(tokens, st.Users, log),
		catalog:  NewCatalogService(st.Services, st.Equipment, c, log),
		notifier: NewNotificationService(st.Outbox),
	}
	f.checkouts = NewCheckoutService(st, f.catalog, log)
	f.orders = NewOrderService(st, f.notifier, log)

	f.identity.now = clock.Now
	f.catalog.now = clock.Now
	f.checkouts.now = clock.Now
	f.notifier.now = clock.Now
	f.orders.now = clock.Now
	return f
}

func (f *fixture) user(t *testing.T, externalID string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		ExternalAuthID: externalID,
		Email:          externalID + "@uni.edu",
		Name:           externalID,
		Role:           role,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.st.Users.Create(context.Background(), u))
	return u
}

func (f *fixture) equipment(t *testing.T, name string) *models.Equipment {
	t.Helper()
	e, err := f.catalog.CreateEquipment(context.Background(), EquipmentInput{Name: name, Category: "printers", Location: "Room 101"})
	require.NoError(t, err)
	return e
}

func (f *fixture) service(t *testing.T, in ServiceInput) *models.Service {
	t.Helper()
	s, err := f.catalog.CreateService(context.Background(), in)
	require.NoError(t, err)
	return s
}

func (f *fixture) request(t *testing.T, u *models.User, eqID primitive.ObjectID) *models.Checkout {
	t.Helper()
	c, err := f.checkouts.Request(context.Background(), u, CheckoutRequestInput{
		EquipmentID: eqID,
		DueDate:     f.clock.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	// Distinct createdAt for each request.
	f.clock.Advance(time.Second)
	return c
}
