// Package memstore keeps every collection in process memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

type db struct {
	mu sync.RWMutex
	// txMu serializes units of work; single operations only take mu.
	txMu sync.Mutex
	seq  int64

	users     map[primitive.ObjectID]models.User
	services  map[primitive.ObjectID]models.Service
	equipment map[primitive.ObjectID]models.Equipment
	checkouts map[primitive.ObjectID]models.Checkout
	orders    map[primitive.ObjectID]models.Order
	outbox    map[primitive.ObjectID]models.OutboxMessage
	order     map[primitive.ObjectID]int64
}

// New returns an empty in-memory store.
func New() *store.Store {
	d := &db{
		users:     map[primitive.ObjectID]models.User{},
		services:  map[primitive.ObjectID]models.Service{},
		equipment: map[primitive.ObjectID]models.Equipment{},
		checkouts: map[primitive.ObjectID]models.Checkout{},
		orders:    map[primitive.ObjectID]models.Order{},
		outbox:    map[primitive.ObjectID]models.OutboxMessage{},
		order:     map[primitive.ObjectID]int64{},
	}
	return store.New(
		&users{d}, &services{d}, &equipment{d}, &checkouts{d}, &orders{d}, &outbox{d},
		d.withTx,
	)
}

func (d *db) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	return fn(ctx)
}

func (d *db) assign(id *primitive.ObjectID) {
	if id.IsZero() {
		*id = primitive.NewObjectID()
	}
	d.seq++
	d.order[*id] = d.seq
}

// before orders by timestamp, then by insertion.
func (d *db) before(a, b primitive.ObjectID, ta, tb time.Time) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return d.order[a] < d.order[b]
}

type users struct{ d *db }

func (r *users) Create(_ context.Context, u *models.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.users {
		if existing.ExternalAuthID == u.ExternalAuthID {
			return store.ErrDuplicate
		}
	}
	r.d.assign(&u.ID)
	r.d.users[u.ID] = *u
	return nil
}

func (r *users) ByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	u, ok := r.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r *users) ByExternalID(_ context.Context, externalID string) (*models.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, u := range r.d.users {
		if u.ExternalAuthID == externalID {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *users) UpdateName(_ context.Context, id primitive.ObjectID, name string, at time.Time) (*models.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Name = name
	u.UpdatedAt = at
	r.d.users[id] = u
	return &u, nil
}

type services struct{ d *db }

func (r *services) Create(_ context.Context, s *models.Service) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.assign(&s.ID)
	r.d.services[s.ID] = *s
	return nil
}

func (r *services) ByID(_ context.Context, id primitive.ObjectID) (*models.Service, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	s, ok := r.d.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (r *services) ByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Service, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make(map[primitive.ObjectID]models.Service, len(ids))
	for _, id := range ids {
		if s, ok := r.d.services[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (r *services) List(_ context.Context, activeOnly bool) ([]models.Service, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]models.Service, 0, len(r.d.services))
	for _, s := range r.d.services {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *services) Update(_ context.Context, id primitive.ObjectID, p models.ServicePatch, at time.Time) (*models.Service, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	setIf(&s.Name, p.Name)
	setIf(&s.Description, p.Description)
	setIf(&s.Category, p.Category)
	setIf(&s.Type, p.Type)
	setIf(&s.Status, p.Status)
	setIf(&s.PriceType, p.PriceType)
	setIf(&s.BasePrice, p.BasePrice)
	setIf(&s.PricePerUnit, p.PricePerUnit)
	setIf(&s.UnitLabel, p.UnitLabel)
	setIf(&s.Active, p.Active)
	s.UpdatedAt = at
	r.d.services[id] = s
	return &s, nil
}

type equipment struct{ d *db }

func (r *equipment) Create(_ context.Context, e *models.Equipment) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.assign(&e.ID)
	r.d.equipment[e.ID] = *e
	return nil
}

func (r *equipment) ByID(_ context.Context, id primitive.ObjectID) (*models.Equipment, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	e, ok := r.d.equipment[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (r *equipment) List(_ context.Context, activeOnly bool) ([]models.Equipment, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]models.Equipment, 0, len(r.d.equipment))
	for _, e := range r.d.equipment {
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *equipment) Update(_ context.Context, id primitive.ObjectID, p models.EquipmentPatch, at time.Time) (*models.Equipment, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	e, ok := r.d.equipment[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	setIf(&e.Name, p.Name)
	setIf(&e.Description, p.Description)
	setIf(&e.Category, p.Category)
	setIf(&e.Location, p.Location)
	setIf(&e.Status, p.Status)
	setIf(&e.RequiresTraining, p.RequiresTraining)
	setIf(&e.ImageURL, p.ImageURL)
	setIf(&e.ThumbURL, p.ThumbURL)
	setIf(&e.Active, p.Active)
	e.UpdatedAt = at
	r.d.equipment[id] = e
	return &e, nil
}

func (r *equipment) CompareAndSetStatus(_ context.Context, id primitive.ObjectID, from, to models.EquipmentStatus, at time.Time) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	e, ok := r.d.equipment[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = at
	r.d.equipment[id] = e
	return true, nil
}

type checkouts struct{ d *db }

func (r *checkouts) Create(_ context.Context, c *models.Checkout) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.assign(&c.ID)
	r.d.checkouts[c.ID] = *c
	return nil
}

func (r *checkouts) ByID(_ context.Context, id primitive.ObjectID) (*models.Checkout, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	c, ok := r.d.checkouts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r *checkouts) List(_ context.Context, f models.CheckoutFilter) ([]models.Checkout, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]models.Checkout, 0)
	for _, c := range r.d.checkouts {
		if f.RequesterID != nil && c.RequesterUserID != *f.RequesterID {
			continue
		}
		if f.EquipmentID != nil && c.EquipmentID != *f.EquipmentID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.d.before(out[j].ID, out[i].ID, out[j].CreatedAt, out[i].CreatedAt)
	})
	return out, nil
}

func (r *checkouts) PendingForEquipment(_ context.Context, equipmentID primitive.ObjectID) ([]models.Checkout, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]models.Checkout, 0)
	for _, c := range r.d.checkouts {
		if c.EquipmentID == equipmentID && c.Status == models.CheckoutPending {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.d.before(out[i].ID, out[j].ID, out[i].CreatedAt, out[j].CreatedAt)
	})
	return out, nil
}

func (r *checkouts) Transition(_ context.Context, id primitive.ObjectID, from, to models.CheckoutStatus, t models.CheckoutTransition) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.checkouts[id]
	if !ok || c.Status != from {
		return false, nil
	}
	applyTransition(&c, to, t)
	r.d.checkouts[id] = c
	return true, nil
}

func (r *checkouts) DenyPendingExcept(_ context.Context, equipmentID, exceptID primitive.ObjectID, reason string, at time.Time) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var n int64
	for id, c := range r.d.checkouts {
		if id == exceptID || c.EquipmentID != equipmentID || c.Status != models.CheckoutPending {
			continue
		}
		applyTransition(&c, models.CheckoutDenied, models.CheckoutTransition{DenialReason: &reason, At: at})
		r.d.checkouts[id] = c
		n++
	}
	return n, nil
}

func (r *checkouts) Update(_ context.Context, id primitive.ObjectID, p models.CheckoutPatch, at time.Time) (*models.Checkout, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.checkouts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	setIf(&c.DueDate, p.DueDate)
	setIf(&c.Notes, p.Notes)
	c.UpdatedAt = at
	r.d.checkouts[id] = c
	return &c, nil
}

func applyTransition(c *models.Checkout, to models.CheckoutStatus, t models.CheckoutTransition) {
	c.Status = to
	if t.CheckoutDate != nil {
		c.CheckoutDate = t.CheckoutDate
	}
	if t.ReturnedDate != nil {
		c.ReturnedDate = t.ReturnedDate
	}
	if t.DenialReason != nil {
		reason := *t.DenialReason
		c.DenialReason = &reason
	}
	c.UpdatedAt = t.At
}

type orders struct{ d *db }

func (r *orders) Create(_ context.Context, o *models.Order) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.assign(&o.ID)
	r.d.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r *orders) ByID(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	o, ok := r.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *orders) List(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range r.d.orders {
		if f.OwnerID != nil && o.OwnerUserID != *f.OwnerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		return r.d.before(out[j].ID, out[i].ID, out[j].CreatedAt, out[i].CreatedAt)
	})
	return out, nil
}

func (r *orders) Update(_ context.Context, id primitive.ObjectID, p models.OrderPatch, at time.Time) (*models.Order, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	o, ok := r.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	setIf(&o.Status, p.Status)
	setIf(&o.Notes, p.Notes)
	o.UpdatedAt = at
	r.d.orders[id] = o
	o = cloneOrder(o)
	return &o, nil
}

func (r *orders) Delete(_ context.Context, id primitive.ObjectID) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.orders, id)
	return nil
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	o.Files = append([]string(nil), o.Files...)
	return o
}

type outbox struct{ d *db }

func (r *outbox) Enqueue(_ context.Context, m *models.OutboxMessage) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.assign(&m.ID)
	r.d.outbox[m.ID] = *m
	return nil
}

func (r *outbox) Pending(_ context.Context, limit int) ([]models.OutboxMessage, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]models.OutboxMessage, 0)
	for _, m := range r.d.outbox {
		if m.Status == models.OutboxPending {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.d.before(out[i].ID, out[j].ID, out[i].CreatedAt, out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outbox) MarkDelivered(_ context.Context, id primitive.ObjectID, at time.Time) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	m, ok := r.d.outbox[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = models.OutboxDelivered
	m.Attempts++
	m.DeliveredAt = &at
	r.d.outbox[id] = m
	return nil
}

func (r *outbox) MarkFailed(_ context.Context, id primitive.ObjectID, reason string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	m, ok := r.d.outbox[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Attempts++
	m.LastError = reason
	r.d.outbox[id] = m
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
