package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

type users struct{ col *mongo.Collection }

func (r *users) Create(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *users) ByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *users) ByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, bson.M{"externalAuthId": externalID}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *users) UpdateName(ctx context.Context, id primitive.ObjectID, name string, at time.Time) (*models.User, error) {
	var u models.User
	update := bson.M{"$set": bson.M{"name": name, "updatedAt": at}}
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, afterUpdate()).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

type services struct{ col *mongo.Collection }

func (r *services) Create(ctx context.Context, s *models.Service) error {
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *services) ByID(ctx context.Context, id primitive.ObjectID) (*models.Service, error) {
	var s models.Service
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *services) ByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Service, error) {
	found, err := findAll[models.Service](ctx, r.col, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}
	out := make(map[primitive.ObjectID]models.Service, len(found))
	for _, s := range found {
		out[s.ID] = s
	}
	return out, nil
}

func (r *services) List(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}})
	return findAll[models.Service](ctx, r.col, filter, opts)
}

func (r *services) Update(ctx context.Context, id primitive.ObjectID, p models.ServicePatch, at time.Time) (*models.Service, error) {
	set := bson.M{"updatedAt": at}
	putIf(set, "name", p.Name)
	putIf(set, "description", p.Description)
	putIf(set, "category", p.Category)
	putIf(set, "type", p.Type)
	putIf(set, "status", p.Status)
	putIf(set, "priceType", p.PriceType)
	putIf(set, "basePrice", p.BasePrice)
	putIf(set, "pricePerUnit", p.PricePerUnit)
	putIf(set, "unitLabel", p.UnitLabel)
	putIf(set, "active", p.Active)

	var s models.Service
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, afterUpdate()).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

type equipment struct{ col *mongo.Collection }

func (r *equipment) Create(ctx context.Context, e *models.Equipment) error {
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, e)
	return err
}

func (r *equipment) ByID(ctx context.Context, id primitive.ObjectID) (*models.Equipment, error) {
	var e models.Equipment
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&e); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *equipment) List(ctx context.Context, activeOnly bool) ([]models.Equipment, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findAll[models.Equipment](ctx, r.col, filter, opts)
}

func (r *equipment) Update(ctx context.Context, id primitive.ObjectID, p models.EquipmentPatch, at time.Time) (*models.Equipment, error) {
	set := bson.M{"updatedAt": at}
	putIf(set, "name", p.Name)
	putIf(set, "description", p.Description)
	putIf(set, "category", p.Category)
	putIf(set, "location", p.Location)
	putIf(set, "status", p.Status)
	putIf(set, "requiresTraining", p.RequiresTraining)
	putIf(set, "imageUrl", p.ImageURL)
	putIf(set, "thumbUrl", p.ThumbURL)
	putIf(set, "active", p.Active)

	var e models.Equipment
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, afterUpdate()).Decode(&e); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *equipment) CompareAndSetStatus(ctx context.Context, id primitive.ObjectID, from, to models.EquipmentStatus, at time.Time) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": at}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

type checkouts struct{ col *mongo.Collection }

func (r *checkouts) Create(ctx context.Context, c *models.Checkout) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, c)
	return err
}

func (r *checkouts) ByID(ctx context.Context, id primitive.ObjectID) (*models.Checkout, error) {
	var c models.Checkout
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *checkouts) List(ctx context.Context, f models.CheckoutFilter) ([]models.Checkout, error) {
	filter := bson.M{}
	if f.RequesterID != nil {
		filter["requesterUserId"] = *f.RequesterID
	}
	if f.EquipmentID != nil {
		filter["equipmentId"] = *f.EquipmentID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return findAll[models.Checkout](ctx, r.col, filter, opts)
}

func (r *checkouts) PendingForEquipment(ctx context.Context, equipmentID primitive.ObjectID) ([]models.Checkout, error) {
	filter := bson.M{"equipmentId": equipmentID, "status": models.CheckoutPending}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return findAll[models.Checkout](ctx, r.col, filter, opts)
}

func (r *checkouts) Transition(ctx context.Context, id primitive.ObjectID, from, to models.CheckoutStatus, t models.CheckoutTransition) (bool, error) {
	set := bson.M{"status": to, "updatedAt": t.At}
	putIf(set, "checkoutDate", t.CheckoutDate)
	putIf(set, "returnedDate", t.ReturnedDate)
	putIf(set, "denialReason", t.DenialReason)

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *checkouts) DenyPendingExcept(ctx context.Context, equipmentID, exceptID primitive.ObjectID, reason string, at time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{
			"equipmentId": equipmentID,
			"status":      models.CheckoutPending,
			"_id":         bson.M{"$ne": exceptID},
		},
		bson.M{"$set": bson.M{
			"status":       models.CheckoutDenied,
			"denialReason": reason,
			"updatedAt":    at,
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *checkouts) Update(ctx context.Context, id primitive.ObjectID, p models.CheckoutPatch, at time.Time) (*models.Checkout, error) {
	set := bson.M{"updatedAt": at}
	putIf(set, "dueDate", p.DueDate)
	putIf(set, "notes", p.Notes)

	var c models.Checkout
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, afterUpdate()).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

type orders struct{ col *mongo.Collection }

func (r *orders) Create(ctx context.Context, o *models.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, o)
	return err
}

func (r *orders) ByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var o models.Order
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *orders) List(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	filter := bson.M{}
	if f.OwnerID != nil {
		filter["ownerUserId"] = *f.OwnerID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return findAll[models.Order](ctx, r.col, filter, opts)
}

func (r *orders) Update(ctx context.Context, id primitive.ObjectID, p models.OrderPatch, at time.Time) (*models.Order, error) {
	set := bson.M{"updatedAt": at}
	putIf(set, "status", p.Status)
	putIf(set, "notes", p.Notes)

	var o models.Order
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, afterUpdate()).Decode(&o); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *orders) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type outbox struct{ col *mongo.Collection }

func (r *outbox) Enqueue(ctx context.Context, m *models.OutboxMessage) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *outbox) Pending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[models.OutboxMessage](ctx, r.col, bson.M{"status": models.OutboxPending}, opts)
}

func (r *outbox) MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": models.OutboxDelivered, "deliveredAt": at},
		"$inc": bson.M{"attempts": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *outbox) MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"lastError": reason},
		"$inc": bson.M{"attempts": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func putIf[T any](set bson.M, key string, v *T) {
	if v != nil {
		set[key] = *v
	}
}
