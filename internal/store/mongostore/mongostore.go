// Package mongostore implements the store repositories on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/fablab-api/internal/store"
)

const (
	colUsers     = "users"
	colServices  = "services"
	colEquipment = "equipment"
	colCheckouts = "checkouts"
	colOrders    = "orders"
	colOutbox    = "outbox"
)

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// New builds a Store over db. With transactions enabled every WithTx call
// runs in a session transaction, which needs a replica set.
func New(client *mongo.Client, db *mongo.Database, transactions bool) *store.Store {
	var tx func(ctx context.Context, fn func(ctx context.Context) error) error
	if transactions {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error {
			sess, err := client.StartSession()
			if err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			defer sess.EndSession(ctx)

			_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
				return nil, fn(sc)
			})
			return err
		}
	}

	return store.New(
		&users{col: db.Collection(colUsers)},
		&services{col: db.Collection(colServices)},
		&equipment{col: db.Collection(colEquipment)},
		&checkouts{col: db.Collection(colCheckouts)},
		&orders{col: db.Collection(colOrders)},
		&outbox{col: db.Collection(colOutbox)},
		tx,
	)
}

// EnsureIndexes creates the indexes the queries rely on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "externalAuthId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colServices: {
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "category", Value: 1}}},
		},
		colEquipment: {
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "name", Value: 1}}},
		},
		colCheckouts: {
			{Keys: bson.D{{Key: "equipmentId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "requesterUserId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		colOrders: {
			{Keys: bson.D{{Key: "ownerUserId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		colOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]T, error) {
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}
