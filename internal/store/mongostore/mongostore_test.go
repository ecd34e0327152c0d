package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
)

// Runs against a real server only when MONGO_TEST_URI is set, e.g.
// MONGO_TEST_URI=mongodb://localhost:27017 go test ./internal/store/mongostore/
type MongoStoreSuite struct {
	suite.Suite
	client *mongo.Client
	db     *mongo.Database
	st     *store.Store
}

func TestMongoStoreSuite(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	suite.Run(t, &MongoStoreSuite{})
}

func (s *MongoStoreSuite) SetupSuite() {
	client, err := Connect(context.Background(), os.Getenv("MONGO_TEST_URI"))
	s.Require().NoError(err)
	s.client = client
}

func (s *MongoStoreSuite) TearDownSuite() {
	_ = s.client.Disconnect(context.Background())
}

func (s *MongoStoreSuite) SetupTest() {
	s.db = s.client.Database(fmt.Sprintf("fablab_test_%d", time.Now().UnixNano()))
	s.Require().NoError(EnsureIndexes(context.Background(), s.db))
	s.st = New(s.client, s.db, false)
}

func (s *MongoStoreSuite) TearDownTest() {
	_ = s.db.Drop(context.Background())
}

func (s *MongoStoreSuite) TestUserExternalIDIsUnique() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.st.Users.Create(ctx, &models.User{ExternalAuthID: "idp|1", Email: "a@uni.edu", Role: models.RoleStudent, CreatedAt: now}))

	err := s.st.Users.Create(ctx, &models.User{ExternalAuthID: "idp|1", Email: "b@uni.edu", Role: models.RoleStudent, CreatedAt: now})
	s.ErrorIs(err, store.ErrDuplicate)

	_, err = s.st.Users.ByExternalID(ctx, "idp|missing")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *MongoStoreSuite) TestEquipmentCompareAndSet() {
	ctx := context.Background()
	now := time.Now().UTC()
	e := &models.Equipment{Name: "Printer", Status: models.EquipmentAvailable, Active: true, CreatedAt: now}
	s.Require().NoError(s.st.Equipment.Create(ctx, e))

	ok, err := s.st.Equipment.CompareAndSetStatus(ctx, e.ID, models.EquipmentAvailable, models.EquipmentCheckedOut, now)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.st.Equipment.CompareAndSetStatus(ctx, e.ID, models.EquipmentAvailable, models.EquipmentCheckedOut, now)
	s.Require().NoError(err)
	s.False(ok, "second claim loses")
}

func (s *MongoStoreSuite) TestCheckoutTransitionsAndCascade() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	eqID := primitive.NewObjectID()

	var ids []primitive.ObjectID
	for i := range 3 {
		c := &models.Checkout{
			EquipmentID:     eqID,
			RequesterUserID: primitive.NewObjectID(),
			Status:          models.CheckoutPending,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
		}
		s.Require().NoError(s.st.Checkouts.Create(ctx, c))
		ids = append(ids, c.ID)
	}

	pending, err := s.st.Checkouts.PendingForEquipment(ctx, eqID)
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.Equal(ids[0], pending[0].ID, "oldest first")

	ok, err := s.st.Checkouts.Transition(ctx, ids[0], models.CheckoutPending, models.CheckoutApproved,
		models.CheckoutTransition{CheckoutDate: &now, At: now})
	s.Require().NoError(err)
	s.True(ok)

	n, err := s.st.Checkouts.DenyPendingExcept(ctx, eqID, ids[0], "taken", now)
	s.Require().NoError(err)
	s.EqualValues(2, n)

	got, err := s.st.Checkouts.ByID(ctx, ids[2])
	s.Require().NoError(err)
	s.Equal(models.CheckoutDenied, got.Status)
	s.Require().NotNil(got.DenialReason)
	s.Equal("taken", *got.DenialReason)

	ok, err = s.st.Checkouts.Transition(ctx, ids[1], models.CheckoutPending, models.CheckoutApproved,
		models.CheckoutTransition{CheckoutDate: &now, At: now})
	s.Require().NoError(err)
	s.False(ok)
}

func (s *MongoStoreSuite) TestOutboxLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC()
	m := &models.OutboxMessage{EventID: "ev-1", RoutingKey: "order.created", Payload: []byte(`{}`), Status: models.OutboxPending, CreatedAt: now}
	s.Require().NoError(s.st.Outbox.Enqueue(ctx, m))

	s.Require().NoError(s.st.Outbox.MarkFailed(ctx, m.ID, "boom"))
	pending, err := s.st.Outbox.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(1, pending[0].Attempts)

	s.Require().NoError(s.st.Outbox.MarkDelivered(ctx, m.ID, now))
	pending, err = s.st.Outbox.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *MongoStoreSuite) TestOrderDeleteMissing() {
	s.ErrorIs(s.st.Orders.Delete(context.Background(), primitive.NewObjectID()), store.ErrNotFound)
}
