package mongodb

import (
	"context"
	"time"

	"github.com/davicafu/webhooklab/internal/webhook/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SubscriptionRepoMongoDB implementa domain.SubscriptionRepository.
type SubscriptionRepoMongoDB struct {
	coll *mongo.Collection
}

func NewSubscriptionRepoMongoDB(client *mongo.Client, dbName string) *SubscriptionRepoMongoDB {
	return &SubscriptionRepoMongoDB{coll: client.Database(dbName).Collection("subscriptions")}
}

// EnsureSubscriptionIndexes crea el índice único parcial de idempotencia.
func EnsureSubscriptionIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	coll := client.Database(dbName).Collection("subscriptions")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerKey", Value: 1}, {Key: "idempotencyKey", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$exists": true}}),
	})
	return err
}

// mongoSubscription es un helper para mapear los documentos a un struct.
type mongoSubscription struct {
	ID             uuid.UUID `bson:"_id"`
	OwnerKey       string    `bson:"ownerKey"`
	TargetURL      string    `bson:"targetUrl"`
	EventTypes     []string  `bson:"eventTypes"`
	Secret         string    `bson:"secret"`
	Enabled        bool      `bson:"enabled"`
	IdempotencyKey *string   `bson:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func (r *SubscriptionRepoMongoDB) Create(ctx context.Context, s *domain.Subscription) error {
	_, err := r.coll.InsertOne(ctx, toMongoSubscription(s))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrSubscriptionExists
	}
	return err
}

func (r *SubscriptionRepoMongoDB) GetByID(ctx context.Context, ownerKey string, id uuid.UUID) (*domain.Subscription, error) {
	return r.findOne(ctx, bson.M{"_id": id, "ownerKey": ownerKey})
}

func (r *SubscriptionRepoMongoDB) FindByIdempotencyKey(ctx context.Context, ownerKey, key string) (*domain.Subscription, error) {
	return r.findOne(ctx, bson.M{"ownerKey": ownerKey, "idempotencyKey": key})
}

func (r *SubscriptionRepoMongoDB) findOne(ctx context.Context, filter bson.M) (*domain.Subscription, error) {
	var ms mongoSubscription
	err := r.coll.FindOne(ctx, filter).Decode(&ms)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromMongoSubscription(&ms), nil
}

func (r *SubscriptionRepoMongoDB) ListByOwner(ctx context.Context, ownerKey string, page domain.Page) ([]*domain.Subscription, string, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	filter := bson.M{"ownerKey": ownerKey}
	if page.Cursor != "" {
		cursorID, err := uuid.Parse(page.Cursor)
		if err != nil {
			return nil, "", domain.ErrInvalidSubscription
		}
		filter["_id"] = bson.M{"$gt": cursorID}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", err
	}
	defer cursor.Close(ctx)

	var subs []*domain.Subscription
	for cursor.Next(ctx) {
		var ms mongoSubscription
		if err := cursor.Decode(&ms); err != nil {
			return nil, "", err
		}
		subs = append(subs, fromMongoSubscription(&ms))
	}
	if err := cursor.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(subs) == limit {
		next = subs[len(subs)-1].ID.String()
	}
	return subs, next, nil
}

func toMongoSubscription(s *domain.Subscription) *mongoSubscription {
	return &mongoSubscription{
		ID:             s.ID,
		OwnerKey:       s.OwnerKey,
		TargetURL:      s.TargetURL,
		EventTypes:     s.EventTypes,
		Secret:         s.Secret,
		Enabled:        s.Enabled,
		IdempotencyKey: s.IdempotencyKey,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromMongoSubscription(ms *mongoSubscription) *domain.Subscription {
	return &domain.Subscription{
		ID:             ms.ID,
		OwnerKey:       ms.OwnerKey,
		TargetURL:      ms.TargetURL,
		EventTypes:     ms.EventTypes,
		Secret:         ms.Secret,
		Enabled:        ms.Enabled,
		IdempotencyKey: ms.IdempotencyKey,
		CreatedAt:      ms.CreatedAt,
		UpdatedAt:      ms.UpdatedAt,
	}
}

// Verificación en tiempo de compilación.
var _ domain.SubscriptionRepository = (*SubscriptionRepoMongoDB)(nil)
