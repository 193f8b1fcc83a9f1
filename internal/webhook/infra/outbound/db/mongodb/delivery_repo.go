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

// DeliveryRepoMongoDB implementa domain.DeliveryRepository.
type DeliveryRepoMongoDB struct {
	coll *mongo.Collection
}

func NewDeliveryRepoMongoDB(client *mongo.Client, dbName string) *DeliveryRepoMongoDB {
	return &DeliveryRepoMongoDB{coll: client.Database(dbName).Collection("deliveries")}
}

// mongoDelivery es un helper para mapear los documentos a un struct.
type mongoDelivery struct {
	ID             uuid.UUID  `bson:"_id"`
	SubscriptionID uuid.UUID  `bson:"subscriptionId"`
	OwnerKey       string     `bson:"ownerKey"`
	EventID        string     `bson:"eventId"`
	EventType      string     `bson:"eventType"`
	TargetURL      string     `bson:"targetUrl"`
	Secret         string     `bson:"secret"`
	Payload        []byte     `bson:"payload"`
	Status         string     `bson:"status"`
	AttemptCount   int        `bson:"attemptCount"`
	CreatedAt      time.Time  `bson:"createdAt"`
	UpdatedAt      time.Time  `bson:"updatedAt"`
	LastAttemptAt  *time.Time `bson:"lastAttemptAt,omitempty"`
	NextAttemptAt  *time.Time `bson:"nextAttemptAt,omitempty"`
	ClaimedUntil   *time.Time `bson:"claimedUntil,omitempty"`
}

func (r *DeliveryRepoMongoDB) CreatePending(ctx context.Context, d *domain.OutboundDelivery) error {
	_, err := r.coll.InsertOne(ctx, toMongoDelivery(d))
	return err
}

func (r *DeliveryRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboundDelivery, error) {
	var md mongoDelivery
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&md)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromMongoDelivery(&md), nil
}

// ClaimDue reclama filas de una en una con FindOneAndUpdate: el filtro y el
// $set del lease son atómicos a nivel de documento, así que dos workers
// nunca se llevan la misma fila. Un lease expirado vuelve a ser elegible.
func (r *DeliveryRepoMongoDB) ClaimDue(ctx context.Context, now time.Time, leaseFor time.Duration, limit int) ([]*domain.OutboundDelivery, error) {
	filter := bson.M{
		"status":        string(domain.StatusPending),
		"nextAttemptAt": bson.M{"$lte": now},
		"$or": []bson.M{
			{"claimedUntil": bson.M{"$exists": false}},
			{"claimedUntil": nil},
			{"claimedUntil": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{"claimedUntil": now.Add(leaseFor)}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "nextAttemptAt", Value: 1}}).
		SetReturnDocument(options.After)

	var claimed []*domain.OutboundDelivery
	for i := 0; i < limit; i++ {
		var md mongoDelivery
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&md)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				break // no quedan filas vencidas
			}
			return claimed, err
		}
		claimed = append(claimed, fromMongoDelivery(&md))
	}

	return claimed, nil
}

func (r *DeliveryRepoMongoDB) Update(ctx context.Context, d *domain.OutboundDelivery) error {
	update := bson.M{"$set": bson.M{
		"status":        string(d.Status),
		"attemptCount":  d.AttemptCount,
		"updatedAt":     d.UpdatedAt,
		"lastAttemptAt": d.LastAttemptAt,
		"nextAttemptAt": d.NextAttemptAt,
		"claimedUntil":  d.ClaimedUntil,
	}}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

func (r *DeliveryRepoMongoDB) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.OutboundDelivery, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{"subscriptionId": subscriptionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var deliveries []*domain.OutboundDelivery
	for cursor.Next(ctx) {
		var md mongoDelivery
		if err := cursor.Decode(&md); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, fromMongoDelivery(&md))
	}
	return deliveries, cursor.Err()
}

func toMongoDelivery(d *domain.OutboundDelivery) *mongoDelivery {
	return &mongoDelivery{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		OwnerKey:       d.OwnerKey,
		EventID:        d.EventID,
		EventType:      d.EventType,
		TargetURL:      d.TargetURL,
		Secret:         d.Secret,
		Payload:        d.Payload,
		Status:         string(d.Status),
		AttemptCount:   d.AttemptCount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		LastAttemptAt:  d.LastAttemptAt,
		NextAttemptAt:  d.NextAttemptAt,
		ClaimedUntil:   d.ClaimedUntil,
	}
}

func fromMongoDelivery(md *mongoDelivery) *domain.OutboundDelivery {
	return &domain.OutboundDelivery{
		ID:             md.ID,
		SubscriptionID: md.SubscriptionID,
		OwnerKey:       md.OwnerKey,
		EventID:        md.EventID,
		EventType:      md.EventType,
		TargetURL:      md.TargetURL,
		Secret:         md.Secret,
		Payload:        md.Payload,
		Status:         domain.DeliveryStatus(md.Status),
		AttemptCount:   md.AttemptCount,
		CreatedAt:      md.CreatedAt,
		UpdatedAt:      md.UpdatedAt,
		LastAttemptAt:  md.LastAttemptAt,
		NextAttemptAt:  md.NextAttemptAt,
		ClaimedUntil:   md.ClaimedUntil,
	}
}

// Verificación en tiempo de compilación.
var _ domain.DeliveryRepository = (*DeliveryRepoMongoDB)(nil)
