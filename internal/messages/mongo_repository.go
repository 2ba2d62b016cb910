package messages

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatly/chat-app/internal/chat"
)

// MongoRepository stores messages in the "messages" collection.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a repository on db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection("messages")}
}

// EnsureIndexes creates the conversation lookup index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "receiver_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("messages: create indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return chat.Message{}, fmt.Errorf("messages: mongo error: %w", err)
	}
	return msg, nil
}

func (r *MongoRepository) ListBetween(ctx context.Context, a, b string) ([]chat.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": a, "receiver_id": b},
		bson.M{"sender_id": b, "receiver_id": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("messages: mongo error: %w", err)
	}
	out := make([]chat.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("messages: mongo error: %w", err)
	}
	return out, nil
}
