package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository stores users in the "users" collection.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a repository on db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection("users")}
}

// EnsureIndexes creates the unique username and email indexes.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("username_unique")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
	})
	if err != nil {
		return fmt.Errorf("users: create indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, u User) (User, error) {
	u.Email = strings.ToLower(u.Email)
	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "email") {
				return User{}, ErrEmailTaken
			}
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("users: mongo error: %w", err)
	}
	return u, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)})
}

func (r *MongoRepository) ListExcept(ctx context.Context, id string) ([]User, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"_id": bson.M{"$ne": id}},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("users: mongo error: %w", err)
	}
	var out []User
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("users: mongo error: %w", err)
	}
	return out, nil
}

func (r *MongoRepository) UpdateProfilePic(ctx context.Context, id, url string, at time.Time) (User, error) {
	var u User
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"profile_pic": url, "updated_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: mongo error: %w", err)
	}
	return u, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (User, error) {
	var u User
	err := r.coll.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: mongo error: %w", err)
	}
	return u, nil
}
