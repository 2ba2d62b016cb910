// Package mongodb connects to MongoDB for the document-store backend.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config describes the MongoDB connection.
type Config struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
}

// DefaultConfig returns a config pointing at a local MongoDB.
func DefaultConfig() Config {
	return Config{
		URI:                    "mongodb://localhost:27017",
		Database:               "chat",
		MaxPoolSize:            50,
		ServerSelectionTimeout: 5 * time.Second,
	}
}

// Client wraps a connected mongo.Client and its chat database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and pings the primary.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongodb: uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongodb: database is required")
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	return &Client{client: client, db: client.Database(cfg.Database)}, nil
}

// DB returns the chat database.
func (c *Client) DB() *mongo.Database {
	return c.db
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
