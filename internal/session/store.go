package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Session is the Redis record of one live connection.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	Server     string `redis:"server"`      // which server instance holds the socket
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages connection sessions in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// Connect dials Redis at addr and verifies the connection.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

// NewStore creates a session store on an existing Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create stores a new session for connID owned by userID with a 1h TTL.
func (s *Store) Create(ctx context.Context, connID, userID string) error {
	key := SessionPrefix + connID
	now := time.Now().Unix()

	fields := map[string]interface{}{
		"id":          connID,
		"user_id":     userID,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session. It returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+connID).Scan(&sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Refresh marks the session active and extends its TTL.
func (s *Store) Refresh(ctx context.Context, connID string) error {
	key := SessionPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, SessionPrefix+connID).Err()
}
