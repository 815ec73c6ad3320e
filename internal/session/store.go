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

	// ServerPrefix is the Redis key prefix for the per-server set of live
	// session IDs.
	ServerPrefix = "sessions:server:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Session is the presence record of one live connection.
type Session struct {
	ID        string `redis:"id"`
	Address   string `redis:"address"`    // originating network address
	Server    string `redis:"server"`     // which WS server instance
	CreatedAt int64  `redis:"created_at"` // unix timestamp
}

// Store manages session presence in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create stores a new session in Redis with a 1h TTL and adds it to this
// server's live set.
func (s *Store) Create(ctx context.Context, sessionID, address string) error {
	key := SessionPrefix + sessionID

	session := map[string]interface{}{
		"id":         sessionID,
		"address":    address,
		"server":     s.serverName,
		"created_at": time.Now().Unix(),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.SAdd(ctx, ServerPrefix+s.serverName, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// Refresh extends the TTL of every given session in one round trip.
func (s *Store) Refresh(ctx context.Context, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range sessionIDs {
		pipe.Expire(ctx, SessionPrefix+id, SessionTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SessionPrefix+sessionID)
	pipe.SRem(ctx, ServerPrefix+s.serverName, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Online returns the number of live sessions on this server.
func (s *Store) Online(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, ServerPrefix+s.serverName).Result()
}

// Reset forgets every session registered by this server. It is called on
// startup, since a previous process may have exited without cleaning up.
func (s *Store) Reset(ctx context.Context) error {
	setKey := ServerPrefix + s.serverName
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, SessionPrefix+id)
	}
	pipe.Del(ctx, setKey)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
