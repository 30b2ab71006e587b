// ABOUTME: Redis presence backend storing one hash per session
// ABOUTME: Lets several gateway instances share typing state; keys expire when a session goes quiet

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisKeyTTL removes a session's hash after this long without writes.
const DefaultRedisKeyTTL = 10 * time.Minute

// RedisBackend stores records as JSON values in a hash keyed by actor ID.
type RedisBackend struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend wraps an existing client. keyTTL <= 0 selects DefaultRedisKeyTTL.
func NewRedisBackend(client *goredis.Client, keyTTL time.Duration) *RedisBackend {
	if keyTTL <= 0 {
		keyTTL = DefaultRedisKeyTTL
	}
	return &RedisBackend{
		client: client,
		prefix: "presence:",
		ttl:    keyTTL,
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisBackend) key(orgID, sessionID string) string {
	return r.prefix + orgID + ":" + sessionID
}

// Put stores rec and refreshes the session key's expiry.
func (r *RedisBackend) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding presence record: %w", err)
	}

	k := r.key(rec.OrgID, rec.SessionID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k, rec.ActorID, data)
	pipe.Expire(ctx, k, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing presence to redis: %w", err)
	}
	return nil
}

// List returns a session's records.
func (r *RedisBackend) List(ctx context.Context, orgID, sessionID string) ([]Record, error) {
	fields, err := r.client.HGetAll(ctx, r.key(orgID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading presence from redis: %w", err)
	}

	recs := make([]Record, 0, len(fields))
	for actor, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding presence for actor %s: %w", actor, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Clear deletes a session's hash.
func (r *RedisBackend) Clear(ctx context.Context, orgID, sessionID string) error {
	if err := r.client.Del(ctx, r.key(orgID, sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing presence in redis: %w", err)
	}
	return nil
}
