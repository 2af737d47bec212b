package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

const sessionKeyPrefix = "stockscan:import:"

// RedisProgressStore keeps one hash per session, refreshed to ttl on every chunk.
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProgressStore(addr string, password string, db int, ttl time.Duration) *RedisProgressStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisProgressStore{client: client, ttl: ttl}
}

func (c *RedisProgressStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProgressStore) Close() error {
	return c.client.Close()
}

func (c *RedisProgressStore) Create(ctx context.Context, kind domain.ImportKind) (domain.ImportProgress, error) {
	if !kind.Valid() {
		return domain.ImportProgress{}, store.ErrInvalidInput
	}
	progress := domain.ImportProgress{SessionID: uuid.NewString(), Kind: kind}
	key := sessionKeyPrefix + progress.SessionID

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "kind", string(kind), "chunks", 0, "inserted", 0, "updated", 0, "skipped", 0)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return domain.ImportProgress{}, err
	}
	return progress, nil
}

// addChunk checks the session and applies a chunk's counts in one server-side
// step, so a key that expires mid-call is never recreated without its kind.
var addChunk = redis.NewScript(`
local kind = redis.call('HGET', KEYS[1], 'kind')
if not kind then
	return false
end
if kind ~= ARGV[1] then
	return {'mismatch', kind}
end
redis.call('HINCRBY', KEYS[1], 'chunks', 1)
redis.call('HINCRBY', KEYS[1], 'inserted', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'updated', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'skipped', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return redis.call('HGETALL', KEYS[1])
`)

func (c *RedisProgressStore) Add(ctx context.Context, sessionID string, kind domain.ImportKind, counts domain.ImportCounts) (domain.ImportProgress, error) {
	reply, err := addChunk.Run(ctx, c.client, []string{sessionKeyPrefix + sessionID},
		string(kind), counts.Inserted, counts.Updated, counts.Skipped, c.ttl.Milliseconds()).StringSlice()
	if errors.Is(err, redis.Nil) {
		return domain.ImportProgress{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.ImportProgress{}, err
	}
	if len(reply) == 2 && reply[0] == "mismatch" {
		return domain.ImportProgress{}, fmt.Errorf("session %s belongs to %s import: %w", sessionID, reply[1], store.ErrInvalidInput)
	}
	return decodeProgress(sessionID, fieldMap(reply)), nil
}

// fieldMap turns a flat HGETALL reply into a map.
func fieldMap(reply []string) map[string]string {
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		fields[reply[i]] = reply[i+1]
	}
	return fields
}

func (c *RedisProgressStore) Get(ctx context.Context, sessionID string) (domain.ImportProgress, error) {
	fields, err := c.client.HGetAll(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return domain.ImportProgress{}, err
	}
	if len(fields) == 0 {
		return domain.ImportProgress{}, ErrSessionNotFound
	}
	return decodeProgress(sessionID, fields), nil
}

func decodeProgress(sessionID string, fields map[string]string) domain.ImportProgress {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(fields[key])
		return n
	}
	return domain.ImportProgress{
		SessionID: sessionID,
		Kind:      domain.ImportKind(fields["kind"]),
		Chunks:    atoi("chunks"),
		Counts: domain.ImportCounts{
			Inserted: atoi("inserted"),
			Updated:  atoi("updated"),
			Skipped:  atoi("skipped"),
		},
	}
}
