package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/hotspot/internal/model"
)

// keyGrace keeps a record readable past its expiry so Verify can still
// report it as expired rather than not found.
const keyGrace = time.Hour

// The guarded scripts act only if the hash still holds the expected record id.
var (
	incrAttemptsScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

	deleteRecordScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

	markFailedScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "delivery_failed", "1")
return 1
`)
)

// RedisStore keeps one hash per contact, so the one-live-record rule is the
// key itself.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hotspot:verify"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(contact string) string {
	return s.prefix + ":c:" + contact
}

func (s *RedisStore) Upsert(ctx context.Context, rec *model.VerificationRecord) (*model.VerificationRecord, error) {
	id, err := s.client.Incr(ctx, s.prefix+":seq").Result()
	if err != nil {
		return nil, fmt.Errorf("next verification id: %w", err)
	}

	key := s.key(rec.Contact)
	previous, err := s.Get(ctx, rec.Contact)
	if err != nil {
		return nil, fmt.Errorf("read previous code: %w", err)
	}

	out := *rec
	out.ID = id
	out.Superseded = previous.SupersededBy(rec.CreatedAt)
	out.Attempts = 0
	out.DeliveryFailed = false

	superseded, err := json.Marshal(out.Superseded)
	if err != nil {
		return nil, fmt.Errorf("encode superseded hashes: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"id", strconv.FormatInt(id, 10),
			"kind", string(out.Kind),
			"code_hash", out.CodeHash,
			"superseded", string(superseded),
			"expires_at", out.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"attempts", "0",
			"delivery_failed", "0",
			"created_at", out.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, out.ExpiresAt.Sub(out.CreatedAt)+keyGrace)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}
	return &out, nil
}

func (s *RedisStore) Get(ctx context.Context, contact string) (*model.VerificationRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(contact)).Result()
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := decodeRecord(contact, fields)
	if err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	return rec, nil
}

func decodeRecord(contact string, f map[string]string) (*model.VerificationRecord, error) {
	id, err := strconv.ParseInt(f["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	attempts, err := strconv.Atoi(f["attempts"])
	if err != nil {
		return nil, fmt.Errorf("attempts: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, f["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	var superseded []string
	if raw := f["superseded"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &superseded); err != nil {
			return nil, fmt.Errorf("superseded: %w", err)
		}
	}
	return &model.VerificationRecord{
		ID:             id,
		Contact:        contact,
		Kind:           model.ContactKind(f["kind"]),
		CodeHash:       f["code_hash"],
		Superseded:     superseded,
		ExpiresAt:      expiresAt,
		Attempts:       attempts,
		DeliveryFailed: f["delivery_failed"] == "1",
		CreatedAt:      createdAt,
	}, nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, rec *model.VerificationRecord) (int, error) {
	n, err := incrAttemptsScript.Run(ctx, s.client, []string{s.key(rec.Contact)}, strconv.FormatInt(rec.ID, 10)).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	if n < 0 {
		return 0, model.ErrNotFound
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, rec *model.VerificationRecord) (bool, error) {
	n, err := deleteRecordScript.Run(ctx, s.client, []string{s.key(rec.Contact)}, strconv.FormatInt(rec.ID, 10)).Int()
	if err != nil {
		return false, fmt.Errorf("delete verification: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) MarkDeliveryFailed(ctx context.Context, rec *model.VerificationRecord) error {
	if err := markFailedScript.Run(ctx, s.client, []string{s.key(rec.Contact)}, strconv.FormatInt(rec.ID, 10)).Err(); err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// DeleteExpired scans the contact keys and drops records that expired before
// the given time. Key expiry removes anything this misses.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	prefixLen := len(s.key(""))
	iter := s.client.Scan(ctx, 0, s.key("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := s.Get(ctx, key[prefixLen:])
		if err != nil {
			return deleted, err
		}
		if rec == nil || rec.ExpiresAt.After(before) {
			continue
		}
		ok, err := s.Delete(ctx, rec)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan verifications: %w", err)
	}
	return deleted, nil
}
