package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore keeps step results in a hash per instance:
//
//	workflow:{instance}:steps    hash step -> JSON result
//	workflow:{instance}:lock     owner token, SET NX PX
//	workflow:{instance}:outcome  JSON Outcome
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a store whose keys expire after ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func stepsKey(instance string) string   { return "workflow:{" + instance + "}:steps" }
func lockKey(instance string) string    { return "workflow:{" + instance + "}:lock" }
func outcomeKey(instance string) string { return "workflow:{" + instance + "}:outcome" }

func (s *RedisStore) Load(ctx context.Context, instance string, step Step) ([]byte, bool, error) {
	res, err := s.client.HGet(ctx, stepsKey(instance), string(step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (s *RedisStore) Save(ctx context.Context, instance string, step Step, result []byte) error {
	key := stepsKey(instance)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, string(step), result)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Acquire(ctx context.Context, instance, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, lockKey(instance), owner, ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, instance, owner string) error {
	return releaseScript.Run(ctx, s.client, []string{lockKey(instance)}, owner).Err()
}

func (s *RedisStore) SetOutcome(ctx context.Context, instance string, outcome Outcome) error {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, outcomeKey(instance), encoded, s.ttl).Err()
}

func (s *RedisStore) Outcome(ctx context.Context, instance string) (Outcome, bool, error) {
	raw, err := s.client.Get(ctx, outcomeKey(instance)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, err
	}
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return Outcome{}, false, err
	}
	return o, true, nil
}
