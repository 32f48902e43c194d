// Package cache holds rating summaries in Redis, or in process memory when
// Redis is not configured.
//
// Every key has a generation counter. Invalidate bumps it, and
// SetIfGeneration only stores a value computed under the current generation,
// so a summary read that overlaps a write can never repopulate a stale entry.
package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ratings:summary:"
	genPrefix = "ratings:gen:"
)

// setIfGen stores ARGV[2] at KEYS[2] only while KEYS[1] still holds ARGV[1].
var setIfGen = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Redis stores values under ratings:summary:<key> with a TTL and generations
// under ratings:gen:<key>.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := r.client.Get(ctx, genPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *Redis) SetIfGeneration(ctx context.Context, key string, gen int64, val []byte) (bool, error) {
	stored, err := setIfGen.Run(ctx, r.client,
		[]string{genPrefix + key, keyPrefix + key},
		strconv.FormatInt(gen, 10), val, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// redis/go-redis/v9: INCR and DEL in one MULTI so readers never see the
	// old value under the new generation.
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, genPrefix+k)
			pipe.Del(ctx, keyPrefix+k)
		}
		return nil
	})
	return err
}

type entry struct {
	val     []byte
	expires time.Time
}

// Memory is a process-local cache with the same semantics.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]entry
	gens map[string]int64
	now  func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, data: make(map[string]entry), gens: make(map[string]int64), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if m.ttl > 0 && m.now().After(e.expires) {
		delete(m.data, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Generation(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[key], nil
}

func (m *Memory) SetIfGeneration(_ context.Context, key string, gen int64, val []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[key] != gen {
		return false, nil
	}
	m.data[key] = entry{val: append([]byte(nil), val...), expires: m.now().Add(m.ttl)}
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.gens[k]++
		delete(m.data, k)
	}
	return nil
}
