package projections

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
)

// Notification is one entry of a user's feed.
type Notification struct {
	EventID    string              `json:"eventId"`
	Type       model.EventType     `json:"type"`
	RequestID  uint                `json:"requestId"`
	ListingID  uint                `json:"listingId"`
	Situation  situation.Situation `json:"situation"`
	OccurredAt time.Time           `json:"occurredAt"`
}

// Feed is the notification read model.
type Feed interface {
	// MarkSeen records dedupeKey and reports whether it was new.
	MarkSeen(ctx context.Context, dedupeKey string) (bool, error)
	// Unsee forgets dedupeKey so a failed projection can be retried.
	Unsee(ctx context.Context, dedupeKey string) error
	Push(ctx context.Context, userID uint, n Notification) error
	Recent(ctx context.Context, userID uint, limit int) ([]Notification, error)
}

// RedisFeed keeps dedupe markers as keys with a TTL and each user's feed as
// a capped list, newest first.
type RedisFeed struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	capacity int64
}

func NewRedisFeed(rdb redis.Cmdable, dedupeTTL time.Duration, capacity int) *RedisFeed {
	if capacity <= 0 {
		capacity = 100
	}
	return &RedisFeed{rdb: rdb, ttl: dedupeTTL, capacity: int64(capacity)}
}

func seenKey(dedupeKey string) string { return "notif:seen:" + dedupeKey }
func feedKey(userID uint) string      { return fmt.Sprintf("notif:feed:%d", userID) }

func (f *RedisFeed) MarkSeen(ctx context.Context, dedupeKey string) (bool, error) {
	// redis/go-redis/v9: SetNX only sets the key when absent, so exactly one
	// delivery of a state change wins.
	return f.rdb.SetNX(ctx, seenKey(dedupeKey), 1, f.ttl).Result()
}

func (f *RedisFeed) Unsee(ctx context.Context, dedupeKey string) error {
	return f.rdb.Del(ctx, seenKey(dedupeKey)).Err()
}

func (f *RedisFeed) Push(ctx context.Context, userID uint, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := feedKey(userID)
	// redis/go-redis/v9: LPUSH + LTRIM in one transaction keeps the list capped.
	_, err = f.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, f.capacity-1)
		return nil
	})
	return err
}

func (f *RedisFeed) Recent(ctx context.Context, userID uint, limit int) ([]Notification, error) {
	if limit <= 0 || int64(limit) > f.capacity {
		limit = int(f.capacity)
	}
	raw, err := f.rdb.LRange(ctx, feedKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(raw))
	for _, r := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MemoryFeed is the in-process Feed used when Redis is not configured.
type MemoryFeed struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	feeds    map[uint][]Notification
	capacity int
}

func NewMemoryFeed(capacity int) *MemoryFeed {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryFeed{
		seen:     make(map[string]struct{}),
		feeds:    make(map[uint][]Notification),
		capacity: capacity,
	}
}

func (f *MemoryFeed) MarkSeen(_ context.Context, dedupeKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[dedupeKey]; ok {
		return false, nil
	}
	f.seen[dedupeKey] = struct{}{}
	return true, nil
}

func (f *MemoryFeed) Unsee(_ context.Context, dedupeKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, dedupeKey)
	return nil
}

func (f *MemoryFeed) Push(_ context.Context, userID uint, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	feed := append([]Notification{n}, f.feeds[userID]...)
	if len(feed) > f.capacity {
		feed = feed[:f.capacity]
	}
	f.feeds[userID] = feed
	return nil
}

func (f *MemoryFeed) Recent(_ context.Context, userID uint, limit int) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	feed := f.feeds[userID]
	if limit <= 0 || limit > len(feed) {
		limit = len(feed)
	}
	return append([]Notification(nil), feed[:limit]...), nil
}
