package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// generationTTL outlives any slot entry so a counter never resets while a
// reader still holds an older value.
const generationTTL = 24 * time.Hour

// AvailabilityCache keeps computed slot lists in Redis. Each provider/day is
// one hash keyed by duration, so a commit or status change drops every
// duration for that day with a single DEL.
//
// Every provider/day also carries a generation counter that Invalidate
// bumps. Readers take the generation before reading the store and Put only
// writes while it is unchanged, so a list computed before a cancellation
// cannot overwrite the invalidation.
type AvailabilityCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewAvailabilityCache(client redis.UniversalClient, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AvailabilityCache{client: client, ttl: ttl, prefix: "dentaldesk:availability"}
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// key and genKey share a hash tag so both land in one cluster slot.
func (c *AvailabilityCache) key(providerID uuid.UUID, date civil.Date) string {
	return c.prefix + ":{" + providerID.String() + ":" + date.String() + "}"
}

func (c *AvailabilityCache) genKey(providerID uuid.UUID, date civil.Date) string {
	return c.key(providerID, date) + ":gen"
}

func (c *AvailabilityCache) Get(ctx context.Context, providerID uuid.UUID, date civil.Date, durationMinutes int) ([]civil.Time, bool, error) {
	raw, err := c.client.HGet(ctx, c.key(providerID, date), strconv.Itoa(durationMinutes)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get availability: %w", err)
	}
	slots, err := decodeSlots(raw)
	if err != nil {
		return nil, false, err
	}
	return slots, true, nil
}

// Generation returns the invalidation counter of the provider/day. A day
// that was never invalidated is generation 0.
func (c *AvailabilityCache) Generation(ctx context.Context, providerID uuid.UUID, date civil.Date) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(providerID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get availability generation: %w", err)
	}
	return gen, nil
}

// Put stores slots computed at generation. It reports false without writing
// when the day has been invalidated since.
func (c *AvailabilityCache) Put(ctx context.Context, providerID uuid.UUID, date civil.Date, durationMinutes int, generation int64, slots []civil.Time) (bool, error) {
	key, gk := c.key(providerID, date), c.genKey(providerID, date)
	stored := false
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, strconv.Itoa(durationMinutes), encodeSlots(slots))
			p.Expire(ctx, key, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("put availability: %w", err)
	}
	return stored, nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, providerID uuid.UUID, date civil.Date) error {
	key, gk := c.key(providerID, date), c.genKey(providerID, date)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, gk)
		p.Expire(ctx, gk, generationTTL)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}
	return nil
}

func encodeSlots(slots []civil.Time) string {
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
	}
	return strings.Join(parts, ",")
}

func decodeSlots(raw string) ([]civil.Time, error) {
	slots := []civil.Time{}
	if raw == "" {
		return slots, nil
	}
	for _, part := range strings.Split(raw, ",") {
		t, err := time.Parse("15:04", part)
		if err != nil {
			return nil, fmt.Errorf("decode cached slot %q: %w", part, err)
		}
		slots = append(slots, civil.TimeOf(t))
	}
	return slots, nil
}
