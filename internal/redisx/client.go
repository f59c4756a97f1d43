package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Deduper remembers event ids per service so redelivered messages are skipped.
type Deduper struct {
	RDB     redis.Cmdable
	Service string
}

// FirstSeen claims eventID and reports whether this is its first delivery.
func (d Deduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
}

// Forget releases a claim so a failed delivery can be processed again.
func (d Deduper) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
