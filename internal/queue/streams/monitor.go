package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backlog describes how far a consumer group trails its stream: entries
// delivered but not yet acked, entries never delivered, and how long the
// oldest pending entry has waited.
type Backlog struct {
	Pending     int64
	Undelivered int64
	Consumers   int64
	OldestIdle  time.Duration
}

// GroupBacklog reads the backlog of group on stream. A missing group reports
// Undelivered as -1.
func GroupBacklog(ctx context.Context, client *redis.Client, stream, group string) (Backlog, error) {
	if client == nil || stream == "" || group == "" {
		return Backlog{}, fmt.Errorf("client, stream and group are required")
	}
	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return Backlog{}, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}
	b := Backlog{Undelivered: -1}
	for _, info := range groups {
		if info.Name == group {
			b.Pending, b.Undelivered, b.Consumers = info.Pending, info.Lag, int64(info.Consumers)
			break
		}
	}
	if b.Pending == 0 {
		return b, nil
	}
	oldest, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{Stream: stream, Group: group, Start: "-", End: "+", Count: 1}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Backlog{}, fmt.Errorf("xpending %s: %w", stream, err)
	}
	if len(oldest) > 0 {
		b.OldestIdle = oldest[0].Idle
	}
	return b, nil
}
