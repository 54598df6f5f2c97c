package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Batch bounds a single group read. Zero values leave the Redis defaults:
// no COUNT limit and a non-blocking read.
type Batch struct {
	Count int64
	Block time.Duration
}

// Message is a decoded, schema-checked stream entry still pending for this
// consumer until acked.
type Message struct {
	ID       string
	Envelope Envelope
}

// Consumer reads job envelopes through a consumer group. Entries that cannot
// be decoded or do not match their registered schema are acked on sight so
// they never come back through reclaim.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	group    string
	name     string
	logger   *log.Logger
}

func NewConsumer(client *redis.Client, registry *SchemaRegistry, group, name string, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.New(log.Writer(), "[STREAMS] ", log.LstdFlags)
	}
	return &Consumer{client: client, registry: registry, group: group, name: name, logger: logger}
}

func (c *Consumer) Name() string { return c.name }

// EnsureGroup creates group on stream, creating the stream too. The group
// starts at "0" so jobs queued before any worker existed are delivered.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	if stream == "" || group == "" {
		return errors.New("stream and group are required")
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (c *Consumer) ready(stream string) error {
	switch {
	case stream == "":
		return errors.New("stream is required")
	case c.group == "" || c.name == "":
		return errors.New("consumer group and name are required")
	}
	return nil
}

// Read returns entries never delivered to the group before.
func (c *Consumer) Read(ctx context.Context, stream string, b Batch) ([]Message, error) {
	if err := c.ready(stream); err != nil {
		return nil, err
	}
	block := b.Block
	if block <= 0 {
		block = -1 // go-redis omits BLOCK for negative durations
	}
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
		Count:    b.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stream, err)
	}
	var out []Message
	for _, st := range res {
		out = append(out, c.decodeAll(ctx, stream, st.Messages)...)
	}
	return out, nil
}

func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", stream, err)
	}
	return nil
}

// Backlog reports the backlog of this consumer's group on stream.
func (c *Consumer) Backlog(ctx context.Context, stream string) (Backlog, error) {
	return GroupBacklog(ctx, c.client, stream, c.group)
}

// AutoClaim takes over entries another worker left pending for at least
// minIdle. Pass the returned cursor back as start to continue; "0-0" means
// the pending list has been walked.
func (c *Consumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if err := c.ready(stream); err != nil {
		return nil, "", err
	}
	entries, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("reclaim %s: %w", stream, err)
	}
	return c.decodeAll(ctx, stream, entries), next, nil
}

func (c *Consumer) decodeAll(ctx context.Context, stream string, entries []redis.XMessage) []Message {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		env, reason, err := decodeEntry(entry, c.registry)
		if err != nil {
			c.logger.Printf("dropping %s entry %s (%s): %v", stream, entry.ID, reason, err)
			recordDropped(ctx, stream, reason)
			_ = c.client.XAck(ctx, stream, c.group, entry.ID).Err()
			continue
		}
		out = append(out, Message{ID: entry.ID, Envelope: env})
	}
	return out
}

// decodeEntry returns the envelope stored in entry, or a short drop reason.
func decodeEntry(entry redis.XMessage, registry *SchemaRegistry) (Envelope, string, error) {
	var data []byte
	switch v := entry.Values["envelope"].(type) {
	case nil:
		return Envelope{}, "missing_envelope", errors.New("entry has no envelope field")
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, "encoding", err
		}
		data = raw
	}
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return Envelope{}, "malformed", err
	}
	if registry == nil {
		return env, "", nil
	}
	if err := registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
		return Envelope{}, "schema", err
	}
	return env, "", nil
}
