package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStreamMaxLen caps the mirrored stream so a long-running orchestrator
// never grows it unbounded; XAdd is called with Approx trimming for O(1)
// amortized cost.
const redisStreamMaxLen = 2000

// RedisStreamMirror subscribes to a Bus and republishes every event to a
// capped Redis stream, so external dashboards can tail plan progress
// without coupling to the in-process bus. It is entirely optional: a
// Scheduler/Orchestrator runs correctly with no Redis mirror registered.
type RedisStreamMirror struct {
	client *redis.Client
	stream string
}

// NewRedisStreamMirror constructs a mirror that writes to stream on
// client. Register it with a Bus via bus.Register(mirror).
func NewRedisStreamMirror(client *redis.Client, stream string) *RedisStreamMirror {
	return &RedisStreamMirror{client: client, stream: stream}
}

// HandleEvent republishes event as an XAdd entry. Errors are returned to
// the Bus, which logs and swallows them — a Redis outage must never stall
// plan execution.
func (m *RedisStreamMirror) HandleEvent(ctx context.Context, event Event) error {
	values := map[string]any{
		"type": string(event.Type()),
		"ts":   event.Timestamp().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	values["payload"] = string(payload)

	return m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}
