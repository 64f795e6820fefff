package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gqy20/issuelab-secondme/config"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	"github.com/redis/go-redis/v9"
)

const (
	envelopeField  = "envelope"
	defaultTimeout = 2 * time.Second
)

// StreamKey names the per-run Redis stream.
func StreamKey(runID string) string {
	return fmt.Sprintf("issuelab:runs:%s:events", runID)
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// Mirror copies run events into Redis Streams and reads them back.
type Mirror struct {
	client   *redis.Client
	registry *SchemaRegistry
	maxLen   int64
	ttl      time.Duration
	timeout  time.Duration
	logger   *log.Logger
}

// NewMirror builds a Mirror with every event schema registered. A positive
// ttl expires each run stream that long after its latest event.
func NewMirror(client *redis.Client, maxLen int64, ttl, timeout time.Duration) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	reg := NewSchemaRegistry()
	if err := RegisterEventSchemas(reg); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Mirror{
		client:   client,
		registry: reg,
		maxLen:   maxLen,
		ttl:      ttl,
		timeout:  timeout,
		logger:   log.New(log.Writer(), "[STREAMS] ", log.LstdFlags),
	}, nil
}

// Registry exposes the schema registry used for validation.
func (m *Mirror) Registry() *SchemaRegistry { return m.registry }

// Publish validates and appends one event to the run's stream.
func (m *Mirror) Publish(ctx context.Context, runID string, seq int64, ev core.Event) (string, error) {
	data, err := core.Payload(ev)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		RunID:      runID,
		Seq:        seq,
		EventType:  ev.Name(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	if err := m.registry.Validate(env.EventType, env.Data); err != nil {
		return "", err
	}
	raw, err := env.Marshal()
	if err != nil {
		return "", err
	}

	key := StreamKey(runID)
	args := &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{envelopeField: raw},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	pipe := m.client.TxPipeline()
	add := pipe.XAdd(ctx, args)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return add.Val(), nil
}

// Sink returns an EventSink that mirrors a single run. Publishing is
// detached from ctx cancellation so a disconnecting client does not cut the
// mirror short; failures are logged and dropped.
func (m *Mirror) Sink(ctx context.Context, runID string) core.EventSink {
	base := context.WithoutCancel(ctx)
	var seq atomic.Int64
	return core.EventSinkFunc(func(ev core.Event) {
		n := seq.Add(1)
		pctx, cancel := context.WithTimeout(base, m.timeout)
		defer cancel()
		if _, err := m.Publish(pctx, runID, n, ev); err != nil {
			m.logger.Printf("run %s: mirror %s #%d: %v", runID, ev.Name(), n, err)
		}
	})
}

// Replay returns the mirrored envelopes of a run in stream order. Unknown or
// malformed entries are skipped.
func (m *Mirror) Replay(ctx context.Context, runID string) ([]Envelope, error) {
	msgs, err := m.client.XRange(ctx, StreamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]Envelope, 0, len(msgs))
	for _, msg := range msgs {
		env, ok := decodeMessage(msg)
		if !ok {
			m.logger.Printf("run %s: skipping undecodable entry %s", runID, msg.ID)
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func decodeMessage(msg redis.XMessage) (Envelope, bool) {
	raw, ok := msg.Values[envelopeField]
	if !ok {
		return Envelope{}, false
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, false
		}
		data = b
	}
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return Envelope{}, false
	}
	return env, true
}
