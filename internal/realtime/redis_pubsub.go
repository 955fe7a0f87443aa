package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/events"
)

const (
	// NotifyChannel carries notification batches between server instances.
	NotifyChannel = "livepoll:notify"
	publishTTL    = 5 * time.Second
)

// redisPayload is the batch published to Redis for cross-instance delivery.
type redisPayload struct {
	SessionID uuid.UUID   `json:"session_id"`
	Notes     []redisNote `json:"notes"`
	At        int64       `json:"at"`
}

type redisNote struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	Recipients []uuid.UUID     `json:"recipients"`
	Seq        uint64          `json:"seq"`
}

// RedisRelay publishes notification batches to Redis; every instance's subscriber
// delivers them to its local connections exactly once, including the publisher's own.
type RedisRelay struct {
	client *redis.Client
	local  events.Sink
	logger *zap.Logger
}

// NewRedisRelay creates a Redis fan-out relay in front of the local registry.
func NewRedisRelay(client *redis.Client, local events.Sink, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, local: local, logger: logger}
}

// Deliver publishes the batch. If publishing fails the batch is delivered locally so
// connections on this instance still receive it.
func (r *RedisRelay) Deliver(ctx context.Context, sessionID uuid.UUID, notes []events.Notification) {
	body, err := encodeBatch(sessionID, notes)
	if err != nil {
		r.logger.Error("encode notification batch", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()
	if err := r.client.Publish(pctx, NotifyChannel, body).Err(); err != nil {
		r.logger.Warn("redis publish failed, delivering locally", zap.String("session_id", sessionID.String()), zap.Error(err))
		r.local.Deliver(ctx, sessionID, notes)
	}
}

func encodeBatch(sessionID uuid.UUID, notes []events.Notification) ([]byte, error) {
	p := redisPayload{SessionID: sessionID, Notes: make([]redisNote, 0, len(notes)), At: time.Now().Unix()}
	for _, n := range notes {
		data, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, err
		}
		p.Notes = append(p.Notes, redisNote{Event: n.Event, Data: data, Recipients: n.Recipients, Seq: n.Seq})
	}
	return json.Marshal(p)
}

func decodeBatch(body []byte) (uuid.UUID, []events.Notification, error) {
	var p redisPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return uuid.Nil, nil, err
	}
	notes := make([]events.Notification, 0, len(p.Notes))
	for _, n := range p.Notes {
		notes = append(notes, events.Notification{Event: n.Event, Payload: n.Data, Recipients: n.Recipients, Seq: n.Seq})
	}
	return p.SessionID, notes, nil
}

// Run subscribes to the notify channel and delivers batches locally until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, NotifyChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sessionID, notes, err := decodeBatch([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("decode notification batch", zap.Error(err))
					continue
				}
				r.local.Deliver(ctx, sessionID, notes)
			}
		}
	}()
	return nil
}
