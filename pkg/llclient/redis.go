package llclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/srg/hubclient/pkg/lowlevel"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultRedisNamespace prefixes every key when no namespace is given.
const DefaultRedisNamespace = "hub"

// EventsKey returns the stream device-to-cloud events are appended to.
//
// Format: {namespace}:devices:{deviceID}:events
func EventsKey(namespace, deviceID string) string {
	return namespace + ":devices:" + deviceID + ":events"
}

// MessagesKey returns the list cloud-to-device messages are popped from.
//
// Format: {namespace}:devices:{deviceID}:messages
func MessagesKey(namespace, deviceID string) string {
	return namespace + ":devices:" + deviceID + ":messages"
}

// envelope is the msgpack wire form of a lowlevel.Message.
type envelope struct {
	ID            string            `msgpack:"id"`
	CorrelationID string            `msgpack:"cid,omitempty"`
	ContentType   string            `msgpack:"ct,omitempty"`
	Payload       []byte            `msgpack:"body"`
	Properties    map[string]string `msgpack:"props,omitempty"`
	CreatedAt     int64             `msgpack:"ts"`
}

func encodeMessage(msg *lowlevel.Message) ([]byte, error) {
	return msgpack.Marshal(&envelope{
		ID:            msg.ID,
		CorrelationID: msg.CorrelationID,
		ContentType:   msg.ContentType,
		Payload:       msg.Payload,
		Properties:    msg.Properties,
		CreatedAt:     msg.CreatedAt.UnixNano(),
	})
}

func decodeMessage(data []byte) (*lowlevel.Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	msg := &lowlevel.Message{
		ID:            env.ID,
		CorrelationID: env.CorrelationID,
		ContentType:   env.ContentType,
		Payload:       env.Payload,
		Properties:    env.Properties,
	}
	if env.CreatedAt != 0 {
		msg.CreatedAt = time.Unix(0, env.CreatedAt)
	}
	if msg.Properties == nil {
		msg.Properties = map[string]string{}
	}
	return msg, nil
}

// Redis is a protocol backed by a Redis server. Events are XADDed to a
// per-device stream; cloud-to-device messages are RPOPed from a per-device
// list, so each is delivered once.
type Redis struct {
	client    redis.Cmdable
	namespace string
	maxLen    int64
}

// NewRedis creates a Redis protocol. The client is borrowed and never closed.
func NewRedis(client redis.Cmdable, namespace string) *Redis {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &Redis{
		client:    client,
		namespace: namespace,
		maxLen:    100000,
	}
}

func (r *Redis) Name() string {
	return "redis"
}

func (r *Redis) Open(cfg *lowlevel.Config) (Link, error) {
	if cfg == nil || cfg.DeviceID == "" {
		return nil, ErrInvalidConfig
	}
	if r.client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrUnsupportedProtocol)
	}
	return &redisLink{
		client:      r.client,
		eventsKey:   EventsKey(r.namespace, cfg.DeviceID),
		messagesKey: MessagesKey(r.namespace, cfg.DeviceID),
		maxLen:      r.maxLen,
	}, nil
}

// SendToDevice queues a cloud-to-device message for deviceID.
func (r *Redis) SendToDevice(ctx context.Context, deviceID string, msg *lowlevel.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := r.client.LPush(ctx, MessagesKey(r.namespace, deviceID), data).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// Events reads every event deviceID has published, oldest first.
func (r *Redis) Events(ctx context.Context, deviceID string) ([]*lowlevel.Message, error) {
	entries, err := r.client.XRange(ctx, EventsKey(r.namespace, deviceID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange failed: %w", err)
	}

	msgs := make([]*lowlevel.Message, 0, len(entries))
	for _, entry := range entries {
		body, ok := entry.Values["body"].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s has no body", entry.ID)
		}
		msg, err := decodeMessage([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("failed to decode stream entry %s: %w", entry.ID, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

type redisLink struct {
	client      redis.Cmdable
	eventsKey   string
	messagesKey string
	maxLen      int64
}

func (l *redisLink) Send(ctx context.Context, msg *lowlevel.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.eventsKey,
		MaxLen: l.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"id":   msg.ID,
			"body": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

func (l *redisLink) Receive(ctx context.Context) (*lowlevel.Message, error) {
	data, err := l.client.RPop(ctx, l.messagesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rpop failed: %w", err)
	}

	msg, err := decodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

func (l *redisLink) Close() error {
	return nil
}
