// Package notify announces committed phase syncs to other processes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SyncEvent is published once per committed sync.
type SyncEvent struct {
	ExtractionID string    `json:"extraction_id"`
	ActorID      string    `json:"actor_id"`
	Inserted     []string  `json:"inserted"`
	Updated      []string  `json:"updated"`
	Deleted      []string  `json:"deleted"`
	Cleared      bool      `json:"cleared"`
	TaskCount    int       `json:"task_count"`
	SyncedAt     time.Time `json:"synced_at"`
}

// RedisPublisher publishes sync events on a pub/sub channel and keeps the
// latest event per playbook so late subscribers can catch up.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(redisURL, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisPublisherWithClient(client, channel), nil
}

func NewRedisPublisherWithClient(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "playbook:sync"
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		ttl:     24 * time.Hour,
	}
}

func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) lastKey(extractionID string) string {
	return p.channel + ":last:" + extractionID
}

// PublishSync sends event to subscribers and records it as the latest sync
// of its playbook.
func (p *RedisPublisher) PublishSync(ctx context.Context, event SyncEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.lastKey(event.ExtractionID), payload, p.ttl)
	pipe.Publish(ctx, p.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

// LastSync returns the most recent event recorded for extractionID and false
// when none is recorded or it has expired.
func (p *RedisPublisher) LastSync(ctx context.Context, extractionID string) (SyncEvent, bool, error) {
	raw, err := p.client.Get(ctx, p.lastKey(extractionID)).Bytes()
	if err == redis.Nil {
		return SyncEvent{}, false, nil
	}
	if err != nil {
		return SyncEvent{}, false, fmt.Errorf("read last sync: %w", err)
	}

	var event SyncEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return SyncEvent{}, false, fmt.Errorf("unmarshal sync event: %w", err)
	}
	return event, true, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
