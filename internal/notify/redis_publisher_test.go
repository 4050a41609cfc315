package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisPublisher, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	pub, err := NewRedisPublisher("redis://"+s.Addr(), "test:sync")
	if err != nil {
		t.Fatalf("failed to create redis publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	return pub, s
}

func TestNewRedisPublisherRejectsBadURL(t *testing.T) {
	if _, err := NewRedisPublisher("not a url", ""); err == nil {
		t.Fatal("expected an error for an invalid url")
	}
}

func TestDefaultChannel(t *testing.T) {
	s := miniredis.RunT(t)
	pub := NewRedisPublisherWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}), "")
	defer pub.Close()
	if pub.Channel() != "playbook:sync" {
		t.Fatalf("expected default channel, got %q", pub.Channel())
	}
}

func TestPublishSyncReachesSubscribers(t *testing.T) {
	pub, s := setupTestRedis(t)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: s.Addr()}).Subscribe(ctx, "test:sync")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	event := SyncEvent{
		ExtractionID: "ext_1",
		ActorID:      "alice",
		Inserted:     []string{"tsk_1"},
		TaskCount:    1,
		SyncedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := pub.PublishSync(ctx, event); err != nil {
		t.Fatalf("PublishSync failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got SyncEvent
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if got.ExtractionID != "ext_1" || got.ActorID != "alice" || len(got.Inserted) != 1 {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync event")
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	pub, s := setupTestRedis(t)
	ctx := context.Background()

	if _, ok, err := pub.LastSync(ctx, "ext_1"); err != nil || ok {
		t.Fatalf("expected no recorded sync, got ok=%v err=%v", ok, err)
	}

	if err := pub.PublishSync(ctx, SyncEvent{ExtractionID: "ext_1", ActorID: "bob", Cleared: true}); err != nil {
		t.Fatalf("PublishSync failed: %v", err)
	}

	got, ok, err := pub.LastSync(ctx, "ext_1")
	if err != nil || !ok {
		t.Fatalf("LastSync failed: ok=%v err=%v", ok, err)
	}
	if got.ActorID != "bob" || !got.Cleared {
		t.Fatalf("unexpected event: %+v", got)
	}

	s.FastForward(25 * time.Hour)
	if _, ok, _ := pub.LastSync(ctx, "ext_1"); ok {
		t.Fatal("expected the recorded sync to expire")
	}
}
