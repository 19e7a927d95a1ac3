package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/cache/redis"
	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memorySink struct {
	mu   sync.Mutex
	got  []Delivery
	err  error
	name string
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Deliver(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return s.err
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func swapEvent(id string, status domain.SwapStatus) domain.Event {
	return domain.NewSwapEvent(domain.Swap{ID: id, UserID: "u1", Status: status}, time.Now().UTC())
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func TestPublisherRoutesByPattern(t *testing.T) {
	failing := &memorySink{name: "broken", err: errors.New("down")}
	sink := &memorySink{name: "mem"}
	p := NewPublisher(16, time.Second, metrics.New(), discardLogger(), failing, sink)

	swapSub, unsubSwap := p.Subscribe("swap:s1", 8)
	defer unsubSwap()
	userSub, unsubUser := p.Subscribe("user:*", 8)
	defer unsubUser()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	ev := swapEvent("s1", domain.SwapProcessing)
	p.Publish(domain.SwapTopic("s1"), ev)
	p.Publish(domain.UserTopic("u1"), ev)

	got := receive(t, swapSub)
	assert.Equal(t, domain.SwapTopic("s1"), got.Topic)
	assert.Equal(t, domain.EventSwapUpdate, got.Event.Type)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(got.Data, &wire))
	assert.Equal(t, "PROCESSING", wire["status"])
	assert.Equal(t, "s1", wire["entityId"])

	got = receive(t, userSub)
	assert.Equal(t, domain.UserTopic("u1"), got.Topic)

	select {
	case extra := <-swapSub:
		t.Fatalf("unexpected delivery on swap:s1: %v", extra.Topic)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 2, sink.len(), "a failing sink does not stop the others")
}

func TestPublisherNeverBlocks(t *testing.T) {
	p := NewPublisher(2, time.Second, metrics.New(), discardLogger())
	finished := make(chan struct{})
	go func() {
		for range 100 {
			p.Publish(domain.SwapTopic("s1"), swapEvent("s1", domain.SwapPending))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no dispatcher running")
	}
}

func TestPublisherDrainsOnShutdown(t *testing.T) {
	sink := &memorySink{name: "mem"}
	p := NewPublisher(16, time.Second, metrics.New(), discardLogger(), sink)
	for range 5 {
		p.Publish(domain.DCATopic("d1"), swapEvent("s1", domain.SwapPending))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Run(ctx)
	assert.Equal(t, 5, sink.len())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewPublisher(4, time.Second, metrics.New(), discardLogger())
	ch, unsub := p.Subscribe("*", 1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBusSinkAndFeedRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), redis.ClientConfig{Addr: mr.Addr(), KeyPrefix: "se:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	bus := redis.NewSignalBus(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, err := BusFeed(ctx, bus, discardLogger())
	require.NoError(t, err)

	p := NewPublisher(8, time.Second, metrics.New(), discardLogger(), NewBusSink(bus))
	go func() { _ = p.Run(ctx) }()

	ev := swapEvent("s9", domain.SwapCompleted)
	p.Publish(domain.SwapTopic("s9"), ev)

	got := receive(t, feed)
	assert.Equal(t, domain.SwapTopic("s9"), got.Topic)
	assert.Equal(t, domain.EventSwapUpdate, got.Event.Type)
	assert.Equal(t, "s9", got.Event.EntityID)
	assert.Equal(t, "COMPLETED", got.Event.Status)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(got.Data, &wire))
	payload, ok := wire["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s9", payload["id"])
}

func TestKafkaSinkName(t *testing.T) {
	sink := NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "swap-events"})
	assert.Equal(t, "kafka", sink.Name())
	assert.NoError(t, sink.Close())
}
