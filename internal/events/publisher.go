// Package events fans engine state snapshots out to in-process subscribers
// and external transports without ever blocking the execution path.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

// Delivery is one event routed to one topic. Data holds the JSON encoding of
// the event exactly as it goes on the wire.
type Delivery struct {
	Topic domain.Topic
	Event domain.Event
	Data  []byte
}

// Sink is an external transport such as a message bus.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

type subscription struct {
	pattern string
	ch      chan Delivery
}

// Publisher queues events and dispatches them from Run. Publish drops the
// event when the queue is full.
type Publisher struct {
	queue       chan Delivery
	sinks       []Sink
	sinkTimeout time.Duration

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher with a queue of bufferSize events.
func NewPublisher(bufferSize int, sinkTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger, sinks ...Sink) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if sinkTimeout <= 0 {
		sinkTimeout = 2 * time.Second
	}
	return &Publisher{
		queue:       make(chan Delivery, bufferSize),
		sinks:       sinks,
		sinkTimeout: sinkTimeout,
		subs:        make(map[int]*subscription),
		metrics:     m,
		logger:      logger.With(slog.String("component", "events")),
	}
}

// Publish enqueues ev for topic. It never blocks.
func (p *Publisher) Publish(topic domain.Topic, ev domain.Event) {
	select {
	case p.queue <- Delivery{Topic: topic, Event: ev}:
		p.metrics.EventsPublished.Inc()
	default:
		p.metrics.EventsDropped.Inc()
		p.logger.Warn("event queue full, dropping event",
			slog.String("topic", string(topic)),
			slog.String("type", string(ev.Type)),
			slog.String("entity_id", ev.EntityID),
		)
	}
}

// Subscribe registers an in-process subscriber for topics matching pattern
// ("swap:123", "user:*", "*"). Slow subscribers lose events rather than
// stalling dispatch. The returned func unsubscribes and closes the channel.
func (p *Publisher) Subscribe(pattern string, buffer int) (<-chan Delivery, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{pattern: pattern, ch: make(chan Delivery, buffer)}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = sub
	p.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Run dispatches queued events until ctx is cancelled, then drains what is
// already queued.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("event publisher started", slog.Int("sinks", len(p.sinks)))
	defer p.logger.Info("event publisher stopped")

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case d := <-p.queue:
			p.dispatch(ctx, d)
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case d := <-p.queue:
			p.dispatch(ctx, d)
		default:
			return
		}
	}
}

func (p *Publisher) dispatch(ctx context.Context, d Delivery) {
	data, err := json.Marshal(d.Event)
	if err != nil {
		p.logger.Error("event marshal failed",
			slog.String("type", string(d.Event.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.Data = data

	p.mu.RLock()
	for _, sub := range p.subs {
		if !d.Topic.Match(sub.pattern) {
			continue
		}
		select {
		case sub.ch <- d:
		default:
			p.metrics.EventsDropped.Inc()
		}
	}
	p.mu.RUnlock()

	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(ctx, p.sinkTimeout)
		err := s.Deliver(sctx, d)
		cancel()
		if err != nil {
			p.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			p.logger.Warn("event sink delivery failed",
				slog.String("sink", s.Name()),
				slog.String("topic", string(d.Topic)),
				slog.String("error", err.Error()),
			)
		}
	}
}
