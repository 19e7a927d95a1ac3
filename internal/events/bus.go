package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// busChannelPrefix namespaces engine events on the signal bus.
const busChannelPrefix = "evt:"

// envelope is the bus payload; pub/sub delivers payloads without their
// channel name, so the topic travels with the event.
type envelope struct {
	Topic domain.Topic    `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// BusSink forwards events to a domain.SignalBus channel "evt:<topic>".
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "bus" }

// Deliver publishes the event envelope.
func (s *BusSink) Deliver(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(envelope{Topic: d.Topic, Event: d.Data})
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	return s.bus.Publish(ctx, busChannelPrefix+string(d.Topic), payload)
}

// busEvent decodes the header fields of a bus event; the payload stays raw.
type busEvent struct {
	Type      domain.EventType `json:"type"`
	EntityID  string           `json:"entityId"`
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// BusFeed subscribes to every engine event on the bus, for processes that do
// not run the scheduler themselves. The channel closes when ctx ends.
func BusFeed(ctx context.Context, bus domain.SignalBus, logger *slog.Logger) (<-chan Delivery, error) {
	raw, err := bus.Subscribe(ctx, busChannelPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("events: subscribe bus: %w", err)
	}
	out := make(chan Delivery, 256)
	go func() {
		defer close(out)
		for payload := range raw {
			var env envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				logger.Warn("events: malformed bus payload", slog.String("error", err.Error()))
				continue
			}
			var hdr busEvent
			if err := json.Unmarshal(env.Event, &hdr); err != nil {
				logger.Warn("events: malformed bus event", slog.String("error", err.Error()))
				continue
			}
			d := Delivery{
				Topic: env.Topic,
				Event: domain.Event{Type: hdr.Type, EntityID: hdr.EntityID, Status: hdr.Status, Timestamp: hdr.Timestamp, Payload: hdr.Payload},
				Data:  env.Event,
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
