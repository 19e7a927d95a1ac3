// Package notify delivers alert messages to users. A Dispatcher resolves the
// user's address for the requested channel and hands the message to the
// Sender registered for that channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// Sender is implemented by each delivery channel.
type Sender interface {
	// Send delivers message to address (chat id, endpoint URL, mailbox).
	Send(ctx context.Context, address, title, message string) error
	Channel() domain.Channel
}

// Dispatcher implements domain.Notifier.
type Dispatcher struct {
	contacts domain.ContactStore
	senders  map[domain.Channel]Sender
	limiters map[domain.Channel]*rate.Limiter
	title    string
	logger   *slog.Logger
}

var _ domain.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. perSecond caps deliveries per channel;
// zero disables the limit.
func NewDispatcher(contacts domain.ContactStore, perSecond float64, logger *slog.Logger, senders ...Sender) *Dispatcher {
	d := &Dispatcher{
		contacts: contacts,
		senders:  make(map[domain.Channel]Sender, len(senders)),
		limiters: make(map[domain.Channel]*rate.Limiter, len(senders)),
		title:    "Price alert",
		logger:   logger.With(slog.String("component", "notifier")),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			d.limiters[s.Channel()] = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
	return d
}

// Channels lists the channels that have a registered sender.
func (d *Dispatcher) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(d.senders))
	for _, c := range []domain.Channel{domain.ChannelEmail, domain.ChannelPush, domain.ChannelTelegram} {
		if _, ok := d.senders[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Notify sends message to userID over channel.
func (d *Dispatcher) Notify(ctx context.Context, userID string, channel domain.Channel, message string) error {
	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("notify: no sender for channel %s: %w", channel, domain.ErrInvalidRequest)
	}

	contact, err := d.contacts.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("notify: contact for %s: %w", userID, err)
	}
	address := addressFor(contact, channel)
	if address == "" {
		return fmt.Errorf("notify: user %s has no %s address: %w", userID, channel, domain.ErrNotFound)
	}

	if lim := d.limiters[channel]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("notify: %s rate limit: %w", channel, err)
		}
	}

	if err := sender.Send(ctx, address, d.title, message); err != nil {
		d.logger.WarnContext(ctx, "delivery failed",
			slog.String("channel", string(channel)),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return err
	}
	d.logger.DebugContext(ctx, "notification sent",
		slog.String("channel", string(channel)),
		slog.String("user_id", userID),
	)
	return nil
}

func addressFor(c domain.Contact, channel domain.Channel) string {
	switch channel {
	case domain.ChannelEmail:
		return c.Email
	case domain.ChannelPush:
		return c.PushEndpoint
	case domain.ChannelTelegram:
		return c.TelegramChatID
	}
	return ""
}
