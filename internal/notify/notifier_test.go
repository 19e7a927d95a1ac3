package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/store/memory"
)

type recordingSender struct {
	channel domain.Channel
	err     error
	sent    []string
}

func (r *recordingSender) Send(_ context.Context, address, _, message string) error {
	r.sent = append(r.sent, address+"|"+message)
	return r.err
}

func (r *recordingSender) Channel() domain.Channel { return r.channel }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherResolvesAddress(t *testing.T) {
	ctx := context.Background()
	contacts := memory.NewContactStore()
	require.NoError(t, contacts.Upsert(ctx, domain.Contact{UserID: "u1", TelegramChatID: "42", Email: "a@b.c"}))

	tg := &recordingSender{channel: domain.ChannelTelegram}
	mail := &recordingSender{channel: domain.ChannelEmail}
	d := NewDispatcher(contacts, 0, discardLogger(), tg, mail)

	require.NoError(t, d.Notify(ctx, "u1", domain.ChannelTelegram, "ETH above 3000"))
	require.NoError(t, d.Notify(ctx, "u1", domain.ChannelEmail, "ETH above 3000"))

	assert.Equal(t, []string{"42|ETH above 3000"}, tg.sent)
	assert.Equal(t, []string{"a@b.c|ETH above 3000"}, mail.sent)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail, domain.ChannelTelegram}, d.Channels())
}

func TestDispatcherErrors(t *testing.T) {
	ctx := context.Background()
	contacts := memory.NewContactStore()
	require.NoError(t, contacts.Upsert(ctx, domain.Contact{UserID: "u1", Email: "a@b.c"}))

	failing := &recordingSender{channel: domain.ChannelEmail, err: errors.New("smtp down")}
	push := &recordingSender{channel: domain.ChannelPush}
	d := NewDispatcher(contacts, 0, discardLogger(), failing, push)

	err := d.Notify(ctx, "u1", domain.ChannelTelegram, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	err = d.Notify(ctx, "nobody", domain.ChannelEmail, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = d.Notify(ctx, "u1", domain.ChannelPush, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, push.sent)

	err = d.Notify(ctx, "u1", domain.ChannelEmail, "x")
	assert.EqualError(t, err, "smtp down")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "99", "Price alert", "USD_C above 1"))
	assert.Equal(t, "99", got["chat_id"])
	assert.Equal(t, "*Price alert*\nUSD\\_C above 1", got["text"])
}

func TestTelegramSenderReportsDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("SECRET")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "7", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestPushSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	err := NewPushSender().Send(context.Background(), srv.URL, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 410")
}

func TestEmailSender(t *testing.T) {
	s := NewEmailSender(EmailConfig{Host: "smtp.local", From: "alerts@swap.local"})
	var gotAddr string
	var gotMsg string
	s.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = string(msg)
		assert.Equal(t, "alerts@swap.local", from)
		assert.Equal(t, []string{"a@b.c"}, to)
		return nil
	}
	require.NoError(t, s.Send(context.Background(), "a@b.c", "Price alert", "ETH crossed"))
	assert.Equal(t, "smtp.local:587", gotAddr)
	assert.True(t, strings.HasPrefix(gotMsg, "From: alerts@swap.local\r\n"))
	assert.Contains(t, gotMsg, "Subject: Price alert\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "ETH crossed\r\n"))
}

func TestEmailSenderHonoursContext(t *testing.T) {
	s := NewEmailSender(EmailConfig{Host: "smtp.local"})
	block := make(chan struct{})
	defer close(block)
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Send(ctx, "a@b.c", "t", "m")
	assert.ErrorIs(t, err, context.Canceled)
}
