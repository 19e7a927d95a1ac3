package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/events"
)

func TestValidTopic(t *testing.T) {
	assert.True(t, validTopic("swap:abc"))
	assert.True(t, validTopic("user:*"))
	assert.False(t, validTopic("swap:"))
	assert.False(t, validTopic("*"))
	assert.False(t, validTopic("wallet:1"))
}

func dial(t *testing.T, query string) (*websocket.Conn, chan events.Delivery) {
	t.Helper()
	feed := make(chan events.Delivery, 4)
	hub := NewHub(feed, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello reply
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	return conn, feed
}

func TestSubscribeAcknowledgesAndRejects(t *testing.T) {
	conn, _ := dial(t, "")

	require.NoError(t, conn.WriteJSON(control{Action: "subscribe", Topics: []string{"swap:s1", "bogus"}}))

	var rejected reply
	require.NoError(t, conn.ReadJSON(&rejected))
	assert.Equal(t, "error", rejected.Type)
	assert.Equal(t, []string{"bogus"}, rejected.Topics)

	var ack reply
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, []string{"swap:s1"}, ack.Topics)
}

func TestRoutesOnlySubscribedTopics(t *testing.T) {
	conn, feed := dial(t, "?topics=swap:s2")

	feed <- events.Delivery{Topic: "swap:other", Data: []byte(`{"type":"SWAP_UPDATE","entityId":"other"}`)}
	feed <- events.Delivery{Topic: "swap:s2", Data: []byte(`{"type":"SWAP_UPDATE","entityId":"s2"}`)}

	var got struct {
		Topic string         `json:"topic"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "swap:s2", got.Topic)
	assert.Equal(t, "s2", got.Event["entityId"])
}
