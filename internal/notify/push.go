package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// PushSender posts notifications to the user's registered push webhook.
type PushSender struct {
	client *http.Client
}

// NewPushSender creates a PushSender with a 10-second HTTP timeout.
func NewPushSender() *PushSender {
	return &PushSender{client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *PushSender) Send(ctx context.Context, endpoint, title, message string) error {
	body, err := json.Marshal(map[string]string{
		"title": title,
		"body":  message,
	})
	if err != nil {
		return fmt.Errorf("push: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: send request: %w", err)
	}
	defer resp.Body.Close()

	// Webhook gateways commonly answer 204 No Content.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (p *PushSender) Channel() domain.Channel {
	return domain.ChannelPush
}
