package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

const telegramAPI = "https://api.telegram.org"

// markdownEscaper escapes the characters legacy Telegram Markdown treats as
// markup, so token symbols like "USD_C" survive.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// TelegramSender delivers notifications through a bot's sendMessage call.
type TelegramSender struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramReply is the envelope every Bot API call answers with.
type telegramReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts the message with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, chatID, title, message string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      "*" + markdownEscaper.Replace(title) + "*\n" + markdownEscaper.Replace(message),
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; report the cause only.
		return fmt.Errorf("telegram: send to %s: %w", chatID, unwrapURLError(err))
	}
	defer resp.Body.Close()

	var reply telegramReply
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	if resp.StatusCode/100 == 2 && (reply.OK || reply.ErrorCode == 0) {
		return nil
	}
	if reply.Description == "" {
		reply.Description = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("telegram: send to %s: status %d: %s", chatID, resp.StatusCode, reply.Description)
}

func (t *TelegramSender) Channel() domain.Channel {
	return domain.ChannelTelegram
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
