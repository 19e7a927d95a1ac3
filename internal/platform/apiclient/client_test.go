package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

func TestCheckStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusNotFound:            domain.ErrNotFound,
		http.StatusTooManyRequests:     domain.ErrRateLimited,
		http.StatusGatewayTimeout:      domain.ErrTimeout,
		http.StatusBadRequest:          domain.ErrInvalidRequest,
		http.StatusBadGateway:          domain.ErrRPC,
		http.StatusInternalServerError: domain.ErrRPC,
	}
	for code, want := range cases {
		assert.ErrorIs(t, CheckStatus(code, []byte("x")), want, "status %d", code)
	}
	assert.NoError(t, CheckStatus(http.StatusNoContent, nil))
}

func TestDoSendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sig:POST/echo", r.Header.Get("X-SIGNATURE"))
		assert.Equal(t, "fp-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		Headers: func(method, path, _ string) map[string]string {
			return map[string]string{"X-SIGNATURE": "sig:" + method + path}
		},
	})
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Do(context.Background(), http.MethodPost, "/echo", map[string]int{"a": 1}, &out,
		map[string]string{"Idempotency-Key": "fp-1"})
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestDoTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	err := c.Do(context.Background(), http.MethodGet, "/slow", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
