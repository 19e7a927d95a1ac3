// Package auditor is the HTTP client for the token security audit service.
package auditor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/platform/apiclient"
)

// Config configures the audit service client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements domain.TokenAuditor.
type Client struct {
	api *apiclient.Client
}

var _ domain.TokenAuditor = (*Client)(nil)

type auditResponse struct {
	Token   string             `json:"token"`
	ChainID string             `json:"chainId"`
	Factors map[string]float64 `json:"factors"`
}

// New creates a Client.
func New(cfg Config) *Client {
	key := cfg.APIKey
	return &Client{api: apiclient.New(apiclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: func(string, string, string) map[string]string {
			if key == "" {
				return nil
			}
			return map[string]string{"X-API-KEY": key}
		},
	})}
}

// Audit fetches the factor breakdown for token. Factor values outside [0, 1]
// are clamped.
func (c *Client) Audit(ctx context.Context, chainID, token string) (domain.RiskReport, error) {
	path := fmt.Sprintf("/v1/audit/%s/%s", url.PathEscape(chainID), url.PathEscape(token))
	var resp auditResponse
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return domain.RiskReport{}, fmt.Errorf("auditor: %s/%s: %w", chainID, token, err)
	}
	factors := make(map[string]float64, len(resp.Factors))
	for k, v := range resp.Factors {
		factors[k] = min(max(v, 0), 1)
	}
	return domain.RiskReport{Token: token, ChainID: chainID, Factors: factors}, nil
}
