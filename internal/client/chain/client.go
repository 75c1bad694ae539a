package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Creator is the narrow on-chain surface the publisher worker depends on.
type Creator interface {
	CreateMarket(ctx context.Context, req CreateMarketRequest) (*CreateMarketResult, error)
}

// Client talks to the market-program gateway that owns the actual on-chain
// transactions.
type Client struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, apiKey string) *Client {
	host = strings.TrimRight(host, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		host:       host,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type CreateMarketRequest struct {
	ChainID     int64     `json:"chain_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ExpiresAt   time.Time `json:"expires_at"`
	// ExternalID ties the gateway transaction back to the local market row
	// so replays of the same request are idempotent gateway-side.
	ExternalID string `json:"external_id"`
}

type CreateMarketResult struct {
	MarketAddress string `json:"market_address"`
	TxHash        string `json:"tx_hash"`
}

func (c *Client) CreateMarket(ctx context.Context, req CreateMarketRequest) (*CreateMarketResult, error) {
	if c == nil || c.host == "" {
		return nil, fmt.Errorf("chain gateway not configured")
	}
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/markets", req)
	if err != nil {
		return nil, err
	}
	var result CreateMarketResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode create result: %w", err)
	}
	if result.MarketAddress == "" {
		return nil, fmt.Errorf("gateway returned no market address")
	}
	return &result, nil
}

type settleRequest struct {
	Result string `json:"result"`
}

// SettleMarket reports the finalized outcome to the on-chain program.
func (c *Client) SettleMarket(ctx context.Context, marketAddress, result string) error {
	if c == nil || c.host == "" {
		return fmt.Errorf("chain gateway not configured")
	}
	if marketAddress == "" {
		return fmt.Errorf("market_address is required")
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/markets/"+marketAddress+"/settle", settleRequest{Result: result})
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
