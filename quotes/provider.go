// Package quotes provides the market-data collaborator for the learning
// engine: a streaming WebSocket feed of price ticks with a REST fallback,
// fronted by the Provider interface the outcome tracker consumes.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Quote is one price observation for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider supplies the current price for a symbol. A nil quote with an
// error means no price is obtainable; callers skip the symbol for the
// current sweep rather than failing.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// RESTClient fetches quotes over the provider's HTTP API. Used as the
// fallback when the streaming feed has no recent tick for a symbol.
type RESTClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTClient creates a new REST quote client
func NewRESTClient(baseURL, apiKey string) *RESTClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

// quoteResponse is the provider's REST payload
type quoteResponse struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// GetQuote fetches the current price for a symbol
func (c *RESTClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	url := fmt.Sprintf("%s/v1/quotes/%s", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", symbol, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote API error %d for %s: %s", resp.StatusCode, symbol, string(body))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("failed to decode quote for %s: %w", symbol, err)
	}

	if qr.Price <= 0 {
		return nil, fmt.Errorf("no valid price for %s", symbol)
	}

	return &Quote{
		Symbol:    qr.Symbol,
		Price:     qr.Price,
		Timestamp: time.UnixMilli(qr.Timestamp),
	}, nil
}
