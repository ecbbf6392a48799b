package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamClient is a WebSocket client for the provider's tick stream.
type StreamClient struct {
	url        string
	header     http.Header
	conn       *websocket.Conn
	writeMu    sync.Mutex
	pingCancel context.CancelFunc
}

// NewStreamClient creates a new stream client
func NewStreamClient(url, apiKey string) *StreamClient {
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+apiKey)

	return &StreamClient{
		url:    url,
		header: header,
	}
}

// Connect establishes the WebSocket connection
func (c *StreamClient) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.conn = conn
	log.Printf("✅ Connected to quote stream at %s", c.url)
	return nil
}

// subscribeRequest is the stream subscription message
type subscribeRequest struct {
	Op      string   `json:"op"` // subscribe, unsubscribe
	Symbols []string `json:"symbols"`
}

// tickMessage is one inbound stream frame
type tickMessage struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"ts"` // unix milliseconds
}

// Subscribe requests ticks for the given symbols
func (c *StreamClient) Subscribe(symbols []string) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if len(symbols) == 0 {
		return nil
	}

	return c.writeJSON(subscribeRequest{Op: "subscribe", Symbols: symbols})
}

// Unsubscribe stops ticks for the given symbols
func (c *StreamClient) Unsubscribe(symbols []string) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if len(symbols) == 0 {
		return nil
	}

	return c.writeJSON(subscribeRequest{Op: "unsubscribe", Symbols: symbols})
}

func (c *StreamClient) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal stream request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// StartPing starts the keep-alive pinger
func (c *StreamClient) StartPing(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					log.Printf("⚠️  Quote stream ping failed: %v", err)
					return
				}
			}
		}
	}()
}

// ReadTick reads the next tick from the stream. Non-tick frames (acks,
// heartbeats) are skipped.
func (c *StreamClient) ReadTick() (*Quote, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("stream read failed: %w", err)
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil {
			continue // skip malformed frames
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}

		return &Quote{
			Symbol:    tick.Symbol,
			Price:     tick.Price,
			Timestamp: time.UnixMilli(tick.Timestamp),
		}, nil
	}
}

// Close closes the connection
func (c *StreamClient) Close() error {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
