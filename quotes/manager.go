package quotes

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"squeeze-radar/cache"
)

// Quotes fresher than this are served straight from the in-process cache.
const quoteFreshness = 2 * time.Minute

// Manager resolves quotes from three layers: the in-process tick cache fed
// by the stream, the Redis mirror, and the REST API as the last resort. It
// owns the stream connection lifecycle including reconnection.
type Manager struct {
	streamURL string
	apiKey    string
	rest      *RESTClient
	redis     *cache.RedisClient

	client *StreamClient

	mu         sync.RWMutex
	latest     map[string]*Quote
	subscribed map[string]bool

	done chan struct{}
}

// NewManager creates a new quote manager. redis may be nil (mirroring
// disabled).
func NewManager(streamURL, restURL, apiKey string, redis *cache.RedisClient) *Manager {
	return &Manager{
		streamURL:  streamURL,
		apiKey:     apiKey,
		rest:       NewRESTClient(restURL, apiKey),
		redis:      redis,
		latest:     make(map[string]*Quote),
		subscribed: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

// Start connects the stream and launches the read loop. A failed initial
// connection is not fatal; the read loop keeps retrying and GetQuote falls
// back to REST meanwhile.
func (m *Manager) Start(symbols []string) {
	for _, s := range symbols {
		m.subscribed[strings.ToUpper(s)] = true
	}

	go m.runStream()
}

// Stop terminates the stream loop
func (m *Manager) Stop() {
	close(m.done)
	if m.client != nil {
		_ = m.client.Close()
	}
}

// Watch adds a symbol to the stream subscription. Called when the tracker
// starts following a new recommendation.
func (m *Manager) Watch(symbol string) {
	symbol = strings.ToUpper(symbol)

	m.mu.Lock()
	already := m.subscribed[symbol]
	m.subscribed[symbol] = true
	client := m.client
	m.mu.Unlock()

	if already || client == nil {
		return
	}
	if err := client.Subscribe([]string{symbol}); err != nil {
		log.Printf("⚠️  Failed to subscribe %s on quote stream: %v", symbol, err)
	}
}

// GetQuote returns the freshest price available for a symbol.
func (m *Manager) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(symbol)

	// 1. In-process tick cache
	m.mu.RLock()
	q := m.latest[symbol]
	m.mu.RUnlock()
	if q != nil && time.Since(q.Timestamp) < quoteFreshness {
		return q, nil
	}

	// 2. Redis mirror (another instance may hold the stream)
	if m.redis != nil {
		var cached Quote
		if err := m.redis.Get(ctx, cache.KeyQuotePrefix+symbol, &cached); err == nil {
			if time.Since(cached.Timestamp) < quoteFreshness {
				return &cached, nil
			}
		}
	}

	// 3. REST fallback
	q, err := m.rest.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	m.storeQuote(q)
	return q, nil
}

// storeQuote records a quote in the tick cache and mirrors it to Redis.
func (m *Manager) storeQuote(q *Quote) {
	m.mu.Lock()
	m.latest[q.Symbol] = q
	m.mu.Unlock()

	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.redis.Set(ctx, cache.KeyQuotePrefix+q.Symbol, q, quoteFreshness); err != nil {
			log.Printf("⚠️  Failed to mirror quote for %s to Redis: %v", q.Symbol, err)
		}
	}
}

// runStream maintains the stream connection, reconnecting with exponential
// backoff on failure.
func (m *Manager) runStream() {
	reconnectDelay := 5 * time.Second
	maxReconnectDelay := 60 * time.Second

	for {
		select {
		case <-m.done:
			return
		default:
		}

		client := NewStreamClient(m.streamURL, m.apiKey)
		if err := client.Connect(); err != nil {
			log.Printf("⚠️  Quote stream connection failed: %v", err)
			log.Printf("🔄 Retrying quote stream in %v...", reconnectDelay)

			select {
			case <-m.done:
				return
			case <-time.After(reconnectDelay):
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			continue
		}

		reconnectDelay = 5 * time.Second

		m.mu.Lock()
		m.client = client
		symbols := make([]string, 0, len(m.subscribed))
		for s := range m.subscribed {
			symbols = append(symbols, s)
		}
		m.mu.Unlock()

		if err := client.Subscribe(symbols); err != nil {
			log.Printf("⚠️  Quote stream subscription failed: %v", err)
			_ = client.Close()
			continue
		}
		client.StartPing(25 * time.Second)

		m.readLoop(client)

		m.mu.Lock()
		m.client = nil
		m.mu.Unlock()
		_ = client.Close()
	}
}

// readLoop consumes ticks until the connection drops or the manager stops.
func (m *Manager) readLoop(client *StreamClient) {
	for {
		select {
		case <-m.done:
			return
		default:
		}

		q, err := client.ReadTick()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("⚠️  Quote stream error: %v", err)
			return
		}

		q.Symbol = strings.ToUpper(q.Symbol)
		m.storeQuote(q)
	}
}
