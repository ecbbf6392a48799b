package learning

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"squeeze-radar/config"
	"squeeze-radar/database"
	"squeeze-radar/quotes"
	"squeeze-radar/realtime"
)

// TrackingEntry is one open recommendation being followed until its outcome
// closes. Ephemeral; the durable state lives on the recommendation row.
type TrackingEntry struct {
	Symbol           string    `json:"symbol"`
	EntryPrice       float64   `json:"entry_price"`
	EntryDate        time.Time `json:"entry_date"`
	CurrentPrice     float64   `json:"current_price"`
	MaxPrice         float64   `json:"max_price"`
	MinPrice         float64   `json:"min_price"`
	RecommendationID int64     `json:"recommendation_id"`
}

// symbolWatcher is implemented by quote sources that accept dynamic stream
// subscriptions.
type symbolWatcher interface {
	Watch(symbol string)
}

// OutcomeTracker follows open recommendations through the open -> closed
// state machine: it polls prices on a periodic sweep, extends the running
// max/min, and closes an entry when the move, age, or volatility rule fires.
type OutcomeTracker struct {
	store  Store
	quotes quotes.Provider
	broker *realtime.Broker
	cfg    config.LearningConfig

	mu      sync.Mutex
	entries map[string]*TrackingEntry

	sweeping atomic.Bool
	done     chan bool
}

// NewOutcomeTracker creates a new tracker. broker may be nil (no event
// broadcasting).
func NewOutcomeTracker(store Store, provider quotes.Provider, broker *realtime.Broker, cfg config.LearningConfig) *OutcomeTracker {
	return &OutcomeTracker{
		store:   store,
		quotes:  provider,
		broker:  broker,
		cfg:     cfg,
		entries: make(map[string]*TrackingEntry),
		done:    make(chan bool),
	}
}

// Start resumes tracking for open recommendations persisted before the last
// shutdown and launches the periodic outcome sweep.
func (t *OutcomeTracker) Start(ctx context.Context) {
	if err := t.resumeOpenRecommendations(ctx); err != nil {
		log.Printf("⚠️  Failed to resume open recommendations: %v", err)
	}

	interval := time.Duration(t.cfg.TrackingIntervalMinutes) * time.Minute
	log.Printf("🚀 Outcome tracker started (sweep every %v, %d open entries)", interval, t.ActiveCount())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.UpdateTracking(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop
func (t *OutcomeTracker) Stop() {
	close(t.done)
	log.Println("🔌 Outcome tracker stopped")
}

// ActiveCount returns the number of open tracking entries.
func (t *OutcomeTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ActiveEntries returns a snapshot of the open tracking entries.
func (t *OutcomeTracker) ActiveEntries() []TrackingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrackingEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// resumeOpenRecommendations re-registers tracking entries for recommendations
// that were still open in the store.
func (t *OutcomeTracker) resumeOpenRecommendations(ctx context.Context) error {
	recs, err := t.store.GetOpenRecommendations(0)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		entryPrice := 0.0
		if metrics, ok := snapshotMetrics(rec); ok {
			entryPrice = metrics.Price
		}
		t.StartTracking(ctx, rec.StockSymbol, rec.ID, entryPrice, rec.CreatedAt)
	}
	return nil
}

func trackingKey(symbol string, recID int64) string {
	return fmt.Sprintf("%s_%d", symbol, recID)
}

// StartTracking registers an open entry for a recommendation. A zero
// entryPrice is defaulted from a live quote; when no price is obtainable the
// recommendation is skipped, not failed. A zero entryDate means now.
func (t *OutcomeTracker) StartTracking(ctx context.Context, symbol string, recID int64, entryPrice float64, entryDate time.Time) {
	if entryPrice <= 0 {
		quote, err := t.quotes.GetQuote(ctx, symbol)
		if err != nil {
			log.Printf("⏭️  Skipping outcome tracking for %s (rec %d): no entry price available: %v", symbol, recID, err)
			return
		}
		entryPrice = quote.Price
	}
	if entryDate.IsZero() {
		entryDate = time.Now()
	}

	key := trackingKey(symbol, recID)

	t.mu.Lock()
	if _, exists := t.entries[key]; exists {
		t.mu.Unlock()
		return
	}
	t.entries[key] = &TrackingEntry{
		Symbol:           symbol,
		EntryPrice:       entryPrice,
		EntryDate:        entryDate,
		CurrentPrice:     entryPrice,
		MaxPrice:         entryPrice,
		MinPrice:         entryPrice,
		RecommendationID: recID,
	}
	t.mu.Unlock()

	if w, ok := t.quotes.(symbolWatcher); ok {
		w.Watch(symbol)
	}

	log.Printf("📡 Tracking %s (rec %d) from entry price %.4f", symbol, recID, entryPrice)
}

// UpdateTracking runs one outcome sweep over every open entry. A sweep still
// in flight makes this call a no-op; per-symbol failures skip that entry and
// the sweep continues.
func (t *OutcomeTracker) UpdateTracking(ctx context.Context) {
	if !t.sweeping.CompareAndSwap(false, true) {
		log.Println("⏭️  Outcome sweep already in flight, skipping")
		return
	}
	defer t.sweeping.Store(false)

	t.mu.Lock()
	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	t.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	closed := 0
	for _, key := range keys {
		t.mu.Lock()
		entry := t.entries[key]
		t.mu.Unlock()
		if entry == nil {
			continue // closed concurrently
		}

		quote, err := t.quotes.GetQuote(ctx, entry.Symbol)
		if err != nil {
			log.Printf("⚠️  No quote for %s (rec %d) this sweep: %v", entry.Symbol, entry.RecommendationID, err)
			continue
		}

		t.mu.Lock()
		entry.CurrentPrice = quote.Price
		if quote.Price > entry.MaxPrice {
			entry.MaxPrice = quote.Price
		}
		if quote.Price < entry.MinPrice {
			entry.MinPrice = quote.Price
		}
		snapshot := *entry
		t.mu.Unlock()

		if !t.shouldClose(&snapshot) {
			continue
		}
		if err := t.closeEntry(key, &snapshot); err != nil {
			log.Printf("⚠️  Failed to close outcome for %s (rec %d): %v", snapshot.Symbol, snapshot.RecommendationID, err)
			continue
		}
		closed++
	}

	if closed > 0 {
		log.Printf("✅ Outcome sweep closed %d of %d open entries", closed, len(keys))
	}
}

// shouldClose applies the closure rule: a significant move, an aged-out hold
// period, or a peak-to-trough range beyond the volatility bound. Any one
// condition closes the entry; an entry that merely ages out with no move is
// still closed and scores neutral.
func (t *OutcomeTracker) shouldClose(e *TrackingEntry) bool {
	totalReturn := (e.CurrentPrice - e.EntryPrice) / e.EntryPrice
	if math.Abs(totalReturn) >= t.cfg.SignificantMovePct/100 {
		return true
	}

	holdDays := time.Since(e.EntryDate).Hours() / 24
	if holdDays >= float64(t.cfg.MaxHoldDays) {
		return true
	}

	rangePct := (e.MaxPrice - e.MinPrice) / e.EntryPrice
	return rangePct >= t.cfg.VolatilityRangePct/100
}

// classifyOutcome maps a realized return to its outcome class.
func (t *OutcomeTracker) classifyOutcome(totalReturn float64) string {
	switch {
	case totalReturn >= t.cfg.ProfitableThresholdPct/100:
		return database.OutcomeProfitable
	case totalReturn <= -t.cfg.UnprofitableThresholdPct/100:
		return database.OutcomeUnprofitable
	default:
		return database.OutcomeNeutral
	}
}

// closeEntry finalizes an outcome. The recommendation row is written first
// and the symbol memory folded second; if the memory update fails the closure
// stands and the gap is logged for the operator. A row already closed in the
// store just drops the stale entry.
func (t *OutcomeTracker) closeEntry(key string, e *TrackingEntry) error {
	totalReturn := (e.CurrentPrice - e.EntryPrice) / e.EntryPrice
	maxGain := (e.MaxPrice - e.EntryPrice) / e.EntryPrice
	maxLoss := (e.MinPrice - e.EntryPrice) / e.EntryPrice
	holdDays := int(time.Since(e.EntryDate).Hours() / 24)
	outcomeType := t.classifyOutcome(totalReturn)

	performed, err := t.store.UpdateRecommendationOutcome(e.RecommendationID, outcomeType, totalReturn, maxGain, maxLoss, holdDays)
	if err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()

	if !performed {
		// Already closed elsewhere; nothing to fold into memory
		return nil
	}

	if err := t.store.ApplyOutcomeToMemory(e.Symbol, totalReturn, holdDays, outcomeType); err != nil {
		log.Printf("⚠️  Outcome saved but memory update failed for %s (rec %d): %v", e.Symbol, e.RecommendationID, err)
	}

	log.Printf("📊 Closed %s (rec %d): %s, return %.2f%% over %d days",
		e.Symbol, e.RecommendationID, outcomeType, totalReturn*100, holdDays)

	if t.broker != nil {
		t.broker.Broadcast(realtime.EventOutcomeClosed, map[string]interface{}{
			"symbol":            e.Symbol,
			"recommendation_id": e.RecommendationID,
			"outcome_type":      outcomeType,
			"outcome_return":    totalReturn,
			"days_to_outcome":   holdDays,
		})
	}

	return nil
}

// ForceCloseTracking closes a recommendation's outcome immediately, outside
// the periodic sweep. Closing an already-closed recommendation is a no-op; an
// open recommendation that never entered the tracking set is re-entered from
// its saved snapshot and closed in the same call.
func (t *OutcomeTracker) ForceCloseTracking(ctx context.Context, recID int64) error {
	t.mu.Lock()
	var key string
	var entry *TrackingEntry
	for k, e := range t.entries {
		if e.RecommendationID == recID {
			key = k
			entry = e
			break
		}
	}
	t.mu.Unlock()

	if entry == nil {
		rec, err := t.store.GetRecommendationByID(recID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("recommendation %d not found", recID)
		}
		if rec.OutcomeTracked {
			log.Printf("⏭️  Recommendation %d for %s already closed (%s)", recID, rec.StockSymbol, rec.OutcomeType)
			return nil
		}

		// Open in the store but never entered the tracking set, usually
		// because no entry price was obtainable at save time. Re-enter it
		// from the saved snapshot or a live quote so the close can proceed.
		entryPrice := 0.0
		if metrics, ok := snapshotMetrics(*rec); ok {
			entryPrice = metrics.Price
		}
		t.StartTracking(ctx, rec.StockSymbol, recID, entryPrice, rec.CreatedAt)

		key = trackingKey(rec.StockSymbol, recID)
		t.mu.Lock()
		entry = t.entries[key]
		t.mu.Unlock()
		if entry == nil {
			return fmt.Errorf("recommendation %d for %s is open but no entry price is obtainable", recID, rec.StockSymbol)
		}
	}

	// Refresh the price so the forced close reflects the market now; fall
	// back to the last observed price when no quote is available
	if quote, err := t.quotes.GetQuote(ctx, entry.Symbol); err == nil {
		t.mu.Lock()
		entry.CurrentPrice = quote.Price
		if quote.Price > entry.MaxPrice {
			entry.MaxPrice = quote.Price
		}
		if quote.Price < entry.MinPrice {
			entry.MinPrice = quote.Price
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	snapshot := *entry
	t.mu.Unlock()

	return t.closeEntry(key, &snapshot)
}
