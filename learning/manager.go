package learning

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"squeeze-radar/cache"
	"squeeze-radar/config"
	"squeeze-radar/database"
	"squeeze-radar/quotes"
	"squeeze-radar/realtime"
)

// How long a computed learning status stays cached.
const statusCacheTTL = 30 * time.Second

// Enhanced score blend: base squeeze score vs pattern-derived outlook.
const (
	baseScoreBlend    = 0.80
	patternScoreBlend = 0.20
)

// Manager wires the learning components together and is the surface the chat
// layer and status API call. Construct one per process with NewManager; there
// are no globals.
type Manager struct {
	store     Store
	analytics Analytics
	parser    *RecommendationParser
	scorer    *AdaptiveScorer
	patterns  *PatternEngine
	tracker   *OutcomeTracker
	optimizer *StrategyOptimizer
	broker    *realtime.Broker
	redis     *cache.RedisClient
	cfg       config.LearningConfig
}

// NewManager constructs the full learning engine. redis and broker may be
// nil (caching and event broadcasting disabled).
func NewManager(store Store, analytics Analytics, provider quotes.Provider, broker *realtime.Broker, redis *cache.RedisClient, cfg config.LearningConfig) *Manager {
	scorer := NewAdaptiveScorer(store, cfg)
	patterns := NewPatternEngine(store, cfg)
	tracker := NewOutcomeTracker(store, provider, broker, cfg)
	optimizer := NewStrategyOptimizer(store, analytics, scorer, patterns, tracker, broker, cfg)

	return &Manager{
		store:     store,
		analytics: analytics,
		parser:    NewRecommendationParser(),
		scorer:    scorer,
		patterns:  patterns,
		tracker:   tracker,
		optimizer: optimizer,
		broker:    broker,
		redis:     redis,
		cfg:       cfg,
	}
}

// Start launches the background loops
func (m *Manager) Start(ctx context.Context) {
	m.tracker.Start(ctx)
	m.optimizer.Start(ctx)
	log.Println("✅ Learning engine started")
}

// Stop terminates the background loops
func (m *Manager) Stop() {
	m.optimizer.Stop()
	m.tracker.Stop()
}

// Tracker exposes the outcome tracker for the API surface.
func (m *Manager) Tracker() *OutcomeTracker {
	return m.tracker
}

// Patterns exposes the pattern engine for the API surface.
func (m *Manager) Patterns() *PatternEngine {
	return m.patterns
}

// SaveConversationWithInsights records a chat exchange, extracts structured
// recommendations from the assistant's response, persists them with the
// market snapshot, and begins tracking the actionable ones. A response with
// no extractable symbols saves the conversation and returns an empty slice.
func (m *Manager) SaveConversationWithInsights(ctx context.Context, sessionID, message, response string, metrics *database.StockMetrics) ([]database.Recommendation, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var snapshot string
	if metrics != nil {
		if data, err := json.Marshal(metrics); err == nil {
			snapshot = string(data)
		}
	}

	conv := &database.Conversation{
		SessionID:      sessionID,
		Message:        message,
		Response:       response,
		MarketSnapshot: snapshot,
	}
	if err := m.store.SaveConversation(conv); err != nil {
		return nil, err
	}

	parsed := m.parser.Parse(response)
	if len(parsed) == 0 {
		return nil, nil
	}

	var saved []database.Recommendation
	for _, p := range parsed {
		rec := &database.Recommendation{
			SessionID:        sessionID,
			Action:           p.Action,
			StockSymbol:      p.Symbol,
			Text:             response,
			Confidence:       p.Confidence,
			Reasoning:        p.Reasoning,
			MarketConditions: snapshot,
		}
		if err := m.store.SaveRecommendation(rec); err != nil {
			log.Printf("⚠️  Failed to save recommendation for %s: %v", p.Symbol, err)
			continue
		}

		if p.Action == database.ActionBuy || p.Action == database.ActionSell {
			entryPrice := 0.0
			if metrics != nil {
				entryPrice = metrics.Price
			}
			m.tracker.StartTracking(ctx, p.Symbol, rec.ID, entryPrice, time.Time{})
		}

		if m.broker != nil {
			m.broker.Broadcast(realtime.EventRecommendation, rec)
		}

		saved = append(saved, *rec)
	}

	log.Printf("💾 Saved conversation %s with %d recommendation(s)", sessionID, len(saved))
	return saved, nil
}

// CalculateEnhancedScore computes the squeeze score under the active
// parameters and blends in the pattern-derived outlook when one exists. The
// analysis is returned alongside so callers can surface the matched patterns.
func (m *Manager) CalculateEnhancedScore(symbol string, metrics database.StockMetrics) (int, *StockAnalysis, error) {
	_, weights, thresholds, err := m.store.GetActiveParameters()
	if err != nil {
		return 0, nil, err
	}
	base := m.scorer.CalculateScore(metrics, weights, thresholds)

	analysis, err := m.patterns.AnalyzeStock(symbol, metrics)
	if err != nil {
		log.Printf("⚠️  Pattern analysis failed for %s, using base score: %v", symbol, err)
		return base, nil, nil
	}
	if analysis.Prediction == nil {
		return base, analysis, nil
	}

	blended := baseScoreBlend*float64(base) + patternScoreBlend*(analysis.Prediction.SuccessProbability*100)
	score := int(math.Round(blended))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, analysis, nil
}

// ForceOptimization runs the optimization path immediately and returns its
// report. An in-flight run returns ErrOptimizationInProgress.
func (m *Manager) ForceOptimization(ctx context.Context) (*database.OptimizationReport, error) {
	return m.optimizer.RunOptimization(ctx)
}

// GetLearningStatus assembles the status surface for the dashboard, served
// from a short Redis cache when available.
func (m *Manager) GetLearningStatus(ctx context.Context) (map[string]interface{}, error) {
	if m.redis != nil {
		var cached map[string]interface{}
		if err := m.redis.Get(ctx, cache.KeyStatusKey, &cached); err == nil {
			return cached, nil
		}
	}

	totalRecs, err := m.store.CountTrackedRecommendations()
	if err != nil {
		return nil, err
	}

	historical, err := m.analytics.GetPerformanceSummary(time.Time{})
	if err != nil {
		return nil, err
	}
	recentRate, recentTotal, err := m.analytics.GetRecentWinRate(recentWinRateDays)
	if err != nil {
		return nil, err
	}

	patterns, err := m.store.GetMarketPatterns()
	if err != nil {
		return nil, err
	}
	bestPatterns := make([]map[string]interface{}, 0, 3)
	for i, p := range patterns {
		if i >= 3 {
			break
		}
		bestPatterns = append(bestPatterns, map[string]interface{}{
			"pattern_name": p.PatternName,
			"pattern_type": p.PatternType,
			"success_rate": p.SuccessRate,
			"occurrences":  p.Occurrences,
			"confidence":   p.ConfidenceScore,
		})
	}

	lastOpt, err := m.store.GetLastOptimizationTime()
	if err != nil {
		return nil, err
	}

	trend := "stable"
	if recentTotal > 0 && historical.Total > 0 {
		switch {
		case recentRate > historical.WinRate*1.1:
			trend = "improving"
		case recentRate < historical.WinRate*0.9:
			trend = "declining"
		}
	}

	status := map[string]interface{}{
		"system_initialized": true,
		"memory_system": map[string]interface{}{
			"total_tracked": totalRecs,
			"recent_closed": recentTotal,
			"win_rate":      historical.WinRate,
		},
		"pattern_recognition": map[string]interface{}{
			"total_patterns": len(patterns),
			"best_patterns":  bestPatterns,
		},
		"recommendation_tracking": map[string]interface{}{
			"active_tracking_count": m.tracker.ActiveCount(),
			"performance_summary":   historical,
		},
		"strategy_optimization": map[string]interface{}{
			"last_optimization": optimizationTimestamp(lastOpt),
			"next_optimization": nextOptimizationTimestamp(lastOpt, m.cfg.OptimizationIntervalDays),
			"trend":             trend,
		},
	}

	if m.redis != nil {
		if err := m.redis.Set(ctx, cache.KeyStatusKey, status, statusCacheTTL); err != nil {
			log.Printf("⚠️  Failed to cache learning status: %v", err)
		}
	}

	return status, nil
}

func optimizationTimestamp(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nextOptimizationTimestamp(last time.Time, intervalDays int) interface{} {
	if last.IsZero() {
		return nil
	}
	return last.AddDate(0, 0, intervalDays)
}
