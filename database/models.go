package database

import "time"

// Recommendation action types extracted from AI assistant output.
const (
	ActionBuy      = "buy"
	ActionSell     = "sell"
	ActionHold     = "hold"
	ActionWatch    = "watch"
	ActionAnalysis = "analysis"
)

// Outcome classifications for a closed recommendation.
const (
	OutcomeProfitable   = "profitable"
	OutcomeUnprofitable = "unprofitable"
	OutcomeNeutral      = "neutral"
	OutcomeUnknown      = "unknown"
)

// Pattern types inferred from clustered recommendation outcomes.
const (
	PatternSqueezeSetup = "squeeze_setup"
	PatternBreakout     = "breakout"
	PatternReversal     = "reversal"
	PatternContinuation = "continuation"
)

// StockMetrics is the market-condition snapshot attached to every
// recommendation at creation time and fed to the scorer. Serialized to the
// market_conditions jsonb column, so field names are part of the stored format.
type StockMetrics struct {
	Price          float64 `json:"price"`
	ShortInterest  float64 `json:"short_interest"`   // percent of float
	DaysToCover    float64 `json:"days_to_cover"`
	BorrowRate     float64 `json:"borrow_rate"`      // percent annualized
	VolumeRatio    float64 `json:"volume_ratio"`     // today vs 30-day average
	FloatMillions  float64 `json:"float_millions"`   // shares outstanding float, millions
	PriceChangePct float64 `json:"price_change_pct"` // recent (5-day) change
}

// StrategyWeights are the seven scoring weights. They always sum to 1.0;
// OptimizeParameters renormalizes after every nudge. Serialized to the
// weights jsonb column of strategy_parameters.
type StrategyWeights struct {
	ShortInterest float64 `json:"short_interest"`
	DaysToCover   float64 `json:"days_to_cover"`
	BorrowRate    float64 `json:"borrow_rate"`
	VolumeRatio   float64 `json:"volume_ratio"`
	FloatSize     float64 `json:"float_size"`
	PriceAction   float64 `json:"price_action"`
	Momentum      float64 `json:"momentum"`
}

// Sum returns the total of all seven weights.
func (w StrategyWeights) Sum() float64 {
	return w.ShortInterest + w.DaysToCover + w.BorrowRate + w.VolumeRatio +
		w.FloatSize + w.PriceAction + w.Momentum
}

// StrategyThresholds are the five scoring minimums. A metric below its
// threshold contributes a zero sub-score; MinScore gates backtest inclusion.
type StrategyThresholds struct {
	MinShortInterest float64 `json:"min_short_interest"`
	MinDaysToCover   float64 `json:"min_days_to_cover"`
	MinBorrowRate    float64 `json:"min_borrow_rate"`
	MinVolumeRatio   float64 `json:"min_volume_ratio"`
	MinScore         float64 `json:"min_score"`
}

// DefaultWeights returns the initial scoring weights used before any
// optimization has run.
func DefaultWeights() StrategyWeights {
	return StrategyWeights{
		ShortInterest: 0.25,
		DaysToCover:   0.20,
		BorrowRate:    0.15,
		VolumeRatio:   0.15,
		FloatSize:     0.10,
		PriceAction:   0.10,
		Momentum:      0.05,
	}
}

// DefaultThresholds returns the initial scoring minimums.
func DefaultThresholds() StrategyThresholds {
	return StrategyThresholds{
		MinShortInterest: 10.0,
		MinDaysToCover:   1.0,
		MinBorrowRate:    5.0,
		MinVolumeRatio:   1.0,
		MinScore:         60.0,
	}
}

// Conversation records one chat exchange handed to the engine, kept so
// recommendations stay attributable to the message that produced them.
type Conversation struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:text;index;not null" json:"session_id"`
	Message        string    `gorm:"type:text;not null" json:"message"`
	Response       string    `gorm:"type:text" json:"response"`
	MarketSnapshot string    `gorm:"type:jsonb" json:"market_snapshot,omitempty"`
	CreatedAt      time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// Recommendation is a structured trade recommendation extracted from
// free-text AI output. A row is written once at extraction time and mutated
// exactly once, by the outcome tracker, when its outcome closes. Rows are
// never deleted; they are the engine's learning corpus.
//
// Key Fields:
//   - Action: buy, sell, hold, watch, or analysis
//   - Confidence: parser confidence in [0,1]
//   - MarketConditions: StockMetrics snapshot at creation time (jsonb)
//   - OutcomeTracked: true once the tracker has closed this recommendation
//   - OutcomeReturn: realized return relative to entry (fraction, 0.1 = +10%)
//   - MaxGain/MaxLoss: extremes observed while the position was tracked
type Recommendation struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        string     `gorm:"type:text;index" json:"session_id"`
	Action           string     `gorm:"type:text;not null;index" json:"type"`
	StockSymbol      string     `gorm:"type:text;index;index:idx_rec_symbol_tracked,priority:1;not null" json:"symbol"`
	Text             string     `gorm:"type:text" json:"text"`
	Confidence       float64    `gorm:"type:decimal(5,2);not null" json:"confidence"`
	Reasoning        string     `gorm:"type:text" json:"reasoning"`
	MarketConditions string     `gorm:"type:jsonb" json:"market_conditions,omitempty"`
	CreatedAt        time.Time  `gorm:"index;autoCreateTime" json:"created_at"`
	OutcomeTracked   bool       `gorm:"index;index:idx_rec_symbol_tracked,priority:2;default:false" json:"outcome_tracked"`
	OutcomeType      string     `gorm:"type:text;default:unknown" json:"outcome_type"`
	OutcomeReturn    *float64   `gorm:"type:decimal(10,4)" json:"outcome_return,omitempty"`
	OutcomeDate      *time.Time `json:"outcome_date,omitempty"`
	MaxGain          *float64   `gorm:"type:decimal(10,4)" json:"max_gain,omitempty"`
	MaxLoss          *float64   `gorm:"type:decimal(10,4)" json:"max_loss,omitempty"`
	DaysToOutcome    *int       `json:"days_to_outcome,omitempty"`
}

// TableName specifies the table name for Recommendation
func (Recommendation) TableName() string {
	return "recommendations"
}

// StockMemory holds the running aggregates for one symbol. Upserted after
// every outcome closure via the exact running-mean rule
// avg' = (avg*n + r)/(n+1); the mean is never recomputed from scratch.
type StockMemory struct {
	StockSymbol               string    `gorm:"primaryKey;type:text" json:"stock_symbol"`
	TimesRecommended          int       `gorm:"default:0" json:"times_recommended"`
	TimesAnalyzed             int       `gorm:"default:0" json:"times_analyzed"`
	TotalRecommendations      int       `gorm:"default:0" json:"total_recommendations"`
	SuccessfulRecommendations int       `gorm:"default:0" json:"successful_recommendations"`
	FailedRecommendations     int       `gorm:"default:0" json:"failed_recommendations"`
	NeutralRecommendations    int       `gorm:"default:0" json:"neutral_recommendations"`
	AvgRecommendationReturn   float64   `gorm:"type:decimal(10,6);default:0" json:"avg_recommendation_return"`
	BestReturn                float64   `gorm:"type:decimal(10,4);default:0" json:"best_return"`
	WorstReturn               float64   `gorm:"type:decimal(10,4);default:0" json:"worst_return"`
	TypicalHoldPeriodDays     float64   `gorm:"type:decimal(10,2);default:0" json:"typical_hold_period"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClosedOutcomes returns how many outcomes have been folded into the running
// aggregates. This is the n of the running-mean update rule.
func (m *StockMemory) ClosedOutcomes() int {
	return m.SuccessfulRecommendations + m.FailedRecommendations + m.NeutralRecommendations
}

// FoldOutcome absorbs one closed outcome into the running aggregates. The
// mean updates follow the exact incremental rule avg' = (avg*n + r)/(n+1)
// over the previously closed count; they are never recomputed from the full
// history.
func (m *StockMemory) FoldOutcome(outcomeReturn float64, holdDays int, outcomeType string) {
	n := float64(m.ClosedOutcomes())
	m.AvgRecommendationReturn = (m.AvgRecommendationReturn*n + outcomeReturn) / (n + 1)
	m.TypicalHoldPeriodDays = (m.TypicalHoldPeriodDays*n + float64(holdDays)) / (n + 1)

	switch outcomeType {
	case OutcomeProfitable:
		m.SuccessfulRecommendations++
	case OutcomeUnprofitable:
		m.FailedRecommendations++
	default:
		m.NeutralRecommendations++
	}

	if n == 0 || outcomeReturn > m.BestReturn {
		m.BestReturn = outcomeReturn
	}
	if n == 0 || outcomeReturn < m.WorstReturn {
		m.WorstReturn = outcomeReturn
	}
}

// SuccessRate returns the fraction of closed recommendations that were
// profitable, or 0 when nothing has closed yet.
func (m *StockMemory) SuccessRate() float64 {
	closed := m.ClosedOutcomes()
	if closed == 0 {
		return 0
	}
	return float64(m.SuccessfulRecommendations) / float64(closed)
}

// TableName specifies the table name for StockMemory
func (StockMemory) TableName() string {
	return "stock_memory"
}

// MarketPattern is a named cluster of outcome-tracked recommendations sharing
// a feature-range bucket and outcome class. Created when a bucket first
// reaches the minimum occurrence count and updated incrementally afterwards —
// never rebuilt from a full recompute, so ConfidenceScore history stays
// meaningful.
type MarketPattern struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PatternName string `gorm:"type:text;uniqueIndex;not null" json:"pattern_name"`
	PatternType string `gorm:"type:text;not null;index" json:"pattern_type"`

	// Observed feature ranges within the cluster
	ShortInterestMin float64 `gorm:"type:decimal(10,4)" json:"short_interest_min"`
	ShortInterestMax float64 `gorm:"type:decimal(10,4)" json:"short_interest_max"`
	DaysToCoverMin   float64 `gorm:"type:decimal(10,4)" json:"days_to_cover_min"`
	DaysToCoverMax   float64 `gorm:"type:decimal(10,4)" json:"days_to_cover_max"`
	VolumeRatioMin   float64 `gorm:"type:decimal(10,4)" json:"volume_ratio_min"`
	VolumeRatioMax   float64 `gorm:"type:decimal(10,4)" json:"volume_ratio_max"`

	// Running group means; pattern type and price action derive from these
	MeanShortInterest float64 `gorm:"type:decimal(10,4);default:0" json:"mean_short_interest"`
	MeanPriceChange   float64 `gorm:"type:decimal(10,4);default:0" json:"mean_price_change"`

	PriceAction string `gorm:"type:text" json:"price_action"` // rising, falling, mixed

	// Performance block
	Occurrences       int     `gorm:"default:0" json:"occurrences"`
	SuccessRate       float64 `gorm:"type:decimal(5,4);default:0" json:"success_rate"`
	AvgReturn         float64 `gorm:"type:decimal(10,6);default:0" json:"avg_return"`
	AvgHoldPeriodDays float64 `gorm:"type:decimal(10,2);default:0" json:"avg_hold_period"`
	ConfidenceScore   float64 `gorm:"type:decimal(5,4);default:0" json:"confidence_score"`

	FirstSeen time.Time `gorm:"autoCreateTime" json:"first_seen"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for MarketPattern
func (MarketPattern) TableName() string {
	return "market_patterns"
}

// StrategyParameters is one immutable version of the scoring configuration.
// Exactly one row is active at a time; publishing a new version deactivates
// the previous one in the same transaction and never updates its fields, so
// the full tuning history stays auditable.
type StrategyParameters struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Version    int    `gorm:"uniqueIndex;not null" json:"version"`
	Active     bool   `gorm:"index;default:false" json:"active"`
	Weights    string `gorm:"type:jsonb;not null" json:"weights"`
	Thresholds string `gorm:"type:jsonb;not null" json:"thresholds"`

	// Performance snapshot at publication time
	AvgReturn  float64 `gorm:"type:decimal(10,6);default:0" json:"avg_return"`
	WinRate    float64 `gorm:"type:decimal(5,4);default:0" json:"win_rate"`
	SampleSize int     `gorm:"default:0" json:"sample_size"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for StrategyParameters
func (StrategyParameters) TableName() string {
	return "strategy_parameters"
}

// OptimizationReport is one entry of the bounded optimization history.
// Narrative fields are stored as jsonb string arrays.
type OptimizationReport struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt  time.Time `gorm:"index;autoCreateTime" json:"created_at"`
	Skipped    bool      `gorm:"default:false" json:"skipped"`
	SkipReason string    `gorm:"type:text" json:"skip_reason,omitempty"`

	SampleSize int     `gorm:"default:0" json:"sample_size"`
	WinRate    float64 `gorm:"type:decimal(5,4);default:0" json:"win_rate"`
	AvgReturn  float64 `gorm:"type:decimal(10,6);default:0" json:"avg_return"`

	ParameterChanges string `gorm:"type:jsonb" json:"parameter_changes,omitempty"`
	PatternInsights  string `gorm:"type:jsonb" json:"pattern_insights,omitempty"`
	Warnings         string `gorm:"type:jsonb" json:"warnings,omitempty"`
	Opportunities    string `gorm:"type:jsonb" json:"opportunities,omitempty"`
}

// TableName specifies the table name for OptimizationReport
func (OptimizationReport) TableName() string {
	return "optimization_reports"
}
