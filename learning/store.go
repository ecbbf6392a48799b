package learning

import (
	"time"

	"squeeze-radar/database"
)

// Store is the persistence surface the learning engine requires. Satisfied by
// *database.MemoryStore; tests substitute in-memory fakes.
type Store interface {
	SaveConversation(c *database.Conversation) error
	SaveRecommendation(r *database.Recommendation) error
	GetRecommendationByID(id int64) (*database.Recommendation, error)
	GetOpenRecommendations(limit int) ([]database.Recommendation, error)
	GetTrackedRecommendations(since time.Time) ([]database.Recommendation, error)
	CountTrackedRecommendations() (int64, error)
	UpdateRecommendationOutcome(id int64, outcomeType string, outcomeReturn, maxGain, maxLoss float64, daysToOutcome int) (bool, error)

	GetStockMemory(symbol string) (*database.StockMemory, error)
	ApplyOutcomeToMemory(symbol string, outcomeReturn float64, holdDays int, outcomeType string) error

	GetMarketPatterns() ([]database.MarketPattern, error)
	GetMarketPatternByName(name string) (*database.MarketPattern, error)
	SaveMarketPattern(p *database.MarketPattern) error

	GetActiveParameters() (*database.StrategyParameters, database.StrategyWeights, database.StrategyThresholds, error)
	PublishParameters(weights database.StrategyWeights, thresholds database.StrategyThresholds, avgReturn, winRate float64, sampleSize int) (*database.StrategyParameters, error)

	SaveOptimizationReport(r *database.OptimizationReport) error
	GetLastOptimizationTime() (time.Time, error)
}

// Analytics is the aggregate reporting surface consumed by the optimizer's
// gating checks and the status surface. Satisfied by
// *database.AnalyticsRepository.
type Analytics interface {
	GetPerformanceSummary(since time.Time) (*database.PerformanceSummary, error)
	GetRecentWinRate(days int) (float64, int, error)
}
