package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
)

// Bound on the optimization report history; older rows are pruned on insert.
const maxOptimizationReports = 20

// MemoryStore is the durable record of conversations, recommendations,
// per-symbol memory, pattern definitions, and versioned strategy parameters.
// All learning components read and write through it.
type MemoryStore struct {
	db *gorm.DB
}

// NewMemoryStore creates a new MemoryStore backed by the given database.
func NewMemoryStore(db *Database) *MemoryStore {
	return &MemoryStore{db: db.DB()}
}

// InitSchema migrates all engine tables and seeds the initial strategy
// parameter version when none exists.
func (s *MemoryStore) InitSchema() error {
	err := s.db.AutoMigrate(
		&Conversation{},
		&Recommendation{},
		&StockMemory{},
		&MarketPattern{},
		&StrategyParameters{},
		&OptimizationReport{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}

	// Seed version 1 so the scorer always has an active parameter set
	var count int64
	if err := s.db.Model(&StrategyParameters{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count strategy parameters: %w", err)
	}
	if count == 0 {
		if _, err := s.PublishParameters(DefaultWeights(), DefaultThresholds(), 0, 0, 0); err != nil {
			return fmt.Errorf("failed to seed default parameters: %w", err)
		}
		log.Println("✅ Seeded default strategy parameters (version 1)")
	}

	return nil
}

// ============================================================================
// Conversations
// ============================================================================

// SaveConversation persists one chat exchange.
func (s *MemoryStore) SaveConversation(c *Conversation) error {
	if err := s.db.Create(c).Error; err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// ============================================================================
// Recommendations
// ============================================================================

// SaveRecommendation persists a parsed recommendation and bumps the symbol's
// recommendation counters in stock memory.
func (s *MemoryStore) SaveRecommendation(r *Recommendation) error {
	if r.OutcomeType == "" {
		r.OutcomeType = OutcomeUnknown
	}
	if err := s.db.Create(r).Error; err != nil {
		return fmt.Errorf("failed to save recommendation for %s: %w", r.StockSymbol, err)
	}

	return s.touchMemoryOnRecommendation(r.StockSymbol, r.Action)
}

// GetRecommendationByID returns one recommendation, or nil when not found.
func (s *MemoryStore) GetRecommendationByID(id int64) (*Recommendation, error) {
	var rec Recommendation
	err := s.db.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation %d: %w", id, err)
	}
	return &rec, nil
}

// GetOpenRecommendations returns actionable recommendations whose outcome has
// not been tracked yet, oldest first.
func (s *MemoryStore) GetOpenRecommendations(limit int) ([]Recommendation, error) {
	var recs []Recommendation
	q := s.db.
		Where("outcome_tracked = ?", false).
		Where("action IN ?", []string{ActionBuy, ActionSell}).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get open recommendations: %w", err)
	}
	return recs, nil
}

// GetTrackedRecommendations returns outcome-tracked recommendations created
// at or after since. A zero since returns the full tracked history.
func (s *MemoryStore) GetTrackedRecommendations(since time.Time) ([]Recommendation, error) {
	var recs []Recommendation
	q := s.db.Where("outcome_tracked = ?", true)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get tracked recommendations: %w", err)
	}
	return recs, nil
}

// CountTrackedRecommendations returns the total number of closed outcomes.
func (s *MemoryStore) CountTrackedRecommendations() (int64, error) {
	var count int64
	err := s.db.Model(&Recommendation{}).Where("outcome_tracked = ?", true).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count tracked recommendations: %w", err)
	}
	return count, nil
}

// GetRecommendationsBySymbol returns the most recent recommendations for a
// symbol. An empty symbol returns the most recent across all symbols.
func (s *MemoryStore) GetRecommendationsBySymbol(symbol string, limit int) ([]Recommendation, error) {
	var recs []Recommendation
	q := s.db.Order("created_at DESC")
	if symbol != "" {
		q = q.Where("stock_symbol = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get recommendations for %s: %w", symbol, err)
	}
	return recs, nil
}

// UpdateRecommendationOutcome closes a recommendation. It only transitions
// rows still open (outcome_tracked = false), so a double close is a no-op;
// the returned bool reports whether this call performed the close.
func (s *MemoryStore) UpdateRecommendationOutcome(id int64, outcomeType string, outcomeReturn, maxGain, maxLoss float64, daysToOutcome int) (bool, error) {
	now := time.Now()
	res := s.db.Model(&Recommendation{}).
		Where("id = ? AND outcome_tracked = ?", id, false).
		Updates(map[string]interface{}{
			"outcome_tracked": true,
			"outcome_type":    outcomeType,
			"outcome_return":  outcomeReturn,
			"outcome_date":    now,
			"max_gain":        maxGain,
			"max_loss":        maxLoss,
			"days_to_outcome": daysToOutcome,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update outcome for recommendation %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ============================================================================
// Stock memory
// ============================================================================

// GetStockMemory returns the aggregate memory row for a symbol, or nil when
// the symbol has never been seen.
func (s *MemoryStore) GetStockMemory(symbol string) (*StockMemory, error) {
	var mem StockMemory
	err := s.db.Where("stock_symbol = ?", symbol).First(&mem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock memory for %s: %w", symbol, err)
	}
	return &mem, nil
}

// touchMemoryOnRecommendation upserts the counters incremented when a
// recommendation or analysis is recorded for a symbol.
func (s *MemoryStore) touchMemoryOnRecommendation(symbol, action string) error {
	mem, err := s.GetStockMemory(symbol)
	if err != nil {
		return err
	}
	if mem == nil {
		mem = &StockMemory{StockSymbol: symbol}
	}

	if action == ActionAnalysis || action == ActionWatch {
		mem.TimesAnalyzed++
	} else {
		mem.TimesRecommended++
		mem.TotalRecommendations++
	}

	if err := s.db.Save(mem).Error; err != nil {
		return fmt.Errorf("failed to upsert stock memory for %s: %w", symbol, err)
	}
	return nil
}

// ApplyOutcomeToMemory folds one closed outcome into the symbol's running
// aggregates via StockMemory.FoldOutcome and persists the row.
func (s *MemoryStore) ApplyOutcomeToMemory(symbol string, outcomeReturn float64, holdDays int, outcomeType string) error {
	mem, err := s.GetStockMemory(symbol)
	if err != nil {
		return err
	}
	if mem == nil {
		mem = &StockMemory{StockSymbol: symbol}
	}

	mem.FoldOutcome(outcomeReturn, holdDays, outcomeType)

	if err := s.db.Save(mem).Error; err != nil {
		return fmt.Errorf("failed to apply outcome to stock memory for %s: %w", symbol, err)
	}
	return nil
}

// ============================================================================
// Market patterns
// ============================================================================

// GetMarketPatterns returns all known patterns, strongest confidence first.
func (s *MemoryStore) GetMarketPatterns() ([]MarketPattern, error) {
	var patterns []MarketPattern
	if err := s.db.Order("confidence_score DESC").Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("failed to get market patterns: %w", err)
	}
	return patterns, nil
}

// GetMarketPatternByName returns one pattern, or nil when unknown.
func (s *MemoryStore) GetMarketPatternByName(name string) (*MarketPattern, error) {
	var p MarketPattern
	err := s.db.Where("pattern_name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market pattern %s: %w", name, err)
	}
	return &p, nil
}

// SaveMarketPattern inserts or updates a pattern by name.
func (s *MemoryStore) SaveMarketPattern(p *MarketPattern) error {
	existing, err := s.GetMarketPatternByName(p.PatternName)
	if err != nil {
		return err
	}
	if existing != nil {
		p.ID = existing.ID
		p.FirstSeen = existing.FirstSeen
	}
	if err := s.db.Save(p).Error; err != nil {
		return fmt.Errorf("failed to save market pattern %s: %w", p.PatternName, err)
	}
	return nil
}

// ============================================================================
// Strategy parameters
// ============================================================================

// GetActiveParameters returns the currently active parameter version with
// its weights and thresholds decoded.
func (s *MemoryStore) GetActiveParameters() (*StrategyParameters, StrategyWeights, StrategyThresholds, error) {
	var params StrategyParameters
	err := s.db.Where("active = ?", true).Order("version DESC").First(&params).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Fallback to defaults; InitSchema normally guarantees an active row
		return nil, DefaultWeights(), DefaultThresholds(), nil
	}
	if err != nil {
		return nil, StrategyWeights{}, StrategyThresholds{}, fmt.Errorf("failed to get active parameters: %w", err)
	}

	var weights StrategyWeights
	if err := json.Unmarshal([]byte(params.Weights), &weights); err != nil {
		return nil, StrategyWeights{}, StrategyThresholds{}, fmt.Errorf("corrupt weights for version %d: %w", params.Version, err)
	}
	var thresholds StrategyThresholds
	if err := json.Unmarshal([]byte(params.Thresholds), &thresholds); err != nil {
		return nil, StrategyWeights{}, StrategyThresholds{}, fmt.Errorf("corrupt thresholds for version %d: %w", params.Version, err)
	}

	return &params, weights, thresholds, nil
}

// PublishParameters inserts a new parameter version and atomically swaps the
// active flag to it. Existing versions are retained untouched for audit.
func (s *MemoryStore) PublishParameters(weights StrategyWeights, thresholds StrategyThresholds, avgReturn, winRate float64, sampleSize int) (*StrategyParameters, error) {
	weightsJSON, err := json.Marshal(weights)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal weights: %w", err)
	}
	thresholdsJSON, err := json.Marshal(thresholds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	params := &StrategyParameters{
		Active:     true,
		Weights:    string(weightsJSON),
		Thresholds: string(thresholdsJSON),
		AvgReturn:  avgReturn,
		WinRate:    winRate,
		SampleSize: sampleSize,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		row := tx.Model(&StrategyParameters{}).Select("COALESCE(MAX(version), 0)").Row()
		if err := row.Scan(&maxVersion); err != nil {
			return fmt.Errorf("failed to read max parameter version: %w", err)
		}
		params.Version = maxVersion + 1

		if err := tx.Model(&StrategyParameters{}).Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate previous version: %w", err)
		}
		if err := tx.Create(params).Error; err != nil {
			return fmt.Errorf("failed to insert parameter version %d: %w", params.Version, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return params, nil
}

// ============================================================================
// Optimization reports
// ============================================================================

// SaveOptimizationReport appends a report and prunes the history to the most
// recent entries.
func (s *MemoryStore) SaveOptimizationReport(r *OptimizationReport) error {
	if err := s.db.Create(r).Error; err != nil {
		return fmt.Errorf("failed to save optimization report: %w", err)
	}

	// Prune beyond the bounded history
	var ids []int64
	err := s.db.Model(&OptimizationReport{}).
		Order("created_at DESC").
		Offset(maxOptimizationReports).
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("failed to find stale reports: %w", err)
	}
	if len(ids) > 0 {
		if err := s.db.Delete(&OptimizationReport{}, ids).Error; err != nil {
			return fmt.Errorf("failed to prune %d stale reports: %w", len(ids), err)
		}
	}
	return nil
}

// GetOptimizationReports returns the most recent reports, newest first.
func (s *MemoryStore) GetOptimizationReports(limit int) ([]OptimizationReport, error) {
	var reports []OptimizationReport
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to get optimization reports: %w", err)
	}
	return reports, nil
}

// GetLastOptimizationTime returns the timestamp of the latest non-skipped
// optimization run, or the zero time when none has run.
func (s *MemoryStore) GetLastOptimizationTime() (time.Time, error) {
	var report OptimizationReport
	err := s.db.Where("skipped = ?", false).Order("created_at DESC").First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last optimization time: %w", err)
	}
	return report.CreatedAt, nil
}
