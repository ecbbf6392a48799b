package database

import (
	"fmt"
	"time"
)

// PerformanceSummary aggregates closed-recommendation results over a window.
type PerformanceSummary struct {
	Total       int     `json:"total"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Neutral     int     `json:"neutral"`
	WinRate     float64 `json:"win_rate"` // wins / total closed, 0..1
	AvgReturn   float64 `json:"avg_return"`
	BestReturn  float64 `json:"best_return"`
	WorstReturn float64 `json:"worst_return"`
	AvgHoldDays float64 `json:"avg_hold_days"`
}

// SymbolPerformance ranks one symbol's closed-recommendation results.
type SymbolPerformance struct {
	StockSymbol string  `json:"stock_symbol"`
	Total       int     `json:"total"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	AvgReturn   float64 `json:"avg_return"`
}

// AnalyticsRepository runs the aggregate reporting SQL over the raw
// connection. Consumed by the strategy optimizer's gating checks and by the
// learning status surface.
type AnalyticsRepository struct {
	db *DB
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// GetPerformanceSummary aggregates all closed outcomes created at or after
// since. A zero since covers the full history.
func (r *AnalyticsRepository) GetPerformanceSummary(since time.Time) (*PerformanceSummary, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN outcome_type = 'profitable' THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(CASE WHEN outcome_type = 'unprofitable' THEN 1 ELSE 0 END), 0) AS losses,
			COALESCE(SUM(CASE WHEN outcome_type = 'neutral' THEN 1 ELSE 0 END), 0) AS neutral,
			COALESCE(AVG(outcome_return), 0) AS avg_return,
			COALESCE(MAX(outcome_return), 0) AS best_return,
			COALESCE(MIN(outcome_return), 0) AS worst_return,
			COALESCE(AVG(days_to_outcome), 0) AS avg_hold_days
		FROM recommendations
		WHERE outcome_tracked = TRUE
		AND ($1::timestamptz IS NULL OR created_at >= $1)
	`

	var sinceArg interface{}
	if !since.IsZero() {
		sinceArg = since
	}

	summary := &PerformanceSummary{}
	err := r.db.GetConn().QueryRow(query, sinceArg).Scan(
		&summary.Total,
		&summary.Wins,
		&summary.Losses,
		&summary.Neutral,
		&summary.AvgReturn,
		&summary.BestReturn,
		&summary.WorstReturn,
		&summary.AvgHoldDays,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPerformanceSummary: %w", err)
	}

	if summary.Total > 0 {
		summary.WinRate = float64(summary.Wins) / float64(summary.Total)
	}
	return summary, nil
}

// GetRecentWinRate returns the win rate over the trailing number of days and
// the number of closed outcomes it is based on.
func (r *AnalyticsRepository) GetRecentWinRate(days int) (float64, int, error) {
	since := time.Now().AddDate(0, 0, -days)
	summary, err := r.GetPerformanceSummary(since)
	if err != nil {
		return 0, 0, fmt.Errorf("GetRecentWinRate: %w", err)
	}
	return summary.WinRate, summary.Total, nil
}

// GetTopSymbols ranks symbols by win rate among those with at least
// minClosed closed outcomes.
func (r *AnalyticsRepository) GetTopSymbols(minClosed, limit int) ([]SymbolPerformance, error) {
	query := `
		SELECT
			stock_symbol,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN outcome_type = 'profitable' THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(AVG(outcome_return), 0) AS avg_return
		FROM recommendations
		WHERE outcome_tracked = TRUE
		GROUP BY stock_symbol
		HAVING COUNT(*) >= $1
		ORDER BY SUM(CASE WHEN outcome_type = 'profitable' THEN 1 ELSE 0 END)::float / COUNT(*) DESC
		LIMIT $2
	`

	rows, err := r.db.GetConn().Query(query, minClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("GetTopSymbols: %w", err)
	}
	defer rows.Close()

	var results []SymbolPerformance
	for rows.Next() {
		var sp SymbolPerformance
		if err := rows.Scan(&sp.StockSymbol, &sp.Total, &sp.Wins, &sp.AvgReturn); err != nil {
			return nil, fmt.Errorf("GetTopSymbols scan: %w", err)
		}
		if sp.Total > 0 {
			sp.WinRate = float64(sp.Wins) / float64(sp.Total)
		}
		results = append(results, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetTopSymbols rows: %w", err)
	}
	return results, nil
}
