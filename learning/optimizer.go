package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"squeeze-radar/config"
	"squeeze-radar/database"
	"squeeze-radar/realtime"
)

// ErrOptimizationInProgress is returned when a forced run overlaps an
// in-flight one.
var ErrOptimizationInProgress = errors.New("optimization already in progress")

// Trailing window used to judge recent performance against the historical
// average in the degradation gate.
const recentWinRateDays = 14

// StrategyOptimizer decides when re-tuning is due, runs the scorer's
// parameter search, refreshes the pattern set, and persists a structured
// report of the run. Gated so it never churns parameters on thin evidence.
type StrategyOptimizer struct {
	store     Store
	analytics Analytics
	scorer    *AdaptiveScorer
	patterns  *PatternEngine
	tracker   *OutcomeTracker
	broker    *realtime.Broker
	cfg       config.LearningConfig

	running atomic.Bool
	done    chan bool
}

// NewStrategyOptimizer creates a new optimizer. broker may be nil.
func NewStrategyOptimizer(store Store, analytics Analytics, scorer *AdaptiveScorer, patterns *PatternEngine, tracker *OutcomeTracker, broker *realtime.Broker, cfg config.LearningConfig) *StrategyOptimizer {
	return &StrategyOptimizer{
		store:     store,
		analytics: analytics,
		scorer:    scorer,
		patterns:  patterns,
		tracker:   tracker,
		broker:    broker,
		cfg:       cfg,
		done:      make(chan bool),
	}
}

// Start launches the periodic optimization check. The ticker fires daily;
// the gate inside RunOptimization decides whether a run is actually due, so
// a degrading win rate can trigger early without waiting out the nominal
// weekly interval.
func (o *StrategyOptimizer) Start(ctx context.Context) {
	log.Printf("🚀 Strategy optimizer started (nominal interval %d days)", o.cfg.OptimizationIntervalDays)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-o.done:
				return
			case <-ticker.C:
				if _, err := o.RunOptimization(ctx); err != nil && !errors.Is(err, ErrOptimizationInProgress) {
					log.Printf("⚠️  Scheduled optimization failed: %v", err)
				}
			}
		}
	}()
}

// Stop terminates the periodic check
func (o *StrategyOptimizer) Stop() {
	close(o.done)
	log.Println("🔌 Strategy optimizer stopped")
}

// RunOptimization runs one gated optimization pass and returns its report.
// The same path serves the periodic timer and forced manual runs; an
// overlapping call returns ErrOptimizationInProgress.
func (o *StrategyOptimizer) RunOptimization(ctx context.Context) (*database.OptimizationReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrOptimizationInProgress
	}
	defer o.running.Store(false)

	if reason := o.gateReason(); reason != "" {
		log.Printf("⏭️  Optimization skipped: %s", reason)
		return o.saveSkippedReport(reason)
	}

	log.Println("🔄 Running strategy optimization...")

	// Close anything closeable first so the evidence below is current
	o.tracker.UpdateTracking(ctx)

	summary, err := o.analytics.GetPerformanceSummary(time.Now().AddDate(0, 0, -optimizationWindowDays))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize performance: %w", err)
	}

	var changes []string
	candidate, err := o.scorer.OptimizeParameters()
	if err != nil {
		return nil, fmt.Errorf("parameter search failed: %w", err)
	}
	switch {
	case candidate.Skipped:
		changes = append(changes, "parameters unchanged: "+candidate.SkipReason)
	case candidate.Improvement > o.cfg.MinImprovement:
		params, err := o.store.PublishParameters(candidate.Weights, candidate.Thresholds,
			candidate.CandidateAvgReturn, summary.WinRate, candidate.SampleSize)
		if err != nil {
			return nil, fmt.Errorf("failed to publish parameters: %w", err)
		}
		log.Printf("✅ Published strategy parameters version %d (improvement %.4f, confidence %.2f)",
			params.Version, candidate.Improvement, candidate.Confidence)
		changes = append(changes, fmt.Sprintf("published version %d (backtested improvement %.4f)", params.Version, candidate.Improvement))
		changes = append(changes, candidate.Changes...)
	default:
		changes = append(changes, fmt.Sprintf("candidate rejected: improvement %.4f below bar %.4f",
			candidate.Improvement, o.cfg.MinImprovement))
	}

	newPatterns, err := o.patterns.UpdatePatterns()
	if err != nil {
		log.Printf("⚠️  Pattern refresh failed: %v", err)
	}

	var warnings []string
	if summary.Total > 0 && summary.WinRate < 0.5 {
		warnings = append(warnings, fmt.Sprintf("win rate %.1f%% is below 50%%", summary.WinRate*100))
	}
	if summary.Total > 0 && summary.AvgReturn < 0 {
		warnings = append(warnings, fmt.Sprintf("average return %.2f%% is negative", summary.AvgReturn*100))
	}

	var opportunities []string
	for _, name := range newPatterns {
		opportunities = append(opportunities, "new pattern discovered: "+name)
	}

	insights, err := o.patternInsights()
	if err != nil {
		log.Printf("⚠️  Failed to assemble pattern insights: %v", err)
	}

	report := &database.OptimizationReport{
		SampleSize:       summary.Total,
		WinRate:          summary.WinRate,
		AvgReturn:        summary.AvgReturn,
		ParameterChanges: marshalStrings(changes),
		PatternInsights:  marshalStrings(insights),
		Warnings:         marshalStrings(warnings),
		Opportunities:    marshalStrings(opportunities),
	}
	if err := o.store.SaveOptimizationReport(report); err != nil {
		return nil, err
	}

	log.Printf("📊 Optimization complete: %d samples, win rate %.1f%%, %d new patterns",
		summary.Total, summary.WinRate*100, len(newPatterns))

	if o.broker != nil {
		o.broker.Broadcast(realtime.EventOptimizationReport, report)
	}

	return report, nil
}

// gateReason returns why optimization should not run, or "" when it is due.
// The gate requires enough total evidence, and either the nominal interval
// elapsed or a recent win rate that has degraded below 80% of the historical
// average.
func (o *StrategyOptimizer) gateReason() string {
	total, err := o.store.CountTrackedRecommendations()
	if err != nil {
		return fmt.Sprintf("could not count tracked recommendations: %v", err)
	}
	if total < int64(o.cfg.MinSamplesForGate) {
		return fmt.Sprintf("only %d tracked recommendations, need %d", total, o.cfg.MinSamplesForGate)
	}

	lastRun, err := o.store.GetLastOptimizationTime()
	if err != nil {
		return fmt.Sprintf("could not read last optimization time: %v", err)
	}
	if lastRun.IsZero() {
		return ""
	}

	daysSince := time.Since(lastRun).Hours() / 24
	if daysSince >= float64(o.cfg.OptimizationIntervalDays) {
		return ""
	}

	historical, err := o.analytics.GetPerformanceSummary(time.Time{})
	if err != nil {
		return fmt.Sprintf("could not read historical performance: %v", err)
	}
	recentRate, recentTotal, err := o.analytics.GetRecentWinRate(recentWinRateDays)
	if err != nil {
		return fmt.Sprintf("could not read recent win rate: %v", err)
	}
	if recentTotal > 0 && historical.WinRate > 0 && recentRate < 0.8*historical.WinRate {
		log.Printf("⚠️  Recent win rate %.1f%% below 80%% of historical %.1f%%, optimizing early",
			recentRate*100, historical.WinRate*100)
		return ""
	}

	return fmt.Sprintf("last optimization %.1f days ago (interval %d days) and performance is holding",
		daysSince, o.cfg.OptimizationIntervalDays)
}

// saveSkippedReport records a gated-out run so the history shows why nothing
// changed. Skipped reports never count as optimization runs for interval
// purposes.
func (o *StrategyOptimizer) saveSkippedReport(reason string) (*database.OptimizationReport, error) {
	report := &database.OptimizationReport{
		Skipped:    true,
		SkipReason: reason,
	}
	if err := o.store.SaveOptimizationReport(report); err != nil {
		return nil, err
	}
	return report, nil
}

// patternInsights summarizes the strongest known patterns for the report.
func (o *StrategyOptimizer) patternInsights() ([]string, error) {
	patterns, err := o.store.GetMarketPatterns()
	if err != nil {
		return nil, err
	}

	var insights []string
	for i, p := range patterns {
		if i >= 5 {
			break
		}
		insights = append(insights, fmt.Sprintf("%s (%s): %d occurrences, %.0f%% success, %.2f%% avg return",
			p.PatternName, p.PatternType, p.Occurrences, p.SuccessRate*100, p.AvgReturn*100))
	}
	return insights, nil
}

// marshalStrings encodes a string slice for a jsonb column; an empty slice
// stores as an empty JSON array.
func marshalStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}
