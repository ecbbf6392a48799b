package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"squeeze-radar/database"
)

func newTestOptimizer(store *fakeStore, analytics *fakeAnalytics) *StrategyOptimizer {
	cfg := testConfig()
	scorer := NewAdaptiveScorer(store, cfg)
	patterns := NewPatternEngine(store, cfg)
	tracker := NewOutcomeTracker(store, newFakeProvider(), nil, cfg)
	return NewStrategyOptimizer(store, analytics, scorer, patterns, tracker, nil, cfg)
}

func TestRunOptimizationSkipsOnThinEvidence(t *testing.T) {
	store := newFakeStore()
	// 10 tracked recommendations, below the 15-sample gate
	for i := 0; i < 10; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 40, DaysToCover: 4, VolumeRatio: 3,
		}, database.OutcomeProfitable, 0.12, time.Now().AddDate(0, 0, -5))
	}
	optimizer := newTestOptimizer(store, &fakeAnalytics{})

	report, err := optimizer.RunOptimization(context.Background())
	if err != nil {
		t.Fatalf("RunOptimization() error: %v", err)
	}
	if !report.Skipped {
		t.Fatalf("expected a skipped report, got %+v", report)
	}
	if report.SkipReason == "" {
		t.Errorf("skipped report must carry the gate reason")
	}
	if store.published != 0 {
		t.Errorf("a skipped run must not mutate strategy parameters, published %d", store.published)
	}
	if len(store.reports) != 1 {
		t.Errorf("skipped report should still be persisted, have %d", len(store.reports))
	}
}

func TestRunOptimizationSkipsInsideInterval(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 20; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 40, DaysToCover: 4, VolumeRatio: 3,
		}, database.OutcomeProfitable, 0.12, time.Now().AddDate(0, 0, -5))
	}
	// Last run 2 days ago with performance holding steady
	store.lastOptTime = time.Now().AddDate(0, 0, -2)
	analytics := &fakeAnalytics{
		summary:    database.PerformanceSummary{Total: 20, WinRate: 0.6},
		recentRate: 0.6,
		recentN:    8,
	}
	optimizer := newTestOptimizer(store, analytics)

	report, err := optimizer.RunOptimization(context.Background())
	if err != nil {
		t.Fatalf("RunOptimization() error: %v", err)
	}
	if !report.Skipped {
		t.Fatalf("expected a skipped report inside the interval, got %+v", report)
	}
	if store.published != 0 {
		t.Errorf("skipped run must not publish parameters")
	}
}

func TestRunOptimizationDegradedWinRateOverridesInterval(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 20; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 40, DaysToCover: 4, VolumeRatio: 3,
		}, database.OutcomeProfitable, 0.12, time.Now().AddDate(0, 0, -5))
	}
	// Inside the interval, but the recent win rate collapsed
	store.lastOptTime = time.Now().AddDate(0, 0, -2)
	analytics := &fakeAnalytics{
		summary:    database.PerformanceSummary{Total: 20, WinRate: 0.7},
		recentRate: 0.3,
		recentN:    6,
	}
	optimizer := newTestOptimizer(store, analytics)

	report, err := optimizer.RunOptimization(context.Background())
	if err != nil {
		t.Fatalf("RunOptimization() error: %v", err)
	}
	if report.Skipped {
		t.Fatalf("degraded win rate should force a run, got skipped: %s", report.SkipReason)
	}
}

func TestRunOptimizationProducesReport(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 25; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 40 + float64(i%5), DaysToCover: 4, BorrowRate: 25,
			VolumeRatio: 3.5, FloatMillions: 30, PriceChangePct: 4,
		}, database.OutcomeProfitable, 0.15, time.Now().AddDate(0, 0, -10))
	}
	analytics := &fakeAnalytics{
		summary:    database.PerformanceSummary{Total: 25, WinRate: 0.72, AvgReturn: 0.11},
		recentRate: 0.7,
		recentN:    10,
	}
	optimizer := newTestOptimizer(store, analytics)

	report, err := optimizer.RunOptimization(context.Background())
	if err != nil {
		t.Fatalf("RunOptimization() error: %v", err)
	}
	if report.Skipped {
		t.Fatalf("expected a real run, skipped: %s", report.SkipReason)
	}
	if report.SampleSize != 25 {
		t.Errorf("sample size = %d, want 25", report.SampleSize)
	}
	if report.WinRate != 0.72 {
		t.Errorf("win rate = %v, want 0.72", report.WinRate)
	}
	if report.ParameterChanges == "" {
		t.Errorf("report should describe parameter disposition")
	}
	// The all-winner bucket reaches the occurrence minimum, so the run
	// should surface it as an opportunity
	if report.Opportunities == "[]" || report.Opportunities == "" {
		t.Errorf("expected new-pattern opportunities, got %q", report.Opportunities)
	}
}

func TestRunOptimizationWarnsOnLowWinRate(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 20; i++ {
		outcome := database.OutcomeUnprofitable
		ret := -0.08
		if i%3 == 0 {
			outcome = database.OutcomeProfitable
			ret = 0.08
		}
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 40, DaysToCover: 4, VolumeRatio: 3,
		}, outcome, ret, time.Now().AddDate(0, 0, -10))
	}
	analytics := &fakeAnalytics{
		summary:    database.PerformanceSummary{Total: 20, WinRate: 0.35, AvgReturn: -0.02},
		recentRate: 0.35,
		recentN:    8,
	}
	optimizer := newTestOptimizer(store, analytics)

	report, err := optimizer.RunOptimization(context.Background())
	if err != nil {
		t.Fatalf("RunOptimization() error: %v", err)
	}
	if report.Skipped {
		t.Fatalf("expected a real run, skipped: %s", report.SkipReason)
	}
	if report.Warnings == "[]" || report.Warnings == "" {
		t.Errorf("a 35%% win rate should produce warnings, got %q", report.Warnings)
	}
}

func TestRunOptimizationRejectsOverlap(t *testing.T) {
	optimizer := newTestOptimizer(newFakeStore(), &fakeAnalytics{})
	optimizer.running.Store(true)

	_, err := optimizer.RunOptimization(context.Background())
	if !errors.Is(err, ErrOptimizationInProgress) {
		t.Errorf("overlapping run should return ErrOptimizationInProgress, got %v", err)
	}
}
