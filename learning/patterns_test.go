package learning

import (
	"math"
	"testing"
	"time"

	"squeeze-radar/database"
)

func TestBucketLabel(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		edges []float64
		want  string
	}{
		{"low short interest", 12, shortInterestBuckets, "0-25"},
		{"mid short interest", 40, shortInterestBuckets, "25-50"},
		{"beyond top edge falls into top bucket", 130, shortInterestBuckets, "75-100"},
		{"days to cover", 3, daysToCoverBuckets, "2-5"},
		{"volume ratio boundary", 3, volumeRatioBuckets, "3-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bucketLabel(tt.value, tt.edges); got != tt.want {
				t.Errorf("bucketLabel(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestRangeCloseness(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		min   float64
		max   float64
		want  float64
	}{
		{"inside range", 35, 25, 40, 1.0},
		{"at lower bound", 25, 25, 40, 1.0},
		{"at upper bound", 40, 25, 40, 1.0},
		{"halfway into tolerance", 41.5, 25, 40, 0.5},
		{"beyond tolerance", 44, 25, 40, 0},
		{"below with tolerance", 23.5, 25, 40, 0.5},
		{"zero-width range misses", 12, 10, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rangeCloseness(tt.value, tt.min, tt.max)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("rangeCloseness(%v, [%v,%v]) = %v, want %v", tt.value, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestMatchScoreFullRangeMatch(t *testing.T) {
	// A stock at 35/3/4 against stored ranges [25,40]/[2,5]/[3,6] matches
	// every range dimension at 1.0 and must clear the 0.6 threshold
	pattern := &database.MarketPattern{
		ShortInterestMin: 25, ShortInterestMax: 40,
		DaysToCoverMin: 2, DaysToCoverMax: 5,
		VolumeRatioMin: 3, VolumeRatioMax: 6,
		PriceAction: "rising",
	}
	metrics := database.StockMetrics{
		ShortInterest: 35,
		DaysToCover:   3,
		VolumeRatio:   4,
	}

	score := matchScore(metrics, pattern)
	if score < 0.6 {
		t.Errorf("match score %v below the 0.6 threshold", score)
	}

	// Range dimensions contribute 0.30+0.25+0.20 plus the 0.10 neutral
	// term; flat vs rising price action scores half its 0.15 weight
	want := 0.30 + 0.25 + 0.20 + 0.15*0.5 + 0.10
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("match score = %v, want %v", score, want)
	}
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		name    string
		pattern database.MarketPattern
		want    string
	}{
		{
			"proven pattern is low risk",
			database.MarketPattern{SuccessRate: 0.75, AvgReturn: 0.12, Occurrences: 15},
			"low",
		},
		{
			"middling pattern is medium risk",
			database.MarketPattern{SuccessRate: 0.55, AvgReturn: 0.06, Occurrences: 6},
			"medium",
		},
		{
			"thin pattern is high risk",
			database.MarketPattern{SuccessRate: 0.8, AvgReturn: 0.2, Occurrences: 3},
			"high",
		},
		{
			"losing pattern is high risk",
			database.MarketPattern{SuccessRate: 0.3, AvgReturn: -0.02, Occurrences: 40},
			"high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := riskLevel(&tt.pattern); got != tt.want {
				t.Errorf("riskLevel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferPatternType(t *testing.T) {
	tests := []struct {
		meanSI float64
		want   string
	}{
		{45, database.PatternSqueezeSetup},
		{30, database.PatternSqueezeSetup},
		{20, database.PatternBreakout},
		{15, database.PatternBreakout},
		{8, database.PatternContinuation},
	}

	for _, tt := range tests {
		if got := inferPatternType(tt.meanSI); got != tt.want {
			t.Errorf("inferPatternType(%v) = %q, want %q", tt.meanSI, got, tt.want)
		}
	}
}

func TestUpdatePatternsCreatesAtMinimumOccurrences(t *testing.T) {
	store := newFakeStore()
	engine := NewPatternEngine(store, testConfig())

	// Five closed winners in the same feature bucket
	for i := 0; i < 5; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 35 + float64(i), DaysToCover: 3, VolumeRatio: 4, PriceChangePct: 5,
		}, database.OutcomeProfitable, 0.15, time.Now().AddDate(0, 0, -5))
	}
	// Only two in a different bucket: below the creation minimum
	for i := 0; i < 2; i++ {
		trackedRec(store, "KRTX", database.StockMetrics{
			Price: 10, ShortInterest: 60, DaysToCover: 12, VolumeRatio: 7, PriceChangePct: 5,
		}, database.OutcomeProfitable, 0.10, time.Now().AddDate(0, 0, -5))
	}

	created, err := engine.UpdatePatterns()
	if err != nil {
		t.Fatalf("UpdatePatterns() error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 new pattern, got %d: %v", len(created), created)
	}

	pattern, err := store.GetMarketPatternByName(created[0])
	if err != nil || pattern == nil {
		t.Fatalf("created pattern not persisted: %v", err)
	}
	if pattern.Occurrences != 5 {
		t.Errorf("occurrences = %d, want 5", pattern.Occurrences)
	}
	if pattern.PatternType != database.PatternSqueezeSetup {
		t.Errorf("pattern type = %q, want squeeze_setup for mean SI 37", pattern.PatternType)
	}
	if pattern.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0 for all-profitable group", pattern.SuccessRate)
	}
	if pattern.ShortInterestMin != 35 || pattern.ShortInterestMax != 39 {
		t.Errorf("short interest range [%v,%v], want [35,39]", pattern.ShortInterestMin, pattern.ShortInterestMax)
	}

	// confidence = (min(1, 5/20) + 1.0) / 2
	wantConfidence := (0.25 + 1.0) / 2
	if math.Abs(pattern.ConfidenceScore-wantConfidence) > 1e-9 {
		t.Errorf("confidence = %v, want %v", pattern.ConfidenceScore, wantConfidence)
	}
}

func TestUpdatePatternsIsIncremental(t *testing.T) {
	store := newFakeStore()
	engine := NewPatternEngine(store, testConfig())

	for i := 0; i < 6; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 35, DaysToCover: 3, VolumeRatio: 4, PriceChangePct: 5,
		}, database.OutcomeProfitable, 0.10, time.Now().AddDate(0, 0, -5))
	}

	if _, err := engine.UpdatePatterns(); err != nil {
		t.Fatalf("first UpdatePatterns() error: %v", err)
	}

	// A second refresh with no new closures must not double-count
	created, err := engine.UpdatePatterns()
	if err != nil {
		t.Fatalf("second UpdatePatterns() error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("second refresh created patterns again: %v", created)
	}

	patterns, _ := store.GetMarketPatterns()
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Occurrences != 6 {
		t.Errorf("occurrences = %d after refresh with no new data, want 6", patterns[0].Occurrences)
	}
}

func TestUpdatePatternsCreatesFromSlowFillingBucket(t *testing.T) {
	store := newFakeStore()
	engine := NewPatternEngine(store, testConfig())

	// Three closures land, a refresh runs, then two more arrive. The bucket
	// holds five occurrences inside the window, so the second refresh must
	// create the pattern even though neither batch reached five on its own.
	for i := 0; i < 3; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 35, DaysToCover: 3, VolumeRatio: 4, PriceChangePct: 5,
		}, database.OutcomeProfitable, 0.12, time.Now().AddDate(0, 0, -5))
	}

	created, err := engine.UpdatePatterns()
	if err != nil {
		t.Fatalf("first UpdatePatterns() error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("first refresh created patterns from 3 occurrences: %v", created)
	}

	for i := 0; i < 2; i++ {
		trackedRec(store, "GMSQ", database.StockMetrics{
			Price: 10, ShortInterest: 37, DaysToCover: 3, VolumeRatio: 4, PriceChangePct: 5,
		}, database.OutcomeProfitable, 0.10, time.Now().AddDate(0, 0, -2))
	}

	created, err = engine.UpdatePatterns()
	if err != nil {
		t.Fatalf("second UpdatePatterns() error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 pattern after the bucket reached 5, got %d: %v", len(created), created)
	}

	pattern, err := store.GetMarketPatternByName(created[0])
	if err != nil || pattern == nil {
		t.Fatalf("created pattern not persisted: %v", err)
	}
	if pattern.Occurrences != 5 {
		t.Errorf("occurrences = %d, want 5 from both batches", pattern.Occurrences)
	}

	// A follow-up refresh with nothing new must not fold the early closures
	// a second time
	created, err = engine.UpdatePatterns()
	if err != nil {
		t.Fatalf("third UpdatePatterns() error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("third refresh created patterns again: %v", created)
	}
	pattern, _ = store.GetMarketPatternByName("si_25-50_dtc_2-5_vr_3-5_profitable")
	if pattern.Occurrences != 5 {
		t.Errorf("occurrences = %d after refresh with no new data, want 5", pattern.Occurrences)
	}
}

func TestFoldObservationsKeepsGroupMeans(t *testing.T) {
	obs := make([]patternObservation, 9)
	for i := range obs {
		obs[i] = patternObservation{
			metrics:     database.StockMetrics{ShortInterest: 33, DaysToCover: 3, VolumeRatio: 4, PriceChangePct: 5},
			outcomeType: database.OutcomeProfitable,
			totalReturn: 0.10,
			holdDays:    5,
		}
	}
	pattern := buildPattern("si_25-50_dtc_2-5_vr_3-5_profitable", obs)
	if pattern.PatternType != database.PatternSqueezeSetup {
		t.Fatalf("pattern type = %q, want squeeze_setup at mean SI 33", pattern.PatternType)
	}

	// One outlier joins an established group: the group mean moves to
	// (33*9 + 5)/10 = 30.2, so the classification must hold
	foldObservations(pattern, []patternObservation{{
		metrics:     database.StockMetrics{ShortInterest: 5, DaysToCover: 1, VolumeRatio: 1, PriceChangePct: -20},
		outcomeType: database.OutcomeUnprofitable,
		totalReturn: -0.05,
		holdDays:    3,
	}})

	if pattern.Occurrences != 10 {
		t.Fatalf("occurrences = %d, want 10", pattern.Occurrences)
	}
	if math.Abs(pattern.MeanShortInterest-30.2) > 1e-9 {
		t.Errorf("mean short interest = %v, want 30.2", pattern.MeanShortInterest)
	}
	if pattern.PatternType != database.PatternSqueezeSetup {
		t.Errorf("one outlier flipped pattern type to %q", pattern.PatternType)
	}
	// Mean price change (5*9 - 20)/10 = 2.5 still reads as rising
	if pattern.PriceAction != "rising" {
		t.Errorf("one outlier flipped price action to %q", pattern.PriceAction)
	}

	// A second outlier drags the group mean to (30.2*10 + 5)/11 below 30,
	// and only then does the type move
	foldObservations(pattern, []patternObservation{{
		metrics:     database.StockMetrics{ShortInterest: 5, DaysToCover: 1, VolumeRatio: 1, PriceChangePct: -20},
		outcomeType: database.OutcomeUnprofitable,
		totalReturn: -0.05,
		holdDays:    3,
	}})
	if pattern.PatternType != database.PatternBreakout {
		t.Errorf("pattern type = %q after group mean fell below 30, want breakout", pattern.PatternType)
	}
}

func TestAnalyzeStockBlendsMemory(t *testing.T) {
	store := newFakeStore()
	engine := NewPatternEngine(store, testConfig())

	if err := store.SaveMarketPattern(&database.MarketPattern{
		PatternName:      "si_25-50_dtc_2-5_vr_3-5_profitable",
		PatternType:      database.PatternSqueezeSetup,
		ShortInterestMin: 25, ShortInterestMax: 40,
		DaysToCoverMin: 2, DaysToCoverMax: 5,
		VolumeRatioMin: 3, VolumeRatioMax: 6,
		PriceAction: "rising",
		Occurrences: 12, SuccessRate: 0.8, AvgReturn: 0.14, AvgHoldPeriodDays: 9,
	}); err != nil {
		t.Fatalf("SaveMarketPattern: %v", err)
	}

	store.memory["GMSQ"] = &database.StockMemory{
		StockSymbol:               "GMSQ",
		SuccessfulRecommendations: 2,
		FailedRecommendations:     2,
		AvgRecommendationReturn:   0.02,
	}

	analysis, err := engine.AnalyzeStock("GMSQ", database.StockMetrics{
		ShortInterest: 35, DaysToCover: 3, VolumeRatio: 4, PriceChangePct: 6,
	})
	if err != nil {
		t.Fatalf("AnalyzeStock() error: %v", err)
	}
	if len(analysis.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(analysis.Matches))
	}
	if analysis.Matches[0].MatchScore < 0.6 {
		t.Errorf("match score %v below threshold", analysis.Matches[0].MatchScore)
	}
	if analysis.Prediction == nil {
		t.Fatalf("expected a prediction")
	}

	// 70% pattern success rate (0.8) blended with 30% memory rate (0.5)
	wantProb := 0.7*0.8 + 0.3*0.5
	if math.Abs(analysis.Prediction.SuccessProbability-wantProb) > 1e-9 {
		t.Errorf("success probability = %v, want %v", analysis.Prediction.SuccessProbability, wantProb)
	}
}

func TestAnalyzeStockNoPatterns(t *testing.T) {
	engine := NewPatternEngine(newFakeStore(), testConfig())

	analysis, err := engine.AnalyzeStock("GMSQ", database.StockMetrics{ShortInterest: 35})
	if err != nil {
		t.Fatalf("AnalyzeStock() error: %v", err)
	}
	if len(analysis.Matches) != 0 || analysis.Prediction != nil {
		t.Errorf("expected an empty analysis, got %+v", analysis)
	}
}
