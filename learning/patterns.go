package learning

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"squeeze-radar/config"
	"squeeze-radar/database"
)

// Feature bucket edges for pattern grouping. Values beyond the last edge fall
// into the top bucket.
var (
	shortInterestBuckets = []float64{0, 25, 50, 75, 100}
	daysToCoverBuckets   = []float64{0, 2, 5, 10, 20}
	volumeRatioBuckets   = []float64{0, 1.5, 3, 5, 10}
)

// Match weighting for AnalyzeStock
const (
	matchWeightShortInterest = 0.30
	matchWeightDaysToCover   = 0.25
	matchWeightVolumeRatio   = 0.20
	matchWeightPriceAction   = 0.15
	matchWeightNeutral       = 0.10

	// Range closeness decays to zero over this fraction of the range width
	// outside the stored bounds
	rangeTolerance = 0.20

	// Pattern confidence saturates at this many occurrences
	confidenceSaturation = 20

	// Prediction blend: pattern outlook vs the symbol's own history
	patternBlendWeight = 0.70
	memoryBlendWeight  = 0.30
)

// PatternMatch is one known pattern matched against a live stock, annotated
// with the pattern's historical outlook.
type PatternMatch struct {
	PatternName      string  `json:"pattern_name"`
	PatternType      string  `json:"pattern_type"`
	MatchScore       float64 `json:"match_score"`
	ExpectedReturn   float64 `json:"expected_return"`
	Probability      float64 `json:"probability"`
	ExpectedHoldDays float64 `json:"expected_hold_days"`
	RiskLevel        string  `json:"risk_level"`
}

// StockPrediction is the blended outlook for a stock: the match-weighted
// pattern view combined with the symbol's own tracked history.
type StockPrediction struct {
	ExpectedReturn     float64 `json:"expected_return"`
	SuccessProbability float64 `json:"success_probability"`
	Confidence         float64 `json:"confidence"`
}

// StockAnalysis is the result of matching a stock against known patterns.
type StockAnalysis struct {
	Symbol     string           `json:"symbol"`
	Matches    []PatternMatch   `json:"matches"`
	Prediction *StockPrediction `json:"prediction,omitempty"`
}

// patternObservation is one closed outcome contributing to a bucket group.
type patternObservation struct {
	metrics     database.StockMetrics
	outcomeType string
	totalReturn float64
	holdDays    int
}

// PatternEngine clusters tracked outcomes into named market patterns and
// matches live stocks against them.
type PatternEngine struct {
	store Store
	cfg   config.LearningConfig

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewPatternEngine creates a new pattern engine
func NewPatternEngine(store Store, cfg config.LearningConfig) *PatternEngine {
	return &PatternEngine{store: store, cfg: cfg}
}

// bucketLabel returns the "lo-hi" label of the bucket containing value.
func bucketLabel(value float64, edges []float64) string {
	for i := 1; i < len(edges); i++ {
		if value < edges[i] {
			return fmt.Sprintf("%g-%g", edges[i-1], edges[i])
		}
	}
	return fmt.Sprintf("%g-%g", edges[len(edges)-2], edges[len(edges)-1])
}

// patternName builds the stable bucket key a group of outcomes maps to.
func patternName(metrics database.StockMetrics, outcomeType string) string {
	return fmt.Sprintf("si_%s_dtc_%s_vr_%s_%s",
		bucketLabel(metrics.ShortInterest, shortInterestBuckets),
		bucketLabel(metrics.DaysToCover, daysToCoverBuckets),
		bucketLabel(metrics.VolumeRatio, volumeRatioBuckets),
		outcomeType,
	)
}

// UpdatePatterns refreshes the pattern set from the tracked outcomes in the
// lookback window. A bucket with no pattern yet is judged against every
// outcome in the window, so a bucket that fills slowly across refreshes still
// becomes a pattern the moment it holds the minimum occurrence count; an
// existing pattern absorbs only outcomes closed since the last refresh and is
// never rebuilt from scratch. Returns the names of newly created patterns.
func (e *PatternEngine) UpdatePatterns() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	windowStart := time.Now().AddDate(0, 0, -e.cfg.PatternWindowDays)
	since := windowStart
	if e.lastRefresh.After(since) {
		since = e.lastRefresh
	}
	refreshStarted := time.Now()

	recs, err := e.store.GetTrackedRecommendations(windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked recommendations: %w", err)
	}

	// Every window outcome by bucket key, plus the not-yet-folded subset
	windowGroups := make(map[string][]patternObservation)
	freshGroups := make(map[string][]patternObservation)
	for _, rec := range recs {
		if rec.OutcomeDate == nil || rec.OutcomeReturn == nil {
			continue
		}
		metrics, ok := snapshotMetrics(rec)
		if !ok {
			continue
		}
		holdDays := 0
		if rec.DaysToOutcome != nil {
			holdDays = *rec.DaysToOutcome
		}
		obs := patternObservation{
			metrics:     metrics,
			outcomeType: rec.OutcomeType,
			totalReturn: *rec.OutcomeReturn,
			holdDays:    holdDays,
		}
		name := patternName(metrics, rec.OutcomeType)
		windowGroups[name] = append(windowGroups[name], obs)
		if rec.OutcomeDate.After(since) {
			freshGroups[name] = append(freshGroups[name], obs)
		}
	}

	var created []string
	for name, all := range windowGroups {
		existing, err := e.store.GetMarketPatternByName(name)
		if err != nil {
			log.Printf("⚠️  Failed to load pattern %s: %v", name, err)
			continue
		}

		if existing == nil {
			if len(all) < e.cfg.MinPatternOccurrences {
				continue
			}
			pattern := buildPattern(name, all)
			if err := e.store.SaveMarketPattern(pattern); err != nil {
				log.Printf("⚠️  Failed to save new pattern %s: %v", name, err)
				continue
			}
			created = append(created, name)
			log.Printf("✅ New market pattern %s (%s, %d occurrences)", name, pattern.PatternType, pattern.Occurrences)
			continue
		}

		fresh := freshGroups[name]
		if len(fresh) == 0 {
			continue
		}
		foldObservations(existing, fresh)
		if err := e.store.SaveMarketPattern(existing); err != nil {
			log.Printf("⚠️  Failed to update pattern %s: %v", name, err)
		}
	}

	e.lastRefresh = refreshStarted
	return created, nil
}

// buildPattern constructs a fresh pattern from a bucket group.
func buildPattern(name string, obs []patternObservation) *database.MarketPattern {
	p := &database.MarketPattern{
		PatternName:      name,
		ShortInterestMin: obs[0].metrics.ShortInterest,
		ShortInterestMax: obs[0].metrics.ShortInterest,
		DaysToCoverMin:   obs[0].metrics.DaysToCover,
		DaysToCoverMax:   obs[0].metrics.DaysToCover,
		VolumeRatioMin:   obs[0].metrics.VolumeRatio,
		VolumeRatioMax:   obs[0].metrics.VolumeRatio,
	}
	foldObservations(p, obs)
	return p
}

// foldObservations absorbs new observations into a pattern using running-mean
// updates and min/max range extension. Pattern type and price action derive
// from the group's running means, so one new batch cannot flip an established
// pattern's classification on its own.
func foldObservations(p *database.MarketPattern, obs []patternObservation) {
	for _, o := range obs {
		n := float64(p.Occurrences)

		win := 0.0
		if o.outcomeType == database.OutcomeProfitable {
			win = 1.0
		}
		p.SuccessRate = (p.SuccessRate*n + win) / (n + 1)
		p.AvgReturn = (p.AvgReturn*n + o.totalReturn) / (n + 1)
		p.AvgHoldPeriodDays = (p.AvgHoldPeriodDays*n + float64(o.holdDays)) / (n + 1)
		p.MeanShortInterest = (p.MeanShortInterest*n + o.metrics.ShortInterest) / (n + 1)
		p.MeanPriceChange = (p.MeanPriceChange*n + o.metrics.PriceChangePct) / (n + 1)
		p.Occurrences++

		p.ShortInterestMin = math.Min(p.ShortInterestMin, o.metrics.ShortInterest)
		p.ShortInterestMax = math.Max(p.ShortInterestMax, o.metrics.ShortInterest)
		p.DaysToCoverMin = math.Min(p.DaysToCoverMin, o.metrics.DaysToCover)
		p.DaysToCoverMax = math.Max(p.DaysToCoverMax, o.metrics.DaysToCover)
		p.VolumeRatioMin = math.Min(p.VolumeRatioMin, o.metrics.VolumeRatio)
		p.VolumeRatioMax = math.Max(p.VolumeRatioMax, o.metrics.VolumeRatio)
	}

	p.PatternType = inferPatternType(p.MeanShortInterest)
	p.PriceAction = priceActionLabel(p.MeanPriceChange)
	p.ConfidenceScore = (math.Min(1, float64(p.Occurrences)/confidenceSaturation) + p.SuccessRate) / 2
}

// inferPatternType classifies a pattern by its mean short interest.
func inferPatternType(meanShortInterest float64) string {
	switch {
	case meanShortInterest >= 30:
		return database.PatternSqueezeSetup
	case meanShortInterest >= 15:
		return database.PatternBreakout
	default:
		return database.PatternContinuation
	}
}

// priceActionLabel describes the directional tendency of a price change.
func priceActionLabel(priceChangePct float64) string {
	switch {
	case priceChangePct > 1:
		return "rising"
	case priceChangePct < -1:
		return "falling"
	default:
		return "mixed"
	}
}

// AnalyzeStock matches a stock's metrics against every known pattern and
// blends the outlook of the qualifying matches with the symbol's own history.
func (e *PatternEngine) AnalyzeStock(symbol string, metrics database.StockMetrics) (*StockAnalysis, error) {
	patterns, err := e.store.GetMarketPatterns()
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns for %s: %w", symbol, err)
	}

	var matches []PatternMatch
	for _, p := range patterns {
		score := matchScore(metrics, &p)
		if score < e.cfg.PatternMatchThreshold {
			continue
		}
		matches = append(matches, PatternMatch{
			PatternName:      p.PatternName,
			PatternType:      p.PatternType,
			MatchScore:       score,
			ExpectedReturn:   p.AvgReturn,
			Probability:      p.SuccessRate,
			ExpectedHoldDays: p.AvgHoldPeriodDays,
			RiskLevel:        riskLevel(&p),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})

	analysis := &StockAnalysis{Symbol: symbol, Matches: matches}
	if len(matches) > 0 {
		analysis.Prediction = e.buildPrediction(symbol, matches)
	}
	return analysis, nil
}

// matchScore computes the weighted closeness of metrics to a stored pattern.
func matchScore(metrics database.StockMetrics, p *database.MarketPattern) float64 {
	siScore := rangeCloseness(metrics.ShortInterest, p.ShortInterestMin, p.ShortInterestMax)
	dtcScore := rangeCloseness(metrics.DaysToCover, p.DaysToCoverMin, p.DaysToCoverMax)
	vrScore := rangeCloseness(metrics.VolumeRatio, p.VolumeRatioMin, p.VolumeRatioMax)
	paScore := priceActionMatch(metrics.PriceChangePct, p.PriceAction)

	return siScore*matchWeightShortInterest +
		dtcScore*matchWeightDaysToCover +
		vrScore*matchWeightVolumeRatio +
		paScore*matchWeightPriceAction +
		1.0*matchWeightNeutral
}

// rangeCloseness is 1.0 inside [min,max] and decays linearly to 0 over a
// tolerance of 20% of the range width outside it.
func rangeCloseness(value, min, max float64) float64 {
	if value >= min && value <= max {
		return 1.0
	}

	tolerance := rangeTolerance * (max - min)
	if tolerance <= 0 {
		return 0
	}

	var distance float64
	if value < min {
		distance = min - value
	} else {
		distance = value - max
	}
	if distance >= tolerance {
		return 0
	}
	return 1 - distance/tolerance
}

// priceActionMatch compares the stock's direction to the pattern's label.
func priceActionMatch(priceChangePct float64, patternAction string) float64 {
	stockAction := priceActionLabel(priceChangePct)
	switch {
	case stockAction == patternAction:
		return 1.0
	case patternAction == "mixed" || stockAction == "mixed":
		return 0.5
	default:
		return 0
	}
}

// riskLevel grades a pattern by how proven it is.
func riskLevel(p *database.MarketPattern) string {
	switch {
	case p.SuccessRate >= 0.7 && p.AvgReturn >= 0.10 && p.Occurrences >= 10:
		return "low"
	case p.SuccessRate >= 0.5 && p.AvgReturn >= 0.05 && p.Occurrences >= 5:
		return "medium"
	default:
		return "high"
	}
}

// buildPrediction weights each qualifying match by its score, then blends the
// pattern outlook 70/30 with the symbol's own tracked history.
func (e *PatternEngine) buildPrediction(symbol string, matches []PatternMatch) *StockPrediction {
	var weightSum, returnSum, probSum, confSum float64
	for _, m := range matches {
		weightSum += m.MatchScore
		returnSum += m.MatchScore * m.ExpectedReturn
		probSum += m.MatchScore * m.Probability
		confSum += m.MatchScore
	}
	if weightSum == 0 {
		return nil
	}

	pred := &StockPrediction{
		ExpectedReturn:     returnSum / weightSum,
		SuccessProbability: probSum / weightSum,
		Confidence:         math.Min(1, confSum/float64(len(matches))),
	}

	mem, err := e.store.GetStockMemory(symbol)
	if err != nil {
		log.Printf("⚠️  Failed to load stock memory for %s: %v", symbol, err)
		return pred
	}
	if mem != nil && mem.ClosedOutcomes() > 0 {
		pred.SuccessProbability = patternBlendWeight*pred.SuccessProbability + memoryBlendWeight*mem.SuccessRate()
		pred.ExpectedReturn = patternBlendWeight*pred.ExpectedReturn + memoryBlendWeight*mem.AvgRecommendationReturn
	}

	return pred
}
