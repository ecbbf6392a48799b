package learning

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"squeeze-radar/config"
	"squeeze-radar/database"
)

// Normalization ranges for the primary metrics. Values clamp-linear scale to
// [0,1] across these bands; the per-metric threshold gates the sub-score to
// zero below it.
const (
	shortInterestRangeMin = 10.0
	shortInterestRangeMax = 80.0
	daysToCoverRangeMin   = 1.0
	daysToCoverRangeMax   = 15.0
	borrowRateRangeMin    = 5.0
	borrowRateRangeMax    = 100.0
	volumeRatioRangeMin   = 1.0
	volumeRatioRangeMax   = 8.0

	// Momentum normalizes recent price change across this band
	momentumRangeMax = 10.0

	// Optimization window and sizing
	optimizationWindowDays = 90
	fullConfidenceSamples  = 30
	maxPrimaryWeight       = 0.40
)

// Threshold clamp bands applied after re-deriving thresholds from the
// profitable split.
const (
	minShortInterestFloor = 5.0
	minShortInterestCeil  = 50.0
	minDaysToCoverFloor   = 0.5
	minDaysToCoverCeil    = 10.0
	minVolumeRatioFloor   = 0.5
	minVolumeRatioCeil    = 5.0
)

// AdaptiveScorer computes the 0-100 squeeze score from market metrics and the
// active strategy parameters, and derives candidate parameter sets from
// tracked outcomes.
type AdaptiveScorer struct {
	store Store
	cfg   config.LearningConfig
}

// NewAdaptiveScorer creates a new scorer
func NewAdaptiveScorer(store Store, cfg config.LearningConfig) *AdaptiveScorer {
	return &AdaptiveScorer{store: store, cfg: cfg}
}

// CalculateScore returns the squeeze score in [0,100] for the given metrics
// under the given weights and thresholds.
func (s *AdaptiveScorer) CalculateScore(metrics database.StockMetrics, weights database.StrategyWeights, thresholds database.StrategyThresholds) int {
	siScore := normalizeGated(metrics.ShortInterest, thresholds.MinShortInterest, shortInterestRangeMin, shortInterestRangeMax)
	dtcScore := normalizeGated(metrics.DaysToCover, thresholds.MinDaysToCover, daysToCoverRangeMin, daysToCoverRangeMax)
	brScore := normalizeGated(metrics.BorrowRate, thresholds.MinBorrowRate, borrowRateRangeMin, borrowRateRangeMax)
	vrScore := normalizeGated(metrics.VolumeRatio, thresholds.MinVolumeRatio, volumeRatioRangeMin, volumeRatioRangeMax)
	floatScore := floatSizeScore(metrics.FloatMillions)
	paScore := priceActionScore(metrics)
	momScore := momentumScore(metrics.PriceChangePct)

	total := siScore*weights.ShortInterest +
		dtcScore*weights.DaysToCover +
		brScore*weights.BorrowRate +
		vrScore*weights.VolumeRatio +
		floatScore*weights.FloatSize +
		paScore*weights.PriceAction +
		momScore*weights.Momentum

	score := total * 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

// normalizeGated clamp-linear scales value across [min,max], returning 0 when
// value is below the configured threshold.
func normalizeGated(value, threshold, min, max float64) float64 {
	if value < threshold {
		return 0
	}
	if value <= min {
		return 0
	}
	if value >= max {
		return 1
	}
	return (value - min) / (max - min)
}

// floatSizeScore maps float size (millions of shares) onto a four-tier step;
// smaller floats squeeze harder. A non-positive float means the figure is
// unknown and contributes nothing.
func floatSizeScore(floatMillions float64) float64 {
	switch {
	case floatMillions <= 0:
		return 0
	case floatMillions <= 20:
		return 1.0
	case floatMillions <= 50:
		return 0.75
	case floatMillions <= 150:
		return 0.5
	default:
		return 0.25
	}
}

// priceActionScore starts from a 0.5 base and adds independent bonuses for a
// meaningful recent move and volume confirmation, capped at 1.0. Without a
// valid price there is no price action to score.
func priceActionScore(metrics database.StockMetrics) float64 {
	if metrics.Price <= 0 {
		return 0
	}

	score := 0.5
	if metrics.PriceChangePct > 2 {
		score += 0.3
	}
	if metrics.VolumeRatio > 2 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// momentumScore clamp-linear scales recent price change; flat or falling
// contributes nothing.
func momentumScore(priceChangePct float64) float64 {
	if priceChangePct <= 0 {
		return 0
	}
	if priceChangePct >= momentumRangeMax {
		return 1
	}
	return priceChangePct / momentumRangeMax
}

// ParameterCandidate is the result of one optimization pass: a proposed
// weight/threshold set with its backtested improvement over the active set.
type ParameterCandidate struct {
	Skipped    bool
	SkipReason string

	Weights    database.StrategyWeights
	Thresholds database.StrategyThresholds

	CurrentAvgReturn   float64
	CandidateAvgReturn float64
	Improvement        float64
	Confidence         float64
	SampleSize         int
	Changes            []string
}

// metricMeans holds per-split means of the three primary metrics.
type metricMeans struct {
	shortInterest float64
	daysToCover   float64
	volumeRatio   float64
	count         int
}

// OptimizeParameters derives a candidate parameter set from the last 90 days
// of tracked outcomes and backtests it against the stored market-condition
// snapshots. The caller decides adoption; this never publishes anything.
func (s *AdaptiveScorer) OptimizeParameters() (*ParameterCandidate, error) {
	since := time.Now().AddDate(0, 0, -optimizationWindowDays)
	recs, err := s.store.GetTrackedRecommendations(since)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked recommendations: %w", err)
	}

	if len(recs) < s.cfg.MinSamplesForOptimization {
		return &ParameterCandidate{
			Skipped:    true,
			SkipReason: fmt.Sprintf("insufficient samples: %d tracked in window, need %d", len(recs), s.cfg.MinSamplesForOptimization),
			SampleSize: len(recs),
		}, nil
	}

	_, weights, thresholds, err := s.store.GetActiveParameters()
	if err != nil {
		return nil, fmt.Errorf("failed to load active parameters: %w", err)
	}

	profitable, unprofitable := splitByOutcome(recs)
	if profitable.count == 0 {
		return &ParameterCandidate{
			Skipped:    true,
			SkipReason: "no profitable outcomes in window to learn from",
			SampleSize: len(recs),
		}, nil
	}

	candidate := weights
	var changes []string

	// Nudge each primary metric's weight toward the side that discriminates
	// winners from losers
	step := s.cfg.LearningRate * 0.1
	if profitable.shortInterest > unprofitable.shortInterest {
		candidate.ShortInterest = capWeight(candidate.ShortInterest + step)
		changes = append(changes, fmt.Sprintf("short_interest weight %.3f -> %.3f", weights.ShortInterest, candidate.ShortInterest))
	}
	if profitable.daysToCover > unprofitable.daysToCover {
		candidate.DaysToCover = capWeight(candidate.DaysToCover + step)
		changes = append(changes, fmt.Sprintf("days_to_cover weight %.3f -> %.3f", weights.DaysToCover, candidate.DaysToCover))
	}
	if profitable.volumeRatio > unprofitable.volumeRatio {
		candidate.VolumeRatio = capWeight(candidate.VolumeRatio + step)
		changes = append(changes, fmt.Sprintf("volume_ratio weight %.3f -> %.3f", weights.VolumeRatio, candidate.VolumeRatio))
	}

	candidate = renormalizeWeights(candidate)

	// Re-derive thresholds at 80% of the profitable split's means, clamped
	// to the per-metric sane band
	candThresholds := thresholds
	candThresholds.MinShortInterest = clamp(profitable.shortInterest*0.8, minShortInterestFloor, minShortInterestCeil)
	candThresholds.MinDaysToCover = clamp(profitable.daysToCover*0.8, minDaysToCoverFloor, minDaysToCoverCeil)
	candThresholds.MinVolumeRatio = clamp(profitable.volumeRatio*0.8, minVolumeRatioFloor, minVolumeRatioCeil)

	currentAvg := s.backtest(recs, weights, thresholds)
	candidateAvg := s.backtest(recs, candidate, candThresholds)

	confidence := 0.8 * math.Min(1, float64(len(recs))/fullConfidenceSamples)

	result := &ParameterCandidate{
		Weights:            candidate,
		Thresholds:         candThresholds,
		CurrentAvgReturn:   currentAvg,
		CandidateAvgReturn: candidateAvg,
		Improvement:        candidateAvg - currentAvg,
		Confidence:         confidence,
		SampleSize:         len(recs),
		Changes:            changes,
	}

	log.Printf("📊 Parameter search: %d samples, current avg %.4f, candidate avg %.4f, improvement %.4f",
		len(recs), currentAvg, candidateAvg, result.Improvement)

	return result, nil
}

// splitByOutcome computes primary-metric means over the profitable and
// unprofitable splits of a tracked set. Recommendations without a stored
// snapshot are skipped.
func splitByOutcome(recs []database.Recommendation) (profitable, unprofitable metricMeans) {
	var pSum, uSum metricMeans
	for _, rec := range recs {
		metrics, ok := snapshotMetrics(rec)
		if !ok {
			continue
		}
		switch rec.OutcomeType {
		case database.OutcomeProfitable:
			pSum.shortInterest += metrics.ShortInterest
			pSum.daysToCover += metrics.DaysToCover
			pSum.volumeRatio += metrics.VolumeRatio
			pSum.count++
		case database.OutcomeUnprofitable:
			uSum.shortInterest += metrics.ShortInterest
			uSum.daysToCover += metrics.DaysToCover
			uSum.volumeRatio += metrics.VolumeRatio
			uSum.count++
		}
	}

	if pSum.count > 0 {
		n := float64(pSum.count)
		profitable = metricMeans{pSum.shortInterest / n, pSum.daysToCover / n, pSum.volumeRatio / n, pSum.count}
	}
	if uSum.count > 0 {
		n := float64(uSum.count)
		unprofitable = metricMeans{uSum.shortInterest / n, uSum.daysToCover / n, uSum.volumeRatio / n, uSum.count}
	}
	return profitable, unprofitable
}

// backtest re-scores every stored snapshot under the given parameters and
// averages realized return across the recommendations that clear the minimum
// score. No passing recommendations means the parameter set selects nothing
// and averages zero.
func (s *AdaptiveScorer) backtest(recs []database.Recommendation, weights database.StrategyWeights, thresholds database.StrategyThresholds) float64 {
	var sum float64
	var count int
	for _, rec := range recs {
		if rec.OutcomeReturn == nil {
			continue
		}
		metrics, ok := snapshotMetrics(rec)
		if !ok {
			continue
		}
		if float64(s.CalculateScore(metrics, weights, thresholds)) < thresholds.MinScore {
			continue
		}
		sum += *rec.OutcomeReturn
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// snapshotMetrics decodes a recommendation's stored market-condition snapshot.
func snapshotMetrics(rec database.Recommendation) (database.StockMetrics, bool) {
	if rec.MarketConditions == "" {
		return database.StockMetrics{}, false
	}
	var metrics database.StockMetrics
	if err := json.Unmarshal([]byte(rec.MarketConditions), &metrics); err != nil {
		log.Printf("⚠️  Corrupt market conditions on recommendation %d (%s): %v", rec.ID, rec.StockSymbol, err)
		return database.StockMetrics{}, false
	}
	return metrics, true
}

// renormalizeWeights rescales all seven weights so they sum to exactly 1.0.
func renormalizeWeights(w database.StrategyWeights) database.StrategyWeights {
	sum := w.Sum()
	if sum <= 0 {
		return database.DefaultWeights()
	}
	return database.StrategyWeights{
		ShortInterest: w.ShortInterest / sum,
		DaysToCover:   w.DaysToCover / sum,
		BorrowRate:    w.BorrowRate / sum,
		VolumeRatio:   w.VolumeRatio / sum,
		FloatSize:     w.FloatSize / sum,
		PriceAction:   w.PriceAction / sum,
		Momentum:      w.Momentum / sum,
	}
}

func capWeight(w float64) float64 {
	if w > maxPrimaryWeight {
		return maxPrimaryWeight
	}
	return w
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
