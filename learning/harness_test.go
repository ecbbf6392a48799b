package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"squeeze-radar/config"
	"squeeze-radar/database"
	"squeeze-radar/quotes"
)

// testConfig returns the default learning tunables used across the tests.
func testConfig() config.LearningConfig {
	return config.LearningConfig{
		TrackingIntervalMinutes:  60,
		SignificantMovePct:       10.0,
		MaxHoldDays:              30,
		VolatilityRangePct:       20.0,
		ProfitableThresholdPct:   5.0,
		UnprofitableThresholdPct: 5.0,

		OptimizationIntervalDays:  7,
		MinSamplesForOptimization: 20,
		MinSamplesForGate:         15,
		LearningRate:              0.1,
		MinImprovement:            0.05,

		MinPatternOccurrences: 5,
		PatternMatchThreshold: 0.6,
		PatternWindowDays:     30,
	}
}

// fakeStore is an in-memory Store for exercising the engine without a
// database.
type fakeStore struct {
	mu sync.Mutex

	nextID        int64
	recs          map[int64]*database.Recommendation
	memory        map[string]*database.StockMemory
	patterns      map[string]*database.MarketPattern
	conversations []*database.Conversation
	reports       []*database.OptimizationReport

	weights      database.StrategyWeights
	thresholds   database.StrategyThresholds
	published    int
	lastOptTime  time.Time
	memoryFolds  int
	outcomeSaves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recs:       make(map[int64]*database.Recommendation),
		memory:     make(map[string]*database.StockMemory),
		patterns:   make(map[string]*database.MarketPattern),
		weights:    database.DefaultWeights(),
		thresholds: database.DefaultThresholds(),
	}
}

func (f *fakeStore) SaveConversation(c *database.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, c)
	return nil
}

func (f *fakeStore) SaveRecommendation(r *database.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r.ID = f.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.OutcomeType == "" {
		r.OutcomeType = database.OutcomeUnknown
	}
	f.recs[r.ID] = r
	return nil
}

func (f *fakeStore) GetRecommendationByID(id int64) (*database.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) GetOpenRecommendations(limit int) ([]database.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Recommendation
	for _, rec := range f.recs {
		if rec.OutcomeTracked {
			continue
		}
		if rec.Action != database.ActionBuy && rec.Action != database.ActionSell {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetTrackedRecommendations(since time.Time) ([]database.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Recommendation
	for _, rec := range f.recs {
		if !rec.OutcomeTracked {
			continue
		}
		if !since.IsZero() && rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeStore) CountTrackedRecommendations() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, rec := range f.recs {
		if rec.OutcomeTracked {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) UpdateRecommendationOutcome(id int64, outcomeType string, outcomeReturn, maxGain, maxLoss float64, daysToOutcome int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.OutcomeTracked {
		return false, nil
	}
	now := time.Now()
	rec.OutcomeTracked = true
	rec.OutcomeType = outcomeType
	rec.OutcomeReturn = &outcomeReturn
	rec.OutcomeDate = &now
	rec.MaxGain = &maxGain
	rec.MaxLoss = &maxLoss
	rec.DaysToOutcome = &daysToOutcome
	f.outcomeSaves++
	return true, nil
}

func (f *fakeStore) GetStockMemory(symbol string) (*database.StockMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mem, ok := f.memory[symbol]
	if !ok {
		return nil, nil
	}
	cp := *mem
	return &cp, nil
}

func (f *fakeStore) ApplyOutcomeToMemory(symbol string, outcomeReturn float64, holdDays int, outcomeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mem, ok := f.memory[symbol]
	if !ok {
		mem = &database.StockMemory{StockSymbol: symbol}
		f.memory[symbol] = mem
	}
	mem.FoldOutcome(outcomeReturn, holdDays, outcomeType)
	f.memoryFolds++
	return nil
}

func (f *fakeStore) GetMarketPatterns() ([]database.MarketPattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.MarketPattern
	for _, p := range f.patterns {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) GetMarketPatternByName(name string) (*database.MarketPattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patterns[name]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SaveMarketPattern(p *database.MarketPattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.patterns[p.PatternName] = &cp
	return nil
}

func (f *fakeStore) GetActiveParameters() (*database.StrategyParameters, database.StrategyWeights, database.StrategyThresholds, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, f.weights, f.thresholds, nil
}

func (f *fakeStore) PublishParameters(weights database.StrategyWeights, thresholds database.StrategyThresholds, avgReturn, winRate float64, sampleSize int) (*database.StrategyParameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	f.weights = weights
	f.thresholds = thresholds
	return &database.StrategyParameters{Version: f.published + 1, Active: true}, nil
}

func (f *fakeStore) SaveOptimizationReport(r *database.OptimizationReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeStore) GetLastOptimizationTime() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptTime, nil
}

// fakeProvider serves fixed prices, or an error when a symbol is absent.
type fakeProvider struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{prices: make(map[string]float64)}
}

func (f *fakeProvider) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeProvider) GetQuote(ctx context.Context, symbol string) (*quotes.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &quotes.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

// fakeAnalytics serves canned aggregate summaries.
type fakeAnalytics struct {
	summary    database.PerformanceSummary
	recentRate float64
	recentN    int
}

func (f *fakeAnalytics) GetPerformanceSummary(since time.Time) (*database.PerformanceSummary, error) {
	cp := f.summary
	return &cp, nil
}

func (f *fakeAnalytics) GetRecentWinRate(days int) (float64, int, error) {
	return f.recentRate, f.recentN, nil
}

// trackedRec seeds one closed recommendation with a stored snapshot.
func trackedRec(f *fakeStore, symbol string, metrics database.StockMetrics, outcomeType string, outcomeReturn float64, createdAt time.Time) {
	snapshot := fmt.Sprintf(
		`{"price":%g,"short_interest":%g,"days_to_cover":%g,"borrow_rate":%g,"volume_ratio":%g,"float_millions":%g,"price_change_pct":%g}`,
		metrics.Price, metrics.ShortInterest, metrics.DaysToCover, metrics.BorrowRate,
		metrics.VolumeRatio, metrics.FloatMillions, metrics.PriceChangePct,
	)
	now := time.Now()
	days := 5
	f.mu.Lock()
	f.nextID++
	f.recs[f.nextID] = &database.Recommendation{
		ID:               f.nextID,
		Action:           database.ActionBuy,
		StockSymbol:      symbol,
		Confidence:       0.8,
		MarketConditions: snapshot,
		CreatedAt:        createdAt,
		OutcomeTracked:   true,
		OutcomeType:      outcomeType,
		OutcomeReturn:    &outcomeReturn,
		OutcomeDate:      &now,
		DaysToOutcome:    &days,
	}
	f.mu.Unlock()
}
