package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Quote provider configuration
	Quotes QuotesConfig

	// Learning engine configuration
	Learning LearningConfig

	// API server
	APIPort int
}

// QuotesConfig holds market data provider configuration
type QuotesConfig struct {
	StreamURL string
	RESTURL   string
	APIKey    string
	// Symbols to subscribe on the stream at startup; tracked symbols are
	// added dynamically.
	WatchSymbols []string
}

// LearningConfig holds the learning engine tunables and thresholds
type LearningConfig struct {
	// Outcome tracking
	TrackingIntervalMinutes  int     // Periodic outcome sweep interval
	SignificantMovePct       float64 // |return| that closes an outcome (percent)
	MaxHoldDays              int     // Age that closes an outcome regardless of move
	VolatilityRangePct       float64 // Peak-to-trough range (pct of entry) that closes
	ProfitableThresholdPct   float64 // Return classified as profitable
	UnprofitableThresholdPct float64 // Return classified as unprofitable (positive value)

	// Optimization
	OptimizationIntervalDays  int     // Nominal days between optimization runs
	MinSamplesForOptimization int     // Scorer parameter search guard
	MinSamplesForGate         int     // StrategyOptimizer run gate
	LearningRate              float64 // Weight nudge scale
	MinImprovement            float64 // Backtest improvement required to adopt

	// Pattern engine
	MinPatternOccurrences int     // Bucket size before a pattern is created
	PatternMatchThreshold float64 // Minimum match score returned by AnalyzeStock
	PatternWindowDays     int     // Lookback window for pattern refresh
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "squeeze_radar"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "squeeze"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "squeeze123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		Quotes: QuotesConfig{
			StreamURL:    getEnvOrDefault("QUOTES_WS_URL", "wss://stream.marketdata.example.com/v1/ws"),
			RESTURL:      getEnvOrDefault("QUOTES_REST_URL", "https://api.marketdata.example.com"),
			APIKey:       getEnvOrDefault("QUOTES_API_KEY", ""),
			WatchSymbols: splitSymbols(getEnvOrDefault("QUOTES_WATCH_SYMBOLS", "")),
		},

		Learning: LearningConfig{
			TrackingIntervalMinutes:  getEnvInt("LEARNING_TRACKING_INTERVAL_MIN", 60),
			SignificantMovePct:       getEnvFloat("LEARNING_SIGNIFICANT_MOVE_PCT", 10.0),
			MaxHoldDays:              getEnvInt("LEARNING_MAX_HOLD_DAYS", 30),
			VolatilityRangePct:       getEnvFloat("LEARNING_VOLATILITY_RANGE_PCT", 20.0),
			ProfitableThresholdPct:   getEnvFloat("LEARNING_PROFITABLE_PCT", 5.0),
			UnprofitableThresholdPct: getEnvFloat("LEARNING_UNPROFITABLE_PCT", 5.0),

			OptimizationIntervalDays:  getEnvInt("LEARNING_OPTIMIZATION_INTERVAL_DAYS", 7),
			MinSamplesForOptimization: getEnvInt("LEARNING_MIN_SAMPLES_OPTIMIZE", 20),
			MinSamplesForGate:         getEnvInt("LEARNING_MIN_SAMPLES_GATE", 15),
			LearningRate:              getEnvFloat("LEARNING_RATE", 0.1),
			MinImprovement:            getEnvFloat("LEARNING_MIN_IMPROVEMENT", 0.05),

			MinPatternOccurrences: getEnvInt("LEARNING_MIN_PATTERN_OCCURRENCES", 5),
			PatternMatchThreshold: getEnvFloat("LEARNING_PATTERN_MATCH_THRESHOLD", 0.6),
			PatternWindowDays:     getEnvInt("LEARNING_PATTERN_WINDOW_DAYS", 30),
		},

		APIPort: getEnvInt("API_PORT", 8080),
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitSymbols parses a comma-separated symbol list, uppercasing and
// dropping empty entries
func splitSymbols(value string) []string {
	if value == "" {
		return nil
	}
	var symbols []string
	for _, s := range strings.Split(value, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}
