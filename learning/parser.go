// Package learning implements the adaptive recommendation engine: parsing
// structured recommendations out of free-text assistant output, scoring
// stocks against versioned strategy parameters, tracking real-world outcomes,
// clustering outcomes into reusable patterns, and periodically re-tuning the
// scoring parameters from accumulated evidence.
package learning

import (
	"regexp"
	"strings"

	"squeeze-radar/database"
)

// ParsedRecommendation is one structured recommendation extracted from a
// free-text message.
type ParsedRecommendation struct {
	Symbol       string   `json:"symbol"`
	Action       string   `json:"action"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	PriceTargets []string `json:"price_targets,omitempty"`
	Timeframe    string   `json:"timeframe,omitempty"`
}

// contextWindow bounds how much surrounding text is considered when
// classifying a symbol mention.
const contextWindow = 150

// Confidence assigned by action class, before the intensifier boost.
const (
	confidenceBuy      = 0.80
	confidenceSell     = 0.70
	confidenceHold     = 0.60
	confidenceWatch    = 0.60
	confidenceAnalysis = 0.50

	intensifierBoost = 0.15
	confidenceCap    = 0.95
)

var (
	symbolPattern      = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	priceTargetPattern = regexp.MustCompile(`\$\d+(?:\.\d+)?`)
	pctTargetPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?%`)
)

// symbolStopList filters uppercase tokens that are common words or market
// jargon rather than tickers.
var symbolStopList = map[string]bool{
	"AI": true, "AM": true, "AN": true, "AS": true, "AT": true, "BE": true,
	"BY": true, "DO": true, "GO": true, "IF": true, "IN": true, "IS": true,
	"IT": true, "MY": true, "NO": true, "OF": true, "OK": true, "ON": true,
	"OR": true, "PM": true, "SO": true, "TO": true, "UP": true, "US": true,
	"WE": true,
	"ALL": true, "AND": true, "ANY": true, "ARE": true, "ATH": true,
	"BUT": true, "BUY": true, "CAN": true, "CEO": true, "CFO": true,
	"DAY": true, "DIP": true, "EPS": true, "ETF": true, "EOD": true,
	"FAQ": true, "FOR": true, "GET": true, "HAS": true, "HER": true,
	"HIS": true, "HOW": true, "IPO": true, "ITS": true, "LOW": true,
	"NEW": true, "NOT": true, "NOW": true, "ONE": true, "OUT": true,
	"OWN": true, "PUT": true, "SEC": true, "SEE": true, "THE": true,
	"TOP": true, "USA": true, "USD": true, "WAS": true, "WHO": true,
	"WHY": true, "YES": true, "YOU": true,
	"ALSO": true, "BEAR": true, "BEST": true, "BOTH": true, "BULL": true,
	"CALL": true, "DOWN": true, "EDIT": true, "EVEN": true, "FROM": true,
	"GAIN": true, "GOOD": true, "HAVE": true, "HIGH": true, "HOLD": true,
	"INTO": true, "JUST": true, "LONG": true, "LOSS": true, "MORE": true,
	"MOST": true, "MUCH": true, "NEXT": true, "NYSE": true, "ONLY": true,
	"OVER": true, "PUTS": true, "RISK": true, "SELL": true, "SOME": true,
	"SOON": true, "STOP": true, "THAN": true, "THAT": true, "THEM": true,
	"THEN": true, "THEY": true, "THIS": true, "TIME": true, "VERY": true,
	"WEEK": true, "WELL": true, "WHAT": true, "WHEN": true, "WILL": true,
	"WITH": true, "YOLO": true, "YOUR": true,
	"ABOUT": true, "AFTER": true, "COULD": true, "FLOAT": true,
	"LARGE": true, "LOWER": true, "MIGHT": true, "MONTH": true,
	"PRICE": true, "SHARE": true, "SHORT": true, "SMALL": true,
	"STILL": true, "STOCK": true, "THEIR": true, "THERE": true,
	"THESE": true, "TODAY": true, "UPPER": true, "WATCH": true,
	"WHERE": true, "WHICH": true, "WHILE": true, "WOULD": true,
}

// actionRule is one priority-ordered classifier: the first rule whose keyword
// set intersects the context window decides the action.
type actionRule struct {
	action     string
	confidence float64
	keywords   []string
}

// classifierRules in fixed priority order; analysis is the fallback when no
// rule matches.
var classifierRules = []actionRule{
	{
		action:     database.ActionBuy,
		confidence: confidenceBuy,
		keywords: []string{
			"buy", "buying", "accumulate", "add to", "entry point",
			"go long", "bullish", "undervalued", "load up", "scoop up",
		},
	},
	{
		action:     database.ActionSell,
		confidence: confidenceSell,
		keywords: []string{
			"sell", "selling", "exit", "take profit", "trim", "unload",
			"bearish", "overvalued", "dump", "close the position",
		},
	},
	{
		action:     database.ActionHold,
		confidence: confidenceHold,
		keywords: []string{
			"hold", "holding", "keep your position", "stay the course",
			"maintain", "don't sell", "do not sell",
		},
	},
	{
		action:     database.ActionWatch,
		confidence: confidenceWatch,
		keywords: []string{
			"watch", "watching", "monitor", "keep an eye", "watchlist",
			"wait for", "on the radar",
		},
	},
}

var intensifierKeywords = []string{
	"strongly", "extremely", "highly", "definitely", "very", "absolutely",
	"without a doubt", "conviction",
}

var timeframeKeywords = []string{
	"short-term", "short term", "near-term", "near term",
	"medium-term", "medium term", "mid-term",
	"long-term", "long term",
	"intraday", "this week", "next week", "this month", "next month",
	"this quarter", "this year",
}

// RecommendationParser extracts structured recommendations from free-text
// assistant output. It is stateless; one instance can be shared freely.
type RecommendationParser struct{}

// NewRecommendationParser creates a new parser
func NewRecommendationParser() *RecommendationParser {
	return &RecommendationParser{}
}

// Parse extracts zero or more recommendations from a message. A message with
// no recognizable symbols yields an empty slice and no error.
func (p *RecommendationParser) Parse(message string) []ParsedRecommendation {
	if message == "" {
		return nil
	}

	var recs []ParsedRecommendation
	seen := make(map[string]bool)

	for _, loc := range symbolPattern.FindAllStringIndex(message, -1) {
		symbol := message[loc[0]:loc[1]]
		if symbolStopList[symbol] || seen[symbol] {
			continue
		}
		seen[symbol] = true

		window := contextAround(message, loc[0], loc[1])
		action, confidence := classifyAction(window)

		recs = append(recs, ParsedRecommendation{
			Symbol:       symbol,
			Action:       action,
			Confidence:   confidence,
			Reasoning:    strings.TrimSpace(window),
			PriceTargets: extractPriceTargets(window),
			Timeframe:    extractTimeframe(window),
		})
	}

	return recs
}

// contextAround returns the bounded window of text surrounding the first
// mention of a symbol.
func contextAround(message string, start, end int) string {
	from := start - contextWindow
	if from < 0 {
		from = 0
	}
	to := end + contextWindow
	if to > len(message) {
		to = len(message)
	}
	return message[from:to]
}

// classifyAction tests the window against the priority-ordered rules and
// applies the intensifier boost.
func classifyAction(window string) (string, float64) {
	lower := strings.ToLower(window)

	action := database.ActionAnalysis
	confidence := confidenceAnalysis
	for _, rule := range classifierRules {
		if containsAny(lower, rule.keywords) {
			action = rule.action
			confidence = rule.confidence
			break
		}
	}

	if containsAny(lower, intensifierKeywords) {
		confidence += intensifierBoost
		if confidence > confidenceCap {
			confidence = confidenceCap
		}
	}

	return action, confidence
}

// extractPriceTargets collects dollar and percentage tokens from the window.
func extractPriceTargets(window string) []string {
	var targets []string
	targets = append(targets, priceTargetPattern.FindAllString(window, -1)...)
	targets = append(targets, pctTargetPattern.FindAllString(window, -1)...)
	return targets
}

// extractTimeframe returns the first timeframe keyword present, if any.
func extractTimeframe(window string) string {
	lower := strings.ToLower(window)
	for _, tf := range timeframeKeywords {
		if strings.Contains(lower, tf) {
			return tf
		}
	}
	return ""
}

// containsAny reports whether any keyword appears in the text.
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
