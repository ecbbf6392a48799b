// Package api exposes the learning engine's status surface over HTTP: status,
// forced optimization, report and pattern listings, recommendation history,
// per-stock analysis, and the SSE event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"squeeze-radar/database"
	"squeeze-radar/learning"
	"squeeze-radar/realtime"
)

// Server is the HTTP API for the learning engine
type Server struct {
	manager   *learning.Manager
	store     *database.MemoryStore
	analytics *database.AnalyticsRepository
	broker    *realtime.Broker
	httpSrv   *http.Server
}

// NewServer creates the API server on the given port
func NewServer(manager *learning.Manager, store *database.MemoryStore, analytics *database.AnalyticsRepository, broker *realtime.Broker, port int) *Server {
	s := &Server{
		manager:   manager,
		store:     store,
		analytics: analytics,
		broker:    broker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/learning/status", s.handleLearningStatus)
	mux.HandleFunc("POST /api/learning/optimize", s.handleForceOptimize)
	mux.HandleFunc("GET /api/learning/reports", s.handleReports)
	mux.HandleFunc("GET /api/learning/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/learning/recommendations", s.handleRecommendations)
	mux.HandleFunc("POST /api/learning/conversations", s.handleSaveConversation)
	mux.HandleFunc("GET /api/learning/tracking", s.handleTracking)
	mux.HandleFunc("GET /api/learning/top-symbols", s.handleTopSymbols)
	mux.HandleFunc("GET /api/stocks/{symbol}/analysis", s.handleStockAnalysis)
	mux.Handle("GET /api/events", broker)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving; blocks until the server stops.
func (s *Server) Start() error {
	log.Printf("🚀 API server listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleLearningStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.GetLearningStatus(r.Context())
	if err != nil {
		log.Printf("⚠️  Failed to build learning status: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build learning status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleForceOptimize(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.ForceOptimization(r.Context())
	if errors.Is(err, learning.ErrOptimizationInProgress) {
		writeError(w, http.StatusConflict, "optimization already in progress")
		return
	}
	if err != nil {
		log.Printf("⚠️  Forced optimization failed: %v", err)
		writeError(w, http.StatusInternalServerError, "optimization failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	reports, err := s.store.GetOptimizationReports(limit)
	if err != nil {
		log.Printf("⚠️  Failed to load optimization reports: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(reports),
		"reports": reports,
	})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.store.GetMarketPatterns()
	if err != nil {
		log.Printf("⚠️  Failed to load market patterns: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load patterns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(patterns),
		"patterns": patterns,
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	limit := queryInt(r, "limit", 50)

	recs, err := s.store.GetRecommendationsBySymbol(symbol, limit)
	if err != nil {
		log.Printf("⚠️  Failed to load recommendations for %q: %v", symbol, err)
		writeError(w, http.StatusInternalServerError, "failed to load recommendations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":           len(recs),
		"recommendations": recs,
	})
}

// saveConversationRequest is the chat layer's ingestion payload
type saveConversationRequest struct {
	SessionID        string                 `json:"session_id,omitempty"`
	Message          string                 `json:"message"`
	Response         string                 `json:"response"`
	MarketConditions *database.StockMetrics `json:"market_conditions,omitempty"`
}

// handleSaveConversation records a chat exchange and extracts any
// recommendations it contains.
func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	var req saveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Response == "" {
		writeError(w, http.StatusBadRequest, "response is required")
		return
	}

	recs, err := s.manager.SaveConversationWithInsights(r.Context(), req.SessionID, req.Message, req.Response, req.MarketConditions)
	if err != nil {
		log.Printf("⚠️  Failed to save conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":           len(recs),
		"recommendations": recs,
	})
}

// handleTopSymbols ranks symbols by win rate over their closed outcomes.
func (s *Server) handleTopSymbols(w http.ResponseWriter, r *http.Request) {
	minClosed := queryInt(r, "min_closed", 3)
	limit := queryInt(r, "limit", 10)

	symbols, err := s.analytics.GetTopSymbols(minClosed, limit)
	if err != nil {
		log.Printf("⚠️  Failed to rank symbols: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to rank symbols")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(symbols),
		"symbols": symbols,
	})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	entries := s.manager.Tracker().ActiveEntries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// handleStockAnalysis scores a stock from query-supplied metrics and returns
// the enhanced score with its pattern matches.
func (s *Server) handleStockAnalysis(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	metrics := database.StockMetrics{
		Price:          queryFloat(r, "price", 0),
		ShortInterest:  queryFloat(r, "short_interest", 0),
		DaysToCover:    queryFloat(r, "days_to_cover", 0),
		BorrowRate:     queryFloat(r, "borrow_rate", 0),
		VolumeRatio:    queryFloat(r, "volume_ratio", 0),
		FloatMillions:  queryFloat(r, "float_millions", 0),
		PriceChangePct: queryFloat(r, "price_change_pct", 0),
	}

	score, analysis, err := s.manager.CalculateEnhancedScore(symbol, metrics)
	if err != nil {
		log.Printf("⚠️  Failed to analyze %s: %v", symbol, err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	resp := map[string]interface{}{
		"symbol": symbol,
		"score":  score,
	}
	if analysis != nil {
		resp["matches"] = analysis.Matches
		if analysis.Prediction != nil {
			resp["prediction"] = analysis.Prediction
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	value := r.URL.Query().Get(key)
	if value == "" {
		return def
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return f
}
