package main

import (
	"encoding/json"
	"net/http"
	"time"

	"upbit-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
	now func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db, now: time.Now}
}

// PositionsHandler returns positions, most recent buy first. The optional
// market and state query parameters filter the result.
func (h *APIHandler) PositionsHandler(w http.ResponseWriter, r *http.Request) {
	q := h.db.WithContext(r.Context()).Order("buy_time desc")
	if market := r.URL.Query().Get("market"); market != "" {
		q = q.Where("market = ?", market)
	}
	if state := r.URL.Query().Get("state"); state != "" {
		q = q.Where("state = ?", state)
	}

	var positions []models.Position
	if err := q.Find(&positions).Error; err != nil {
		h.log.Error("Failed to get positions from database", zap.Error(err))
		http.Error(w, "Failed to get positions", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, positions)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	ClosedPositions     int64           `json:"closed_positions"`
	ProfitablePositions int64           `json:"profitable_positions"`
	WinRate             float64         `json:"win_rate"`
	TotalBought         decimal.Decimal `json:"total_bought"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
}

func (s *StatsDetail) add(p *models.Position) {
	profit := p.Profit()
	s.ClosedPositions++
	if profit.IsPositive() {
		s.ProfitablePositions++
	}
	s.TotalBought = s.TotalBought.Add(p.BuyAmount)
	s.TotalProfit = s.TotalProfit.Add(profit)
}

func (s *StatsDetail) finish() {
	if s.ClosedPositions > 0 {
		s.WinRate = float64(s.ProfitablePositions) / float64(s.ClosedPositions)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	OpenPositions int64       `json:"open_positions"`
	Since24h      StatsDetail `json:"since_24h"`
	AllTime       StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates realized profit over completed positions.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	db := h.db.WithContext(r.Context())

	var closed []models.Position
	if err := db.Where("state = ?", models.StateDone).Find(&closed).Error; err != nil {
		h.log.Error("Failed to get positions for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	var response StatisticsResponse
	if err := db.Model(&models.Position{}).Where("state = ?", models.StateWaiting).Count(&response.OpenPositions).Error; err != nil {
		h.log.Error("Failed to count open positions", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	for i := range closed {
		p := &closed[i]
		response.AllTime.add(p)
		if p.SellTime != nil && p.SellTime.After(since24h) {
			response.Since24h.add(p)
		}
	}
	response.AllTime.finish()
	response.Since24h.finish()

	h.writeJSON(w, response)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
