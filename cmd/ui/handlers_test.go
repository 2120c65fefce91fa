package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"upbit-trade-bot-go/internal/database"
	"upbit-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupHandler(t *testing.T) (*APIHandler, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	h := NewAPIHandler(zap.NewNop(), db)
	h.now = func() time.Time { return now }
	return h, db
}

func position(buyID, market string, state models.PositionState, buyAmount, sellAmount string, buyTime time.Time, sellTime *time.Time) models.Position {
	p := models.Position{
		BuyID:       buyID,
		Market:      market,
		BuyPrice:    decimal.RequireFromString("100000"),
		BuyQuantity: decimal.RequireFromString("0.1"),
		BuyAmount:   decimal.RequireFromString(buyAmount),
		BuyTime:     buyTime,
		SellID:      "s-" + buyID,
		SellPrice:   decimal.RequireFromString("101000"),
		SellTime:    sellTime,
		State:       state,
	}
	if sellAmount != "" {
		p.SellAmount = decimal.NewNullDecimal(decimal.RequireFromString(sellAmount))
	}
	return p
}

func TestPositionsHandler(t *testing.T) {
	h, db := setupHandler(t)
	require.NoError(t, db.Create(&[]models.Position{
		position("b1", "KRW-ADA", models.StateWaiting, "10000", "", now.Add(-3*time.Hour), nil),
		position("b2", "KRW-BTC", models.StateWaiting, "10000", "", now.Add(-1*time.Hour), nil),
		position("b3", "KRW-ADA", models.StateDone, "10000", "10090", now.Add(-2*time.Hour), &now),
	}).Error)

	rec := httptest.NewRecorder()
	newMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b2", "b3", "b1"}, []string{got[0].BuyID, got[1].BuyID, got[2].BuyID})

	rec = httptest.NewRecorder()
	newMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?market=KRW-ADA&state=waiting", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].BuyID)
}

func TestStatisticsHandler(t *testing.T) {
	h, db := setupHandler(t)
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)
	require.NoError(t, db.Create(&[]models.Position{
		position("b1", "KRW-ADA", models.StateDone, "10005", "10095", old, &recent),
		position("b2", "KRW-ADA", models.StateDone, "10005", "9900", old, &old),
		position("b3", "KRW-ADA", models.StateWaiting, "10005", "", now, nil),
		position("b4", "KRW-ADA", models.StateCancel, "10005", "0", old, &recent),
	}).Error)

	rec := httptest.NewRecorder()
	newMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatisticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.OpenPositions)

	assert.Equal(t, int64(2), got.AllTime.ClosedPositions)
	assert.Equal(t, int64(1), got.AllTime.ProfitablePositions)
	assert.InDelta(t, 0.5, got.AllTime.WinRate, 1e-9)
	assert.True(t, decimal.RequireFromString("-15").Equal(got.AllTime.TotalProfit), "profit %s", got.AllTime.TotalProfit)

	assert.Equal(t, int64(1), got.Since24h.ClosedPositions)
	assert.True(t, decimal.RequireFromString("90").Equal(got.Since24h.TotalProfit))
	assert.True(t, decimal.RequireFromString("10005").Equal(got.Since24h.TotalBought))
}
