package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"upbit-trade-bot-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrMissingBuyID is returned when a position without a buy id is upserted.
var ErrMissingBuyID = errors.New("position has no buy id")

// Store is the trade store: an in-memory cache of non-done positions in
// front of the database. Reads are served from the cache only; writes go to
// both.
type Store struct {
	mu     sync.RWMutex
	db     *gorm.DB
	logger *zap.Logger
	cache  map[string]models.Position
}

// New creates a store over db. Call LoadOpen before serving queries.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("store"),
		cache:  make(map[string]models.Position),
	}
}

// LoadOpen seeds the cache with every position that is not done and returns
// how many were loaded.
func (s *Store) LoadOpen(ctx context.Context) (int, error) {
	var positions []models.Position
	if err := s.db.WithContext(ctx).Where("state <> ?", models.StateDone).Find(&positions).Error; err != nil {
		return 0, fmt.Errorf("failed to load open positions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.cache[p.BuyID] = p
	}
	s.logger.Info("Loaded open positions into cache", zap.Int("count", len(positions)))
	return len(positions), nil
}

// Upsert writes p to the cache and the database. The cache keeps the
// attempted state even when the database write fails.
func (s *Store) Upsert(ctx context.Context, p models.Position) error {
	if p.BuyID == "" {
		return ErrMissingBuyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[p.BuyID] = p

	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return fmt.Errorf("failed to persist position %s: %w", p.BuyID, err)
	}
	s.cache[p.BuyID] = p
	return nil
}

// Get returns the cached position with the given buy id.
func (s *Store) Get(buyID string) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[buyID]
	return p, ok
}

// QueryOpen returns the waiting positions of market ordered by ascending sell price.
func (s *Store) QueryOpen(market string) []models.Position {
	return s.filter(func(p *models.Position) bool {
		return p.Market == market && p.IsOpen()
	})
}

// QueryOpenLoss returns the waiting positions of market whose sell is priced
// below their buy.
func (s *Store) QueryOpenLoss(market string) []models.Position {
	return s.filter(func(p *models.Position) bool {
		return p.Market == market && p.IsOpen() && p.InLoss()
	})
}

// QueryCheapestOpen returns the waiting position of market with the lowest sell price.
func (s *Store) QueryCheapestOpen(market string) (models.Position, bool) {
	open := s.QueryOpen(market)
	if len(open) == 0 {
		return models.Position{}, false
	}
	return open[0], true
}

// QueryCostliestOpen returns the waiting position of market with the highest sell price.
func (s *Store) QueryCostliestOpen(market string) (models.Position, bool) {
	open := s.QueryOpen(market)
	if len(open) == 0 {
		return models.Position{}, false
	}
	return open[len(open)-1], true
}

// CountOpen counts the waiting positions of market.
func (s *Store) CountOpen(market string) int {
	return len(s.QueryOpen(market))
}

// CountOpenAll counts the waiting positions across every market.
func (s *Store) CountOpenAll() int {
	return len(s.filter(func(p *models.Position) bool { return p.IsOpen() }))
}

func (s *Store) filter(keep func(p *models.Position) bool) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Position
	for _, p := range s.cache {
		if keep(&p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].SellPrice.Cmp(out[j].SellPrice); c != 0 {
			return c < 0
		}
		return out[i].BuyID < out[j].BuyID
	})
	return out
}
