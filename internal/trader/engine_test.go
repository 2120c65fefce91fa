package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedStrategy replays one canned outcome per call and cancels the run
// once the script is exhausted.
type scriptedStrategy struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	calls   []string
	lasts   []decimal.Decimal
	outcome func(market string, call int) (decimal.Decimal, error)
	limit   int
	initErr error
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Initialize(context.Context, StrategyContext) error { return s.initErr }

func (s *scriptedStrategy) RunOnce(ctx context.Context, _ StrategyContext, market string, last decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	s.calls = append(s.calls, market)
	s.lasts = append(s.lasts, last)
	n := len(s.calls)
	s.mu.Unlock()

	if n >= s.limit {
		s.cancel()
	}
	// market cycles must not observe the shutdown
	if ctx.Err() != nil {
		return last, ctx.Err()
	}
	return s.outcome(market, n)
}

func TestEngine_RunsMarketsSequentiallyAndSurvivesFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.Markets = []string{"KRW-ADA", "KRW-BTC"}
	cfg.Trading.Interval = time.Millisecond
	cfg.Trading.MarketDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strategy := &scriptedStrategy{
		cancel: cancel,
		limit:  5,
		outcome: func(market string, call int) (decimal.Decimal, error) {
			switch call {
			case 1:
				return d("100"), nil
			case 2:
				panic("exchange client exploded")
			case 4:
				return d("0"), errors.New("no quote")
			}
			return d("200"), nil
		},
	}

	reg := prometheus.NewRegistry()
	sctx := StrategyContext{Logger: zap.NewNop(), Cfg: cfg, Store: setupStore(t), Metrics: NewMetrics(reg)}
	engine := NewEngine(zap.NewNop(), cfg, strategy, sctx)

	require.NoError(t, engine.Run(ctx))

	assert.Equal(t, []string{"KRW-ADA", "KRW-BTC", "KRW-ADA", "KRW-BTC", "KRW-ADA"}, strategy.calls)
	// the first price carries into the next cycle of the same market
	assert.True(t, d("100").Equal(strategy.lasts[2]))
	// a panicking market keeps its previous price
	assert.True(t, strategy.lasts[3].IsZero())
	assert.True(t, d("200").Equal(engine.LastBuyPrice("KRW-ADA")))
	// one panic and one error
	assert.Equal(t, float64(2), testutil.ToFloat64(sctx.Metrics.cycleErrors.WithLabelValues("KRW-BTC")))

	st := engine.Status()
	assert.Equal(t, "scripted", st.Strategy)
	assert.Equal(t, 2, st.Cycles)
	require.Len(t, st.Markets, 2)
	assert.Equal(t, "KRW-ADA", st.Markets[0].Market)
}

func TestEngine_InitializeFailure(t *testing.T) {
	cfg := testConfig()
	strategy := &scriptedStrategy{initErr: errors.New("bad config")}
	engine := NewEngine(zap.NewNop(), cfg, strategy, StrategyContext{Logger: zap.NewNop(), Cfg: cfg, Store: setupStore(t)})

	err := engine.Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, strategy.calls)
}

func TestEngine_StopsWhenCancelledBeforeStart(t *testing.T) {
	cfg := testConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	strategy := &scriptedStrategy{cancel: cancel, limit: 1}
	engine := NewEngine(zap.NewNop(), cfg, strategy, StrategyContext{Logger: zap.NewNop(), Cfg: cfg, Store: setupStore(t)})

	require.NoError(t, engine.Run(ctx))
	assert.Empty(t, strategy.calls)
}

func TestSleep(t *testing.T) {
	assert.True(t, sleep(context.Background(), 0))
	assert.True(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Hour))
}
