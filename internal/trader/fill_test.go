package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"upbit-trade-bot-go/internal/upbit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func twoFills(side, state string) *upbit.Order {
	return &upbit.Order{
		UUID:    "o-1",
		Side:    side,
		State:   state,
		PaidFee: d("0.15"),
		Trades: []upbit.Trade{
			{Price: d("100"), Volume: d("1"), Funds: d("100")},
			{Price: d("200"), Volume: d("1"), Funds: d("200")},
		},
	}
}

func TestOrderDetails(t *testing.T) {
	avg, total, ok := OrderDetails(twoFills(upbit.SideBid, upbit.OrderStateDone))
	require.True(t, ok)
	assert.True(t, d("150").Equal(avg), "avg %s", avg)
	assert.True(t, d("300.15").Equal(total), "bid total %s", total)

	_, total, ok = OrderDetails(twoFills(upbit.SideAsk, upbit.OrderStateDone))
	require.True(t, ok)
	assert.True(t, d("299.85").Equal(total), "ask total %s", total)

	_, total, ok = OrderDetails(twoFills("", upbit.OrderStateDone))
	require.True(t, ok)
	assert.True(t, d("300").Equal(total))
}

func TestOrderDetails_FundsFallbackAndEmpty(t *testing.T) {
	o := &upbit.Order{Side: upbit.SideAsk, Trades: []upbit.Trade{{Price: d("50"), Volume: d("2")}}}
	avg, total, ok := OrderDetails(o)
	require.True(t, ok)
	assert.True(t, d("50").Equal(avg))
	assert.True(t, d("100").Equal(total))

	_, _, ok = OrderDetails(&upbit.Order{Side: upbit.SideBid})
	assert.False(t, ok)
}

func newWaiter(client *MockRestClient) *FillWaiter {
	return &FillWaiter{Client: client, Logger: zap.NewNop(), PollInterval: time.Millisecond}
}

func TestAwaitFill_Done(t *testing.T) {
	client := new(MockRestClient)
	client.On("GetOrder", mock.Anything, "o-1").Return(&upbit.Order{UUID: "o-1", State: upbit.OrderStateWait}, nil).Once()
	client.On("GetOrder", mock.Anything, "o-1").Return(twoFills(upbit.SideBid, upbit.OrderStateDone), nil).Once()

	fill, err := newWaiter(client).AwaitFill(context.Background(), "o-1", time.Second)
	require.NoError(t, err)
	assert.True(t, d("2").Equal(fill.Volume))
	assert.True(t, d("150").Equal(fill.AvgPrice))
	assert.True(t, d("300.15").Equal(fill.Total))
	client.AssertExpectations(t)
}

func TestAwaitFill_CancelWithPartial(t *testing.T) {
	client := new(MockRestClient)
	partial := &upbit.Order{
		UUID:   "o-1",
		Side:   upbit.SideBid,
		State:  upbit.OrderStateCancel,
		Trades: []upbit.Trade{{Price: d("100"), Volume: d("0.5"), Funds: d("50")}},
	}
	client.On("GetOrder", mock.Anything, "o-1").Return(partial, nil).Once()

	fill, err := newWaiter(client).AwaitFill(context.Background(), "o-1", time.Second)
	require.NoError(t, err)
	assert.True(t, d("0.5").Equal(fill.Volume))
	assert.True(t, d("100").Equal(fill.AvgPrice))
}

func TestAwaitFill_CancelWithoutVolume(t *testing.T) {
	client := new(MockRestClient)
	client.On("GetOrder", mock.Anything, "o-1").Return(&upbit.Order{UUID: "o-1", State: upbit.OrderStateError}, nil).Once()

	fill, err := newWaiter(client).AwaitFill(context.Background(), "o-1", time.Second)
	assert.Nil(t, fill)
	assert.True(t, errors.Is(err, ErrNotFilled))
}

func TestAwaitFill_TimeoutKeepsBestPartial(t *testing.T) {
	client := new(MockRestClient)
	first := &upbit.Order{UUID: "o-1", Side: upbit.SideBid, State: upbit.OrderStateWait,
		Trades: []upbit.Trade{{Price: d("100"), Volume: d("0.3"), Funds: d("30")}}}
	client.On("GetOrder", mock.Anything, "o-1").Return(first, nil).Once()
	// later polls fail; the earlier snapshot must survive
	client.On("GetOrder", mock.Anything, "o-1").Return(nil, errors.New("boom"))

	fill, err := newWaiter(client).AwaitFill(context.Background(), "o-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, d("0.3").Equal(fill.Volume))
}

func TestAwaitFill_TimeoutWithoutFill(t *testing.T) {
	client := new(MockRestClient)
	client.On("GetOrder", mock.Anything, "o-1").Return(&upbit.Order{UUID: "o-1", State: upbit.OrderStateWait}, nil)

	_, err := newWaiter(client).AwaitFill(context.Background(), "o-1", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotFilled)
}

func TestAwaitFill_NonPositiveTimeoutPollsOnce(t *testing.T) {
	client := new(MockRestClient)
	client.On("GetOrder", mock.Anything, "o-1").Return(&upbit.Order{UUID: "o-1", State: upbit.OrderStateWait}, nil).Once()

	_, err := newWaiter(client).AwaitFill(context.Background(), "o-1", 0)
	assert.ErrorIs(t, err, ErrNotFilled)
	client.AssertNumberOfCalls(t, "GetOrder", 1)
}

func TestAwaitFill_ContextCancelled(t *testing.T) {
	client := new(MockRestClient)
	client.On("GetOrder", mock.Anything, "o-1").Return(&upbit.Order{UUID: "o-1", State: upbit.OrderStateWait}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newWaiter(client)
	w.PollInterval = time.Hour

	_, err := w.AwaitFill(ctx, "o-1", time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
