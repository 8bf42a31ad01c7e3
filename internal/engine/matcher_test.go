package engine

import (
	"testing"

	. "kestrel/internal/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

type testMatcher struct {
	matcher
	lastID uint64
}

func newTestMatcher() *testMatcher {
	return &testMatcher{matcher: newMatcher()}
}

func (m *testMatcher) submitOrder(t *testing.T, side Side, orderType OrderType, tif TimeInForce, price int64, qty int64) (Order, []Trade, error) {
	t.Helper()
	m.lastID++
	order := NewOrder(m.lastID, decimal.NewFromInt(price), decimal.NewFromInt(qty))
	order.Side = side
	order.OrderType = orderType
	order.TimeInForce = tif
	trades, err := m.submit(&order)
	return order, trades, err
}

// rest places GTC limit orders that are not expected to cross.
func (m *testMatcher) rest(t *testing.T, side Side, price int64, quantities ...int64) {
	t.Helper()
	for _, qty := range quantities {
		_, trades, err := m.submitOrder(t, side, LimitOrder, GTC, price, qty)
		require.NoError(t, err)
		require.Empty(t, trades)
	}
}

type level struct {
	id      uint64
	price   int64
	balance int64
}

func flatten(orders []Order) []level {
	levels := make([]level, len(orders))
	for i, order := range orders {
		levels[i] = level{order.ID, order.Price.IntPart(), order.Balance.IntPart()}
	}
	return levels
}

// --- Tests ------------------------------------------------------------------

func TestSubmit_LimitRests(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Bid, 99, 100, 90)
	m.rest(t, Ask, 100, 80)

	assert.Equal(t, []level{{1, 99, 100}, {2, 99, 90}}, flatten(m.book.Depth(Bid, 0)))
	assert.Equal(t, []level{{3, 100, 80}}, flatten(m.book.Depth(Ask, 0)))
}

func TestSubmit_LimitPartialMatch(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Ask, 100, 100, 90)
	m.rest(t, Ask, 101, 20)

	order, trades, err := m.submitOrder(t, Bid, LimitOrder, GTC, 100, 120)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, uint64(1), trades[0].Maker.ID)
	assert.True(t, trades[0].MatchQty.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, uint64(2), trades[1].Maker.ID)
	assert.True(t, trades[1].MatchQty.Equal(decimal.NewFromInt(20)))
	assert.True(t, order.Filled())

	// The partially filled maker keeps its place at the front.
	assert.Equal(t, []level{{2, 100, 70}, {3, 101, 20}}, flatten(m.book.Depth(Ask, 0)))
	assert.Equal(t, 0, m.book.BidLen())
}

func TestSubmit_LimitSweepRestsRemainder(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Bid, 99, 100, 90)
	m.rest(t, Bid, 98, 50)

	order, trades, err := m.submitOrder(t, Ask, LimitOrder, GTC, 99, 250)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, trade := range trades {
		assert.True(t, trade.Price.Equal(decimal.NewFromInt(99)), "trades at the maker price")
	}
	assert.True(t, order.Balance.Equal(decimal.NewFromInt(60)))

	assert.Equal(t, []level{{3, 98, 50}}, flatten(m.book.Depth(Bid, 0)))
	assert.Equal(t, []level{{4, 99, 60}}, flatten(m.book.Depth(Ask, 0)))
}

func TestSubmit_MarketSweepsAndNeverRests(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Ask, 100, 10)
	m.rest(t, Ask, 105, 10)

	order, trades, err := m.submitOrder(t, Bid, MarketOrder, GTC, 0, 25)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[1].Price.Equal(decimal.NewFromInt(105)))
	assert.True(t, order.Balance.Equal(decimal.NewFromInt(5)))

	assert.Equal(t, 0, m.book.Len())
}

func TestSubmit_IOCDropsRemainder(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Bid, 50, 10)

	order, trades, err := m.submitOrder(t, Ask, LimitOrder, IOC, 50, 15)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, order.Balance.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 0, m.book.Len())
}

func TestSubmit_FOKFills(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Ask, 10, 5, 5)

	order, trades, err := m.submitOrder(t, Bid, LimitOrder, FOK, 10, 8)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.True(t, order.Filled())
	assert.Equal(t, []level{{2, 10, 2}}, flatten(m.book.Depth(Ask, 0)))
}

func TestSubmit_FOKRollsBackEveryMaker(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Ask, 10, 5, 5)
	m.rest(t, Ask, 11, 5)
	m.rest(t, Ask, 12, 5)
	before := m.book.Depth(Ask, 0)

	// Only 15 of the 28 cross at 11 or better.
	order, trades, err := m.submitOrder(t, Bid, LimitOrder, FOK, 11, 28)
	assert.ErrorIs(t, err, ErrFillOrKill)
	assert.Empty(t, trades)
	assert.True(t, order.Balance.Equal(order.Quantity))

	after := m.book.Depth(Ask, 0)
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].Equal(after[i]), "maker %d restored", before[i].ID)
	}
	assert.Equal(t, 0, m.book.BidLen())
}

func TestSubmit_FOKRollbackRestoresPriority(t *testing.T) {
	m := newTestMatcher()
	m.rest(t, Bid, 20, 10, 10)
	m.rest(t, Bid, 19, 10)

	_, _, err := m.submitOrder(t, Ask, LimitOrder, FOK, 20, 25)
	assert.ErrorIs(t, err, ErrFillOrKill)

	assert.Equal(t, []level{{1, 20, 10}, {2, 20, 10}, {3, 19, 10}}, flatten(m.book.Depth(Bid, 0)))
}

func TestSubmit_StopRejected(t *testing.T) {
	m := newTestMatcher()
	_, _, err := m.submitOrder(t, Bid, StopOrder, GTC, 10, 1)
	assert.ErrorIs(t, err, ErrUnsupportedOrderType)
	assert.Equal(t, 0, m.book.Len())
}

func TestCrosses(t *testing.T) {
	bid := NewOrder(1, decimal.NewFromInt(10), decimal.NewFromInt(1))
	ask := NewOrder(2, decimal.NewFromInt(10), decimal.NewFromInt(1))
	ask.Side = Ask

	assert.True(t, crosses(&bid, &ask))
	assert.True(t, crosses(&ask, &bid))

	ask.Price = decimal.NewFromInt(11)
	assert.False(t, crosses(&bid, &ask))
	assert.False(t, crosses(&ask, &bid))

	bid.OrderType = MarketOrder
	assert.True(t, crosses(&bid, &ask))
}
