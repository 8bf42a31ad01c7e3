package engine

import (
	"errors"

	"kestrel/internal/book"
	"kestrel/internal/common"

	"github.com/shopspring/decimal"
)

// fill records one maker touched while matching a taker, so the fill can be
// undone if the taker turns out to be unfillable.
type fill struct {
	maker    *common.Order // the maker itself, still valid once popped
	snapshot common.Order  // maker as it was before the fill
	popped   bool          // maker was fully filled and left the book
}

// matcher runs arriving orders against a book. It is sequential; Engine owns
// the only goroutine that calls it.
type matcher struct {
	book *book.OrderBook
}

func newMatcher() matcher {
	return matcher{book: book.New()}
}

// submit matches taker against the opposite side and decides what happens to
// the remainder based on its type and time in force:
//   - GTC limit orders rest in the book.
//   - IOC orders and market orders drop whatever did not fill.
//   - FOK orders fill completely or leave the book exactly as it was.
func (m *matcher) submit(taker *common.Order) ([]common.Trade, error) {
	if taker.OrderType == common.StopOrder {
		return nil, ErrUnsupportedOrderType
	}

	if taker.TimeInForce == common.FOK {
		return m.fillOrKill(taker)
	}

	trades, err := m.match(taker, nil)
	if err != nil {
		return trades, err
	}

	if !taker.Filled() && taker.OrderType == common.LimitOrder && taker.TimeInForce == common.GTC {
		m.book.PlaceOrder(*taker)
	}
	return trades, nil
}

// match consumes the top of the opposite side while it crosses taker. Every
// fill trades at the maker's price. If journal is non-nil each touched maker
// is appended to it.
func (m *matcher) match(taker *common.Order, journal *[]fill) ([]common.Trade, error) {
	var trades []common.Trade
	side := taker.Side.Opposite()

	for !taker.Filled() {
		maker, err := m.book.PeekBest(side)
		if errors.Is(err, book.ErrSideEmpty) {
			break
		}
		if err != nil {
			return trades, err
		}
		if !crosses(taker, maker) {
			break
		}

		qty := decimal.Min(taker.Balance, maker.Balance)
		snapshot := *maker
		if err := maker.Fill(qty); err != nil {
			return trades, err
		}
		if err := taker.Fill(qty); err != nil {
			maker.RollbackFor(&snapshot)
			return trades, err
		}

		// Fully consumed makers leave the book. Partially filled ones keep
		// their place since balance is not part of the sort key.
		popped := maker.Filled()
		if popped {
			if _, err := m.book.RemoveBest(side); err != nil {
				return trades, err
			}
		}

		if journal != nil {
			*journal = append(*journal, fill{maker: maker, snapshot: snapshot, popped: popped})
		}
		trades = append(trades, common.NewTrade(*taker, *maker, qty))
	}
	return trades, nil
}

// fillOrKill matches speculatively and undoes every fill if taker is left with
// a balance.
func (m *matcher) fillOrKill(taker *common.Order) ([]common.Trade, error) {
	original := *taker

	var journal []fill
	trades, err := m.match(taker, &journal)
	if err == nil && taker.Filled() {
		return trades, nil
	}

	m.rollback(journal)
	taker.RollbackFor(&original)
	if err != nil {
		return nil, err
	}
	return nil, ErrFillOrKill
}

// rollback undoes journal newest first. Popped makers are readmitted under
// their original ID, which puts them back at their original priority.
func (m *matcher) rollback(journal []fill) {
	for i := len(journal) - 1; i >= 0; i-- {
		f := journal[i]
		f.maker.RollbackFor(&f.snapshot)
		if f.popped {
			m.book.PlaceOrder(*f.maker)
		}
	}
}

// crosses reports whether taker can trade with maker. Market orders trade at
// any price.
func crosses(taker, maker *common.Order) bool {
	if taker.OrderType == common.MarketOrder || maker.OrderType == common.MarketOrder {
		return true
	}
	if taker.Side == common.Bid {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}
	return taker.Price.LessThanOrEqual(maker.Price)
}
