package book

import (
	"errors"

	"kestrel/internal/common"

	"github.com/tidwall/btree"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrSideEmpty     = errors.New("side empty")
)

const defaultOrdersCapacity = 1024

type keys = btree.BTreeG[SortKey]

// OrderBook holds the resting orders of a single instrument. Each side is a
// set of SortKeys ordered best first, and orders maps every ID in either set
// to its order. The three structures are only ever changed together.
//
// OrderBook is not safe for concurrent use. The caller serialises access.
type OrderBook struct {
	bids   *keys
	asks   *keys
	orders map[uint64]*common.Order
}

func New() *OrderBook {
	// Best key first on both sides; the price direction lives in SortKey.
	better := func(a, b SortKey) bool {
		return a.Better(b)
	}
	opts := btree.Options{NoLocks: true}
	return &OrderBook{
		bids:   btree.NewBTreeGOptions(better, opts),
		asks:   btree.NewBTreeGOptions(better, opts),
		orders: make(map[uint64]*common.Order, defaultOrdersCapacity),
	}
}

func (book *OrderBook) side(side common.Side) *keys {
	if side == common.Ask {
		return book.asks
	}
	return book.bids
}

// PlaceOrder admits order to the book. The caller guarantees the ID is not
// already resting; an existing entry with the same ID is overwritten.
func (book *OrderBook) PlaceOrder(order common.Order) {
	key := KeyOf(&order)
	book.orders[order.ID] = &order
	book.side(order.Side).Set(key)
}

// RemoveOrder withdraws the order with the given ID and returns it.
func (book *OrderBook) RemoveOrder(id uint64) (common.Order, error) {
	order, ok := book.orders[id]
	if !ok {
		return common.Order{}, ErrOrderNotFound
	}
	delete(book.orders, id)
	book.side(order.Side).Delete(KeyOf(order))
	return *order, nil
}

// Get returns the resting order with the given ID. Only Balance and Quantity
// may be changed through the returned pointer.
func (book *OrderBook) Get(id uint64) (*common.Order, bool) {
	order, ok := book.orders[id]
	return order, ok
}

func (book *OrderBook) PeekBestBid() (*common.Order, error) {
	return book.peekBest(book.bids)
}

func (book *OrderBook) PeekBestAsk() (*common.Order, error) {
	return book.peekBest(book.asks)
}

// PeekBest returns the most competitive order on side without removing it.
func (book *OrderBook) PeekBest(side common.Side) (*common.Order, error) {
	return book.peekBest(book.side(side))
}

func (book *OrderBook) peekBest(levels *keys) (*common.Order, error) {
	best, ok := levels.Min()
	if !ok {
		return nil, ErrSideEmpty
	}
	return book.orders[best.ID], nil
}

func (book *OrderBook) RemoveBestBid() (common.Order, error) {
	return book.removeBest(book.bids)
}

func (book *OrderBook) RemoveBestAsk() (common.Order, error) {
	return book.removeBest(book.asks)
}

// RemoveBest pops the most competitive order on side.
func (book *OrderBook) RemoveBest(side common.Side) (common.Order, error) {
	return book.removeBest(book.side(side))
}

func (book *OrderBook) removeBest(levels *keys) (common.Order, error) {
	best, ok := levels.PopMin()
	if !ok {
		return common.Order{}, ErrSideEmpty
	}
	order := book.orders[best.ID]
	delete(book.orders, best.ID)
	return *order, nil
}

// Depth returns copies of up to n orders on side, best first. n <= 0 returns
// the whole side.
func (book *OrderBook) Depth(side common.Side, n int) []common.Order {
	levels := book.side(side)
	if n <= 0 || n > levels.Len() {
		n = levels.Len()
	}
	depth := make([]common.Order, 0, n)
	levels.Scan(func(key SortKey) bool {
		if len(depth) == n {
			return false
		}
		depth = append(depth, *book.orders[key.ID])
		return true
	})
	return depth
}

// Len is the number of resting orders on both sides.
func (book *OrderBook) Len() int {
	return len(book.orders)
}

func (book *OrderBook) BidLen() int {
	return book.bids.Len()
}

func (book *OrderBook) AskLen() int {
	return book.asks.Len()
}
