package book

import (
	"kestrel/internal/common"

	"github.com/shopspring/decimal"
)

// SortKey is the part of an order that decides its priority within a side.
// Owner, balance and time in force never affect ranking, so they are left out.
type SortKey struct {
	OrderType common.OrderType
	Side      common.Side
	Price     decimal.Decimal
	ID        uint64
}

// KeyOf projects order onto its SortKey. Keys are always rebuilt from the
// order rather than cached.
func KeyOf(order *common.Order) SortKey {
	return SortKey{
		OrderType: order.OrderType,
		Side:      order.Side,
		Price:     order.Price,
		ID:        order.ID,
	}
}

// Compare returns 1 when k ranks ahead of other, -1 when it ranks behind and
// 0 only when both keys carry the same ID.
//
// Ranking, in order:
//  1. Market orders ahead of Limit and Stop orders, whatever the price.
//  2. Better price: higher for bids, lower for asks.
//  3. Smaller ID, i.e. earlier admission.
func (k SortKey) Compare(other SortKey) int {
	if k.ID == other.ID {
		return 0
	}

	if p, q := k.OrderType.Priority(), other.OrderType.Priority(); p != q {
		if p < q {
			return 1
		}
		return -1
	}

	if c := k.Price.Cmp(other.Price); c != 0 {
		if k.Side == common.Ask {
			return -c
		}
		return c
	}

	if k.ID < other.ID {
		return 1
	}
	return -1
}

// Better reports whether k strictly ranks ahead of other.
func (k SortKey) Better(other SortKey) bool {
	return k.Compare(other) > 0
}
