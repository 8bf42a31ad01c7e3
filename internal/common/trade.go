package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade accounts for the two parties who matched. Taker is the arriving order,
// Maker the resting one; both are copies taken right after the fill.
type Trade struct {
	ID        uuid.UUID
	Taker     Order
	Maker     Order
	Timestamp time.Time
	MatchQty  decimal.Decimal
	Price     decimal.Decimal
}

func NewTrade(taker, maker Order, qty decimal.Decimal) Trade {
	return Trade{
		ID:        uuid.New(),
		Taker:     taker,
		Maker:     maker,
		Timestamp: time.Now(),
		MatchQty:  qty,
		Price:     maker.Price,
	}
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`ID:        %s
Taker: [
%s]
Maker: [
%s]
Timestamp: %v
MatchQty:  %s
Price:     %s`,
		t.ID,
		t.Taker.String(),
		t.Maker.String(),
		t.Timestamp.Format(time.RFC3339),
		t.MatchQty,
		t.Price,
	)
}
