package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kestrel/internal/book"
	"kestrel/internal/common"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

var (
	ErrEngineStopped        = errors.New("engine stopped")
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrFillOrKill           = errors.New("fill or kill order could not be filled")
	ErrNotOwner             = errors.New("order belongs to another owner")
)

// Reporter receives every trade once the fill that produced it is final.
type Reporter interface {
	ReportTrade(trade common.Trade) error
}

// TopOfBook holds copies of the best order on each side, nil when a side is
// empty.
type TopOfBook struct {
	Bid *common.Order
	Ask *common.Order
}

// This is the matching engine for a single instrument. The book underneath is
// not safe for concurrent use, so every operation is shipped to the one
// goroutine started by Run and executed there to completion.
type Engine struct {
	instrument uint16
	matcher    matcher
	reporter   Reporter

	// Last assigned order ID. IDs only grow, which is what gives earlier
	// orders time priority in the book.
	lastID uint64

	commands chan func()
	t        tomb.Tomb
}

func New(instrument uint16) *Engine {
	return &Engine{
		instrument: instrument,
		matcher:    newMatcher(),
		commands:   make(chan func()),
	}
}

// SetReporter must be called before Run.
func (engine *Engine) SetReporter(reporter Reporter) {
	engine.reporter = reporter
}

func (engine *Engine) Instrument() uint16 {
	return engine.instrument
}

// Run executes submitted operations until ctx is cancelled. Operations
// submitted after Run returns fail with ErrEngineStopped.
func (engine *Engine) Run(ctx context.Context) error {
	engine.t.Go(func() error {
		log.Info().Uint16("instrument", engine.instrument).Msg("engine running")
		for {
			select {
			case <-ctx.Done():
				log.Info().Uint16("instrument", engine.instrument).Msg("engine stopping")
				return nil
			case <-engine.t.Dying():
				return nil
			case command := <-engine.commands:
				command()
			}
		}
	})
	return engine.t.Wait()
}

// do hands fn to the engine goroutine and waits for it to finish. Once
// accepted, fn always runs to completion.
func (engine *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	command := func() {
		defer close(done)
		fn()
	}

	select {
	case engine.commands <- command:
	case <-engine.t.Dying():
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Submit assigns order an ID and timestamp, matches it and rests whatever the
// time in force allows. It returns the order as it stands after matching.
func (engine *Engine) Submit(ctx context.Context, order common.Order) (common.Order, []common.Trade, error) {
	if err := engine.validate(&order); err != nil {
		return order, nil, err
	}

	var (
		trades   []common.Trade
		matchErr error
	)
	err := engine.do(ctx, func() {
		engine.lastID++
		order.ID = engine.lastID
		order.Timestamp = uint64(time.Now().UnixNano())
		trades, matchErr = engine.matcher.submit(&order)
	})
	if err != nil {
		return order, nil, err
	}
	if matchErr != nil {
		log.Debug().
			Err(matchErr).
			Uint64("id", order.ID).
			Str("tif", order.TimeInForce.String()).
			Msg("order rejected")
		return order, nil, matchErr
	}

	log.Debug().
		Uint64("id", order.ID).
		Uint32("owner", order.Owner).
		Str("side", order.Side.String()).
		Str("type", order.OrderType.String()).
		Str("price", order.Price.String()).
		Str("balance", order.Balance.String()).
		Int("trades", len(trades)).
		Msg("order admitted")

	engine.report(trades)
	return order, trades, nil
}

// Cancel withdraws a resting order on behalf of owner. Orders of other owners
// are left alone and reported as ErrNotOwner.
func (engine *Engine) Cancel(ctx context.Context, owner uint32, id uint64) (common.Order, error) {
	var (
		order     common.Order
		cancelErr error
	)
	err := engine.do(ctx, func() {
		resting, ok := engine.matcher.book.Get(id)
		if !ok {
			cancelErr = book.ErrOrderNotFound
			return
		}
		if resting.Owner != owner {
			cancelErr = ErrNotOwner
			return
		}
		order, cancelErr = engine.matcher.book.RemoveOrder(id)
	})
	if err != nil {
		return order, err
	}
	if cancelErr != nil {
		return order, fmt.Errorf("cancel %d: %w", id, cancelErr)
	}

	log.Debug().
		Uint64("id", id).
		Uint32("owner", owner).
		Str("balance", order.Balance.String()).
		Msg("order cancelled")
	return order, nil
}

// Top returns copies of the best bid and ask.
func (engine *Engine) Top(ctx context.Context) (TopOfBook, error) {
	var top TopOfBook
	err := engine.do(ctx, func() {
		if bid, err := engine.matcher.book.PeekBestBid(); err == nil {
			bidCopy := *bid
			top.Bid = &bidCopy
		}
		if ask, err := engine.matcher.book.PeekBestAsk(); err == nil {
			askCopy := *ask
			top.Ask = &askCopy
		}
	})
	return top, err
}

// Depth returns copies of up to n resting orders on side, best first.
func (engine *Engine) Depth(ctx context.Context, side common.Side, n int) ([]common.Order, error) {
	var depth []common.Order
	err := engine.do(ctx, func() {
		depth = engine.matcher.book.Depth(side, n)
	})
	return depth, err
}

func (engine *Engine) validate(order *common.Order) error {
	order.Instrument = engine.instrument
	order.Balance = order.Quantity

	if !order.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", ErrInvalidOrder, order.Quantity)
	}
	if order.OrderType == common.LimitOrder && !order.Price.IsPositive() {
		return fmt.Errorf("%w: limit price %s", ErrInvalidOrder, order.Price)
	}
	if !order.Side.Valid() {
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, order.Side)
	}
	if !order.OrderType.Valid() {
		return fmt.Errorf("%w: order type %d", ErrInvalidOrder, order.OrderType)
	}
	if !order.TimeInForce.Valid() {
		return fmt.Errorf("%w: time in force %d", ErrInvalidOrder, order.TimeInForce)
	}
	if len(order.Price.String()) > common.MaxDecimalLen {
		return fmt.Errorf("%w: price too long", ErrInvalidOrder)
	}
	if len(order.Quantity.String()) > common.MaxDecimalLen {
		return fmt.Errorf("%w: quantity too long", ErrInvalidOrder)
	}
	return nil
}

func (engine *Engine) report(trades []common.Trade) {
	for _, trade := range trades {
		log.Info().
			Str("trade", trade.ID.String()).
			Uint64("taker", trade.Taker.ID).
			Uint64("maker", trade.Maker.ID).
			Str("price", trade.Price.String()).
			Str("qty", trade.MatchQty.String()).
			Msg("trade")

		if engine.reporter == nil {
			continue
		}
		if err := engine.reporter.ReportTrade(trade); err != nil {
			log.Error().Err(err).Str("trade", trade.ID.String()).Msg("unable to report trade")
		}
	}
}
