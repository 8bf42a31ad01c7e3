package common

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	}
	return "unknown"
}

func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

type OrderType int

const (
	// Market orders are instructions to buy or sell immediately at whatever
	// price the resting side offers. They rank ahead of every Limit and Stop
	// order on the same side.
	MarketOrder OrderType = iota
	// Limit orders are an order to buy or sell at a specified price or
	// better. Limit orders may rest on the order book until filled.
	LimitOrder
	// Stop orders carry a trigger price. They rank with Limit orders.
	StopOrder
)

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "market"
	case LimitOrder:
		return "limit"
	case StopOrder:
		return "stop"
	}
	return "unknown"
}

func (t OrderType) Valid() bool {
	return t >= MarketOrder && t <= StopOrder
}

// Priority is the type preemption rank of t. Lower ranks ahead.
func (t OrderType) Priority() int {
	if t == MarketOrder {
		return 0
	}
	return 1
}

type TimeInForce int

const (
	// Good till cancelled.
	GTC TimeInForce = iota
	// Immediate or cancel: whatever does not fill on arrival is dropped.
	IOC
	// Fill or kill: the whole quantity fills on arrival or nothing does.
	FOK
)

func (tif TimeInForce) Valid() bool {
	return tif >= GTC && tif <= FOK
}

func (tif TimeInForce) String() string {
	switch tif {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	}
	return "unknown"
}
