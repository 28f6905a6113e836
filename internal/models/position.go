package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const sharesPerContract = 100

// TradeAction is the direction of a trade: +1 to buy, -1 to sell.
type TradeAction int

const (
	// Buy opens or adds to a long position (premium paid)
	Buy TradeAction = 1
	// Sell opens or adds to a short position (premium received)
	Sell TradeAction = -1
)

// Inverse returns the opposite trade direction.
func (a TradeAction) Inverse() TradeAction {
	return -a
}

// Valid returns true if the TradeAction is Buy or Sell
func (a TradeAction) Valid() bool {
	return a == Buy || a == Sell
}

func (a TradeAction) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("TradeAction(%d)", int(a))
	}
}

// Leg is the intent to trade a quantity of one option contract.
type Leg struct {
	Option   Option      `json:"option"`
	Action   TradeAction `json:"action"`
	Quantity int         `json:"quantity"`
}

// NewLeg creates a leg.
func NewLeg(action TradeAction, quantity int, option Option) Leg {
	return Leg{Action: action, Quantity: quantity, Option: option}
}

func (l Leg) String() string {
	return fmt.Sprintf("%s %d %s", l.Action, l.Quantity, l.Option)
}

// Open fills the leg at the given per-share premium.
func (l Leg) Open(price float64) Position {
	return Position{Leg: l, OpenPrice: price}
}

// Position is a leg filled at OpenPrice (premium per share).
// Prices are expected to be non-negative; that is the caller's responsibility.
type Position struct {
	Leg
	OpenPrice float64 `json:"open_price"`
}

func (p Position) String() string {
	return fmt.Sprintf("%s @ $%s", p.Leg, decimal.NewFromFloat(p.OpenPrice))
}

// Value returns the cash needed to open the position: positive for long positions
// (premium paid), negative for short positions (premium received).
// Each option contract covers 100 shares.
func (p Position) Value() decimal.Decimal {
	return decimal.NewFromInt(int64(p.Action) * int64(p.Quantity) * sharesPerContract).
		Mul(decimal.NewFromFloat(p.OpenPrice))
}

// ClosingPosition returns the opposite trade filled at closingPrice.
func (p Position) ClosingPosition(closingPrice float64) Position {
	return Position{
		Leg:       Leg{Action: p.Action.Inverse(), Quantity: p.Quantity, Option: p.Option},
		OpenPrice: closingPrice,
	}
}

// Profit returns the realized profit of closing the position at closingPrice.
// Opening and closing both cost their Value, so profit is the negated sum.
func (p Position) Profit(closingPrice float64) decimal.Decimal {
	return p.Value().Add(p.ClosingPosition(closingPrice).Value()).Neg()
}

// ComboProfit sums the per-leg profits of positions, each evaluated at the close price
// of its own instrument in closes (keyed by option symbol).
func ComboProfit(positions []Position, closes map[string]float64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, pos := range positions {
		price, ok := closes[pos.Option.Symbol()]
		if !ok {
			return decimal.Zero, fmt.Errorf("no closing price for %s", pos.Option.Symbol())
		}
		total = total.Add(pos.Profit(price))
	}
	return total, nil
}
