// Package model defines the core domain types shared across the benchmark
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideYes = "yes"
	SideNo  = "no"
)

// StartingCash is the simulated bankroll every agent scores against.
// It is a benchmark constant, derived at read time and never stored per agent.
var StartingCash = decimal.NewFromInt(10000)

// Agent is a registered programmatic caller. Created on registration; the
// credential hash never rotates without re-registration.
type Agent struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Color       string    `json:"color" db:"color"`
	APIKeyHash  string    `json:"-" db:"api_key_hash"`
	Status      string    `json:"status" db:"status"` // "active"
	Karma       int64     `json:"karma" db:"karma"`
	TradeCount  int64     `json:"trade_count" db:"trade_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Trade is a simulated bet on a binary market. AgentID and UserID are
// mutually exclusive owners. Resolution fields start unset and are written
// exactly once: Resolved is monotonic false→true, and OutcomeYes,
// PnlRealized, ResolvedAt are either all unset or all set.
type Trade struct {
	ID            string           `json:"id" db:"id"`
	AgentID       string           `json:"agent_id,omitempty" db:"agent_id"`
	AgentName     string           `json:"agent_name,omitempty" db:"agent_name"`
	UserID        string           `json:"user_id,omitempty" db:"user_id"`
	MarketID      string           `json:"market_id" db:"market_id"`
	Ticker        string           `json:"ticker" db:"ticker"`
	Side          string           `json:"side" db:"side"` // "yes" or "no"
	Qty           int64            `json:"qty" db:"qty"`
	Confidence    *decimal.Decimal `json:"confidence,omitempty" db:"confidence"`
	PriceAtSubmit *decimal.Decimal `json:"price_at_submit,omitempty" db:"price_at_submit"`
	Resolved      bool             `json:"resolved" db:"resolved"`
	OutcomeYes    *int             `json:"outcome_yes,omitempty" db:"outcome_yes"`
	PnlRealized   *decimal.Decimal `json:"pnl_realized,omitempty" db:"pnl_realized"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// Owner returns the caller identity this trade belongs to.
func (t *Trade) Owner() string {
	if t.AgentID != "" {
		return t.AgentID
	}
	return t.UserID
}

// MarketToken is one outcome token of a binary market.
type MarketToken struct {
	TokenID string          `json:"token_id"`
	Outcome string          `json:"outcome"` // "Yes" or "No"
	Price   decimal.Decimal `json:"price"`
	Winner  bool            `json:"winner"`
}

// MarketView is the canonical market shape the oracle client normalizes
// every upstream response into, regardless of which sub-API answered.
type MarketView struct {
	ConditionID string          `json:"condition_id"`
	Question    string          `json:"question"`
	Slug        string          `json:"slug,omitempty"`
	YesPrice    decimal.Decimal `json:"yes_price"`
	NoPrice     decimal.Decimal `json:"no_price"`
	Tokens      []MarketToken   `json:"tokens"`
	Active      bool            `json:"active"`
	Closed      bool            `json:"closed"`
	Volume      decimal.Decimal `json:"volume"`
	EndDate     time.Time       `json:"end_date,omitempty"`
}

// Event groups related markets under one headline on the discovery API.
type Event struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Slug    string          `json:"slug,omitempty"`
	Volume  decimal.Decimal `json:"volume"`
	EndDate time.Time       `json:"end_date,omitempty"`
	Markets []MarketView    `json:"markets"`
}

// Resolution is the settlement state of a market as inferred by the oracle
// client. OutcomeYes is nil while the market is open or its settlement price
// is ambiguous (exactly 0.5 at close).
type Resolution struct {
	Closed     bool `json:"closed"`
	OutcomeYes *int `json:"outcome_yes"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook holds the book for one outcome token, best level first.
type OrderBook struct {
	TokenID string      `json:"token_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
}

// BestBid returns the highest bid, or zero when the side is empty.
func (b OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero when the side is empty.
func (b OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Mid returns the midpoint of best bid and best ask. Falls back to whichever
// side is present when the other is empty.
func (b OrderBook) Mid() decimal.Decimal {
	bid, ask := b.BestBid(), b.BestAsk()
	switch {
	case bid.IsZero():
		return ask
	case ask.IsZero():
		return bid
	default:
		return bid.Add(ask).Div(decimal.NewFromInt(2))
	}
}

// LeaderboardRow is a derived per-agent summary, recomputed on every read
// and never persisted.
type LeaderboardRow struct {
	Rank         int             `json:"rank"`
	AgentID      string          `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	Color        string          `json:"color"`
	Cash         decimal.Decimal `json:"cash"`
	AccountValue decimal.Decimal `json:"account_value"`
	Pnl          decimal.Decimal `json:"pnl"`
	ReturnPct    decimal.Decimal `json:"return_pct"`
	Sharpe       decimal.Decimal `json:"sharpe"`
	MaxWin       decimal.Decimal `json:"max_win"`
	MaxLoss      decimal.Decimal `json:"max_loss"`
	Trades       int             `json:"trades"`
}

// PerformancePoint is one sample of an agent's cumulative account value.
type PerformancePoint struct {
	Timestamp int64           `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// PerformanceSeries is an agent's account-value series over a shared window.
// Every series is pinned to the window start and to "now" so all agents span
// the same interval for charting.
type PerformanceSeries struct {
	AgentID   string             `json:"agent_id"`
	AgentName string             `json:"agent_name"`
	Color     string             `json:"color"`
	Data      []PerformancePoint `json:"data"`
}
