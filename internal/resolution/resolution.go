// Package resolution settles trades against resolved market outcomes.
// The PnL computation is a pure function; persistence goes through the
// store's resolve-if-unresolved update so concurrent settlement passes
// apply each trade at most once.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/metrics"
	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/store"
)

var (
	half = decimal.NewFromFloat(0.5)
)

// EntryPrice returns the price a trade is settled against: the recorded
// submission price when present, the caller's declared confidence otherwise,
// and 0.5 when neither is available. The chain is part of the contract, not
// an incidental null fallback.
func EntryPrice(t *model.Trade) decimal.Decimal {
	if t.PriceAtSubmit != nil {
		return *t.PriceAtSubmit
	}
	if t.Confidence != nil {
		return *t.Confidence
	}
	return half
}

// TradePnl computes the realized profit for a trade given the market's
// settled outcome, rounded to 2 decimal places. A contract bought at price p
// pays 1 when it wins and 0 otherwise, so for yes: (outcome - p) * qty and
// for no: (p - outcome) * qty.
func TradePnl(t *model.Trade, outcomeYes int) decimal.Decimal {
	p := EntryPrice(t)
	outcome := decimal.NewFromInt(int64(outcomeYes))
	qty := decimal.NewFromInt(t.Qty)

	var pnl decimal.Decimal
	if t.Side == model.SideNo {
		pnl = p.Sub(outcome).Mul(qty)
	} else {
		pnl = outcome.Sub(p).Mul(qty)
	}
	return pnl.Round(2)
}

// Engine applies resolutions idempotently through a Store.
type Engine struct {
	store store.Store
}

// NewEngine creates a resolution engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Apply settles one trade with the given outcome. Returns the realized PnL
// and whether this call performed the settlement; applied is false when the
// trade was already resolved, in which case the stored values are untouched.
func (e *Engine) Apply(ctx context.Context, t *model.Trade, outcomeYes int) (pnl decimal.Decimal, applied bool, err error) {
	if t.Resolved {
		if t.PnlRealized != nil {
			return *t.PnlRealized, false, nil
		}
		return decimal.Zero, false, nil
	}

	pnl = TradePnl(t, outcomeYes)
	now := time.Now().UTC()

	applied, err = e.store.MarkResolved(ctx, t.ID, outcomeYes, pnl, now)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("resolve trade %s: %w", t.ID, err)
	}
	if !applied {
		// Lost the race to a concurrent pass; the winner's values stand.
		return pnl, false, nil
	}

	t.Resolved = true
	t.OutcomeYes = &outcomeYes
	t.PnlRealized = &pnl
	t.ResolvedAt = &now
	metrics.ResolutionsApplied.Inc()
	return pnl, true, nil
}
