// Package benchmark derives leaderboard, performance-history, and activity
// views from the trade log. Nothing here is persisted; every read recomputes
// from the store, settling outstanding trades first.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/resolution"
	"github.com/moltmarket/bench-engine/internal/store"
)

var (
	half    = decimal.NewFromFloat(0.5)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// ResolutionSource answers whether a market has settled. Satisfied by
// *oracle.Client.
type ResolutionSource interface {
	FetchResolution(ctx context.Context, conditionID string) (model.Resolution, error)
}

// Aggregator computes benchmark views over all agents.
type Aggregator struct {
	store  store.Store
	oracle ResolutionSource
	engine *resolution.Engine

	now func() time.Time
}

// NewAggregator creates an aggregator over the given store and oracle.
func NewAggregator(s store.Store, o ResolutionSource) *Aggregator {
	return &Aggregator{
		store:  s,
		oracle: o,
		engine: resolution.NewEngine(s),
		now:    time.Now,
	}
}

// tradePnl is the scoring value of a single trade: realized PnL once the
// trade has settled, otherwise a confidence-spread approximation so an
// agent's standing is never blocked on pending settlement.
func tradePnl(t *model.Trade) decimal.Decimal {
	if t.Resolved && t.PnlRealized != nil {
		return *t.PnlRealized
	}
	conf := half
	if t.Confidence != nil {
		conf = *t.Confidence
	}
	qty := t.Qty
	if qty <= 0 {
		qty = 1
	}
	spread := conf.Sub(half).Mul(two)
	pnl := spread.Mul(decimal.NewFromInt(qty))
	if t.Side == model.SideNo {
		pnl = pnl.Neg()
	}
	return pnl
}

// loadTrades reads every agent's trades and indexes the unresolved ones by
// market. Trades are shared by pointer so the settlement pass is visible to
// the scoring pass.
func (a *Aggregator) loadTrades(ctx context.Context, agents []model.Agent) (map[string][]*model.Trade, map[string][]*model.Trade, error) {
	byAgent := make(map[string][]*model.Trade, len(agents))
	byMarket := make(map[string][]*model.Trade)

	for _, agent := range agents {
		trades, err := a.store.ListTradesByAgent(ctx, agent.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list trades for agent %s: %w", agent.ID, err)
		}
		ptrs := make([]*model.Trade, len(trades))
		for i := range trades {
			t := &trades[i]
			ptrs[i] = t
			if !t.Resolved && t.MarketID != "" {
				byMarket[t.MarketID] = append(byMarket[t.MarketID], t)
			}
		}
		byAgent[agent.ID] = ptrs
	}
	return byAgent, byMarket, nil
}

// settleOutstanding asks the oracle once per distinct market whether it has
// resolved, and settles every trade referencing a settled market. A failed
// lookup skips only that market's trades; the read as a whole still serves.
func (a *Aggregator) settleOutstanding(ctx context.Context, byMarket map[string][]*model.Trade) {
	for marketID, trades := range byMarket {
		res, err := a.oracle.FetchResolution(ctx, marketID)
		if err != nil {
			// Resolution unknown; the trades stay open until a later read.
			slog.Warn("resolution lookup failed", "market_id", marketID, "error", err)
			continue
		}
		if !res.Closed || res.OutcomeYes == nil {
			continue
		}
		outcome := *res.OutcomeYes

		for _, t := range trades {
			pnl, _, err := a.engine.Apply(ctx, t, outcome)
			if err != nil {
				slog.Error("settlement failed", "trade_id", t.ID, "market_id", marketID, "error", err)
				continue
			}
			if !t.Resolved {
				// A concurrent pass won the store write; the outcome is the
				// same either way, so score this read with the settled value.
				t.Resolved = true
				o, p := outcome, pnl
				t.OutcomeYes = &o
				t.PnlRealized = &p
			}
		}
	}
}

// Leaderboard recomputes the ranked standings across all agents.
func (a *Aggregator) Leaderboard(ctx context.Context) ([]model.LeaderboardRow, error) {
	agents, err := a.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	byAgent, byMarket, err := a.loadTrades(ctx, agents)
	if err != nil {
		return nil, err
	}
	a.settleOutstanding(ctx, byMarket)

	rows := make([]model.LeaderboardRow, 0, len(agents))
	for _, agent := range agents {
		trades := byAgent[agent.ID]

		totalPnl := decimal.Zero
		maxWin := decimal.Zero
		maxLoss := decimal.Zero
		returns := make([]float64, 0, len(trades))

		for _, t := range trades {
			pnl := tradePnl(t)
			totalPnl = totalPnl.Add(pnl)
			returns = append(returns, pnl.InexactFloat64()/model.StartingCash.InexactFloat64())
			if pnl.GreaterThan(maxWin) {
				maxWin = pnl
			}
			if pnl.LessThan(maxLoss) {
				maxLoss = pnl
			}
		}

		cash := model.StartingCash.Add(totalPnl)
		returnPct := totalPnl.Div(model.StartingCash).Mul(hundred)

		rows = append(rows, model.LeaderboardRow{
			AgentID:      agent.ID,
			AgentName:    agent.Name,
			Color:        agent.Color,
			Cash:         cash.Round(2),
			AccountValue: cash.Round(2),
			Pnl:          totalPnl.Round(2),
			ReturnPct:    returnPct.Round(2),
			Sharpe:       decimal.NewFromFloat(sharpe(returns)).Round(2),
			MaxWin:       maxWin.Round(2),
			MaxLoss:      maxLoss.Round(2),
			Trades:       len(trades),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Pnl.Equal(rows[j].Pnl) {
			return rows[i].Pnl.GreaterThan(rows[j].Pnl)
		}
		return rows[i].AgentID < rows[j].AgentID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// sharpe is mean/stddev over per-trade return fractions, using population
// standard deviation. Zero when fewer than 2 trades or zero variance.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}

// PerformanceHistory builds each agent's cumulative account-value series
// over the trailing window. Every series carries a leading point at the
// window start and a trailing point at now, so all agents span the same
// interval.
func (a *Aggregator) PerformanceHistory(ctx context.Context, hours int) ([]model.PerformanceSeries, error) {
	if hours <= 0 {
		hours = 48
	}

	agents, err := a.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	byAgent, byMarket, err := a.loadTrades(ctx, agents)
	if err != nil {
		return nil, err
	}
	a.settleOutstanding(ctx, byMarket)

	now := a.now().UTC()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	series := make([]model.PerformanceSeries, 0, len(agents))
	for _, agent := range agents {
		value := model.StartingCash
		points := []model.PerformancePoint{
			{Timestamp: cutoff.Unix(), Value: value},
		}

		for _, t := range byAgent[agent.ID] {
			if t.CreatedAt.Before(cutoff) {
				continue
			}
			value = value.Add(tradePnl(t))
			points = append(points, model.PerformancePoint{
				Timestamp: t.CreatedAt.Unix(),
				Value:     value.Round(2),
			})
		}

		points = append(points, model.PerformancePoint{
			Timestamp: now.Unix(),
			Value:     value.Round(2),
		})

		series = append(series, model.PerformanceSeries{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Color:     agent.Color,
			Data:      points,
		})
	}
	return series, nil
}

// Activity returns the newest trades across all agents, raw and unscored.
func (a *Aggregator) Activity(ctx context.Context, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	trades, err := a.store.ListRecentTrades(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent trades: %w", err)
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return trades, nil
}
