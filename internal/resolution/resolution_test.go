package resolution_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/resolution"
	"github.com/moltmarket/bench-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func dp(f float64) *decimal.Decimal {
	v := decimal.NewFromFloat(f)
	return &v
}

func TestTradePnl_SignCorrectness(t *testing.T) {
	yes := &model.Trade{Side: model.SideYes, Qty: 10, PriceAtSubmit: dp(0.3)}
	assert.True(t, resolution.TradePnl(yes, 1).Equal(d(7.0)), "yes win: (1-0.3)*10")
	assert.True(t, resolution.TradePnl(yes, 0).Equal(d(-3.0)), "yes loss: (0-0.3)*10")

	no := &model.Trade{Side: model.SideNo, Qty: 10, PriceAtSubmit: dp(0.3)}
	assert.True(t, resolution.TradePnl(no, 1).Equal(d(-7.0)), "no loss: (0.3-1)*10")
	assert.True(t, resolution.TradePnl(no, 0).Equal(d(3.0)), "no win: (0.3-0)*10")
}

func TestTradePnl_PriceFallbackChain(t *testing.T) {
	// Submission price wins over confidence.
	both := &model.Trade{Side: model.SideYes, Qty: 10, PriceAtSubmit: dp(0.3), Confidence: dp(0.9)}
	assert.True(t, resolution.TradePnl(both, 1).Equal(d(7.0)))

	// Confidence when no submission price was recorded.
	confOnly := &model.Trade{Side: model.SideYes, Qty: 10, Confidence: dp(0.9)}
	assert.True(t, resolution.TradePnl(confOnly, 1).Equal(d(1.0)))

	// 0.5 when neither is available.
	neither := &model.Trade{Side: model.SideYes, Qty: 10}
	assert.True(t, resolution.TradePnl(neither, 1).Equal(d(5.0)))
}

func TestTradePnl_RoundsToTwoDecimals(t *testing.T) {
	trade := &model.Trade{Side: model.SideYes, Qty: 3, PriceAtSubmit: dp(0.333)}
	// (1 - 0.333) * 3 = 2.001 -> 2.00
	assert.Equal(t, "2", resolution.TradePnl(trade, 1).String())
}

func seedTrade(t *testing.T, ms *store.MemoryStore) *model.Trade {
	t.Helper()
	trade := &model.Trade{
		ID:            "trade-1",
		AgentID:       "agent-1",
		MarketID:      "0xmarket",
		Side:          model.SideYes,
		Qty:           10,
		PriceAtSubmit: dp(0.3),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, ms.InsertTrade(context.Background(), trade))
	return trade
}

func TestApply_SettlesOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	engine := resolution.NewEngine(ms)
	trade := seedTrade(t, ms)

	pnl, applied, err := engine.Apply(context.Background(), trade, 1)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, pnl.Equal(d(7.0)))

	stored, err := ms.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.True(t, stored.Resolved)
	require.NotNil(t, stored.OutcomeYes)
	assert.Equal(t, 1, *stored.OutcomeYes)
	require.NotNil(t, stored.PnlRealized)
	assert.True(t, stored.PnlRealized.Equal(d(7.0)))
	assert.NotNil(t, stored.ResolvedAt)
}

func TestApply_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	engine := resolution.NewEngine(ms)
	trade := seedTrade(t, ms)

	first, applied, err := engine.Apply(context.Background(), trade, 1)
	require.NoError(t, err)
	require.True(t, applied)

	firstResolvedAt := *trade.ResolvedAt

	// Second application is a no-op; the stored values stay put even with a
	// contradictory outcome.
	second, applied, err := engine.Apply(context.Background(), trade, 0)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, second.Equal(first))

	stored, err := ms.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.OutcomeYes)
	assert.Equal(t, 1, *stored.OutcomeYes)
	assert.True(t, stored.PnlRealized.Equal(d(7.0)))
	assert.True(t, stored.ResolvedAt.Equal(firstResolvedAt))
}

func TestApply_RaceLoser(t *testing.T) {
	ms := store.NewMemoryStore()
	engine := resolution.NewEngine(ms)
	trade := seedTrade(t, ms)

	// A concurrent pass settled the trade in the store, but this goroutine
	// still holds the stale unresolved snapshot.
	stale := *trade
	_, applied, err := engine.Apply(context.Background(), trade, 1)
	require.NoError(t, err)
	require.True(t, applied)

	pnl, applied, err := engine.Apply(context.Background(), &stale, 1)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, pnl.Equal(d(7.0)))
}
