package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/metrics"
	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/oracle"
	"github.com/moltmarket/bench-engine/internal/ratelimit"
)

const maxTickerLen = 500

// toolDef describes one entry of the fixed tool registry, in the shape
// tools/list clients expect.
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

var toolDefs = []toolDef{
	{
		Name:        "list_markets",
		Description: "List active prediction markets. Returns market objects with question, outcomes, and prices.",
		InputSchema: objSchema(map[string]any{
			"limit":  map[string]any{"type": "number", "description": "Max markets to return (default 20)"},
			"offset": map[string]any{"type": "number", "description": "Pagination offset (default 0)"},
		}),
	},
	{
		Name:        "get_market_price",
		Description: "Get the current yes/no price for a market by condition_id.",
		InputSchema: objSchema(map[string]any{
			"condition_id": map[string]any{"type": "string", "description": "Market condition id"},
		}, "condition_id"),
	},
	{
		Name:        "get_event",
		Description: "Get one event by id, with its associated markets.",
		InputSchema: objSchema(map[string]any{
			"event_id": map[string]any{"type": "string", "description": "Event id"},
		}, "event_id"),
	},
	{
		Name:        "get_leaderboard",
		Description: "Get the current benchmark leaderboard: agent entries with PnL, Sharpe, and rank.",
		InputSchema: objSchema(map[string]any{}),
	},
	{
		Name:        "get_activity",
		Description: "Get the latest trades across all agents, newest first.",
		InputSchema: objSchema(map[string]any{
			"limit": map[string]any{"type": "number", "description": "Max trades to return (default 50)"},
		}),
	},
	{
		Name:        "submit_prediction",
		Description: "Submit a simulated prediction on a market. Requires a Bearer API key. Rate limited per agent.",
		InputSchema: objSchema(map[string]any{
			"market_id":    map[string]any{"type": "string", "description": "Market condition id"},
			"market_title": map[string]any{"type": "string", "description": "Human-readable market question"},
			"side":         map[string]any{"type": "string", "description": "'yes' or 'no'"},
			"confidence":   map[string]any{"type": "number", "description": "Declared probability in [0,1]"},
			"qty":          map[string]any{"type": "number", "description": "Contracts to buy (default confidence*100)"},
		}, "market_id", "side", "confidence"),
	},
	{
		Name:        "get_my_trades",
		Description: "Get the authenticated agent's own trades, newest first. Requires a Bearer API key.",
		InputSchema: objSchema(map[string]any{
			"limit": map[string]any{"type": "number", "description": "Max trades to return (default 50)"},
		}),
	},
}

func objSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// executeTool runs one registry tool. Returned errors become isError tool
// results, not protocol errors.
func (s *Service) executeTool(r *http.Request, name string, args json.RawMessage) (any, error) {
	ctx := r.Context()

	switch name {
	case "list_markets":
		var a struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		parseArgs(args, &a)
		if a.Limit <= 0 {
			a.Limit = 20
		}
		return s.oracle.ListMarkets(ctx, oracle.ListFilter{Limit: a.Limit, Offset: a.Offset})

	case "get_market_price":
		var a struct {
			ConditionID string `json:"condition_id"`
		}
		parseArgs(args, &a)
		if a.ConditionID == "" {
			return nil, errors.New("condition_id is required")
		}
		return s.marketPrice(ctx, a.ConditionID)

	case "get_event":
		var a struct {
			EventID string `json:"event_id"`
		}
		parseArgs(args, &a)
		if a.EventID == "" {
			return nil, errors.New("event_id is required")
		}
		return s.oracle.GetEvent(ctx, a.EventID)

	case "get_leaderboard":
		return s.agg.Leaderboard(ctx)

	case "get_activity":
		var a struct {
			Limit int `json:"limit"`
		}
		parseArgs(args, &a)
		return s.agg.Activity(ctx, a.Limit)

	case "submit_prediction":
		agent, err := s.authenticate(ctx, r)
		if err != nil {
			return nil, err
		}
		var a submitArgs
		parseArgs(args, &a)
		return s.submitPrediction(ctx, agent, a)

	case "get_my_trades":
		agent, err := s.authenticate(ctx, r)
		if err != nil {
			return nil, err
		}
		var a struct {
			Limit int `json:"limit"`
		}
		parseArgs(args, &a)
		if a.Limit <= 0 {
			a.Limit = 50
		}
		if a.Limit > 200 {
			a.Limit = 200
		}
		trades, err := s.store.ListTradesByOwner(ctx, agent.ID, a.Limit)
		if err != nil {
			return nil, err
		}
		if trades == nil {
			trades = []model.Trade{}
		}
		return trades, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// parseArgs decodes tool arguments leniently; absent or malformed arguments
// leave the struct zeroed and fail later on per-field validation.
func parseArgs(args json.RawMessage, out any) {
	if len(args) > 0 {
		_ = json.Unmarshal(args, out)
	}
}

// marketPrice returns the market with its yes price backfilled from the
// order book midpoint when neither sub-API carried a usable price.
func (s *Service) marketPrice(ctx context.Context, conditionID string) (*model.MarketView, error) {
	m, err := s.oracle.FetchMarket(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	if m.YesPrice.IsPositive() || len(m.Tokens) == 0 {
		return m, nil
	}

	books, err := s.oracle.FetchOrderBooks(ctx, []string{m.Tokens[0].TokenID})
	if err != nil {
		// Book lookup is best effort; the market itself still answers.
		return m, nil
	}
	if book, ok := books[m.Tokens[0].TokenID]; ok {
		m.YesPrice = book.Mid()
		m.NoPrice = decimal.NewFromInt(1).Sub(m.YesPrice)
	}
	return m, nil
}

type submitArgs struct {
	MarketID    string           `json:"market_id"`
	MarketTitle string           `json:"market_title"`
	Side        string           `json:"side"`
	Confidence  *decimal.Decimal `json:"confidence"`
	Qty         int64            `json:"qty"`
}

// submitPrediction validates and records one trade. The submission price is
// fetched best effort: an unreachable oracle omits price_at_submit rather
// than blocking the write.
func (s *Service) submitPrediction(ctx context.Context, agent *model.Agent, a submitArgs) (*model.Trade, error) {
	if a.MarketID == "" {
		return nil, errors.New("market_id is required")
	}
	side := strings.ToLower(a.Side)
	if side != model.SideYes && side != model.SideNo {
		return nil, errors.New("side must be 'yes' or 'no'")
	}
	if a.Confidence == nil {
		return nil, errors.New("confidence is required")
	}
	conf := *a.Confidence
	if conf.LessThan(decimal.Zero) || conf.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("confidence must be between 0 and 1")
	}

	qty := a.Qty
	if qty == 0 {
		qty = conf.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
		if qty < 1 {
			qty = 1
		}
	}
	if qty < 1 || qty > 10000 {
		return nil, errors.New("qty must be between 1 and 10000")
	}

	// The attempt counts against the window whether or not it is admitted.
	now := s.now()
	key := s.quota.BucketKey(ratelimit.KindAgent, agent.ID, now)
	count, err := s.store.IncrCounter(ctx, key, ratelimit.Window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if err := s.quota.Check(count); err != nil {
		metrics.RateLimitRejections.Inc()
		return nil, err
	}

	var priceAtSubmit *decimal.Decimal
	if m, err := s.oracle.FetchMarket(ctx, a.MarketID); err == nil && m.YesPrice.IsPositive() {
		p := m.YesPrice
		priceAtSubmit = &p
	} else if err != nil {
		slog.Warn("price fetch failed at submit", "market_id", a.MarketID, "error", err)
	}

	ticker := a.MarketTitle
	if ticker == "" {
		ticker = a.MarketID
	}
	if len(ticker) > maxTickerLen {
		ticker = ticker[:maxTickerLen]
	}

	trade := &model.Trade{
		ID:            uuid.New().String(),
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		MarketID:      a.MarketID,
		Ticker:        ticker,
		Side:          side,
		Qty:           qty,
		Confidence:    &conf,
		PriceAtSubmit: priceAtSubmit,
		CreatedAt:     now.UTC(),
	}

	if err := s.store.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}
	if err := s.store.IncrementTradeCount(ctx, agent.ID); err != nil {
		slog.Error("trade count update failed", "agent_id", agent.ID, "error", err)
	}

	metrics.TradesSubmitted.WithLabelValues(side).Inc()
	slog.Info("prediction submitted",
		"trade_id", trade.ID,
		"agent", agent.Name,
		"market_id", a.MarketID,
		"side", side,
		"qty", qty,
		"confidence", conf.String(),
	)

	if s.hub != nil {
		s.hub.BroadcastTrade(trade)
	}
	return trade, nil
}
