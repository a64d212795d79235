package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/model"
)

var one = decimal.NewFromInt(1)
var half = decimal.NewFromFloat(0.5)

// FetchMarket resolves a condition id into the canonical market shape.
// Discovery (Gamma) is the richer schema and is preferred; the order-book
// (CLOB) schema is consulted only when discovery does not know the market.
func (c *Client) FetchMarket(ctx context.Context, conditionID string) (*model.MarketView, error) {
	gm, err := c.gammaMarketByCondition(ctx, conditionID)
	if err == nil {
		m := mapGammaMarket(*gm)
		return &m, nil
	}
	if !errors.Is(err, ErrMarketNotFound) && !IsPermanent(err) {
		return nil, fmt.Errorf("fetch market %s: %w", conditionID, err)
	}

	cm, err := c.clobMarketByCondition(ctx, conditionID)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", conditionID, err)
	}
	m := mapCLOBMarket(*cm)
	return &m, nil
}

// FetchResolution reports whether a market has settled and which side won.
// OutcomeYes stays nil while the market is open or its settlement price is
// ambiguous (exactly 0.5 at close). Any error means the resolution is
// unknown; it never implies a settled-no outcome.
func (c *Client) FetchResolution(ctx context.Context, conditionID string) (model.Resolution, error) {
	m, err := c.FetchMarket(ctx, conditionID)
	if err != nil {
		return model.Resolution{}, err
	}

	if m.Active && !m.Closed {
		return model.Resolution{Closed: false}, nil
	}

	// A winner-flagged token settles the market outright.
	for _, t := range m.Tokens {
		if t.Winner {
			outcome := 0
			if strings.EqualFold(t.Outcome, "yes") {
				outcome = 1
			}
			return model.Resolution{Closed: true, OutcomeYes: &outcome}, nil
		}
	}

	// Otherwise the settlement yes-price decides; exactly 0.5 is ambiguous.
	switch {
	case m.YesPrice.GreaterThan(half):
		outcome := 1
		return model.Resolution{Closed: true, OutcomeYes: &outcome}, nil
	case m.YesPrice.LessThan(half):
		outcome := 0
		return model.Resolution{Closed: true, OutcomeYes: &outcome}, nil
	default:
		return model.Resolution{Closed: true}, nil
	}
}

// --- Normalization ---

func mapGammaMarket(gm gammaMarket) model.MarketView {
	m := model.MarketView{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		Active:      gm.Active,
		Closed:      gm.Closed,
		EndDate:     parseEndDate(gm.EndDate),
	}
	if v, err := decimal.NewFromString(gm.Volume.String()); err == nil {
		m.Volume = v
	}

	prices := parsePriceList(gm.OutcomePrices)
	tokenIDs := parseStringList(gm.ClobTokenIDs)

	// Yes price: outcome-price vector first, bid/ask midpoint as fallback.
	switch {
	case len(prices) > 0:
		m.YesPrice = clamp01(prices[0])
	default:
		bid, bidOK := numberToDecimal(gm.BestBid)
		ask, askOK := numberToDecimal(gm.BestAsk)
		switch {
		case bidOK && askOK:
			m.YesPrice = clamp01(bid.Add(ask).Div(decimal.NewFromInt(2)))
		case bidOK:
			m.YesPrice = clamp01(bid)
		case askOK:
			m.YesPrice = clamp01(ask)
		}
	}
	m.NoPrice = one.Sub(m.YesPrice)

	// Discovery lists the Yes token first by convention.
	outcomes := []string{"Yes", "No"}
	for i, id := range tokenIDs {
		if i >= 2 {
			break
		}
		t := model.MarketToken{TokenID: id, Outcome: outcomes[i]}
		if i < len(prices) {
			t.Price = clamp01(prices[i])
		}
		m.Tokens = append(m.Tokens, t)
	}
	return m
}

func mapGammaEvent(ge gammaEvent) model.Event {
	ev := model.Event{
		ID:      ge.ID,
		Title:   ge.Title,
		Slug:    ge.Slug,
		EndDate: parseEndDate(ge.EndDate),
	}
	if v, err := decimal.NewFromString(ge.Volume.String()); err == nil {
		ev.Volume = v
	}
	for _, gm := range ge.Markets {
		ev.Markets = append(ev.Markets, mapGammaMarket(gm))
	}
	return ev
}

func mapCLOBMarket(cm clobMarket) model.MarketView {
	m := model.MarketView{
		ConditionID: cm.ConditionID,
		Question:    cm.Question,
		Slug:        cm.MarketSlug,
		Active:      cm.Active,
		Closed:      cm.Closed,
		EndDate:     parseEndDate(cm.EndDateISO),
	}
	for _, t := range cm.Tokens {
		token := model.MarketToken{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Winner:  t.Winner,
		}
		if p, ok := numberToDecimal(t.Price); ok {
			token.Price = clamp01(p)
		}
		if strings.EqualFold(t.Outcome, "yes") {
			m.YesPrice = token.Price
		}
		m.Tokens = append(m.Tokens, token)
	}
	m.NoPrice = one.Sub(m.YesPrice)
	return m
}

func mapBookLevels(raw []rawLevel, ascending bool) []model.BookLevel {
	levels := make([]model.BookLevel, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		size, err := decimal.NewFromString(r.Size)
		if err != nil || size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		levels = append(levels, model.BookLevel{Price: price, Size: size})
	}

	sort.Slice(levels, func(i, j int) bool {
		if ascending {
			return levels[i].Price.LessThan(levels[j].Price)
		}
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
	return levels
}

// parsePriceList decodes an outcome-price vector, which arrives either as a
// JSON-encoded array of strings or as a bare comma-separated string.
func parsePriceList(s string) []decimal.Decimal {
	if s == "" {
		return nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		entries = strings.Split(s, ",")
	}
	var prices []decimal.Decimal
	for _, e := range entries {
		if p, err := decimal.NewFromString(strings.TrimSpace(e)); err == nil {
			prices = append(prices, p)
		}
	}
	return prices
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		entries = strings.Split(s, ",")
	}
	out := entries[:0]
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// parseEndDate tries the date formats the upstream is known to emit.
func parseEndDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func numberToDecimal(n json.Number) (decimal.Decimal, bool) {
	if n.String() == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	switch {
	case d.LessThan(decimal.Zero):
		return decimal.Zero
	case d.GreaterThan(one):
		return one
	default:
		return d
	}
}
