package oracle

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/moltmarket/bench-engine/internal/model"
)

// ListFilter narrows a market-discovery query. Zero values mean upstream
// defaults; Limit is capped at 100.
type ListFilter struct {
	Limit  int
	Offset int
	Closed *bool
	Order  string // upstream sort key, e.g. "volumeNum"
}

// ListMarkets queries the discovery API and normalizes the results.
func (c *Client) ListMarkets(ctx context.Context, f ListFilter) ([]model.MarketView, error) {
	params := url.Values{}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	if f.Offset > 0 {
		params.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Closed != nil {
		params.Set("closed", strconv.FormatBool(*f.Closed))
	} else {
		params.Set("active", "true")
	}
	if f.Order != "" {
		params.Set("order", f.Order)
		params.Set("ascending", "false")
	}

	var raw []gammaMarket
	if err := c.getGamma(ctx, c.gammaBase+"/markets?"+params.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	markets := make([]model.MarketView, 0, len(raw))
	for _, gm := range raw {
		markets = append(markets, mapGammaMarket(gm))
	}
	return markets, nil
}

// ListEvents queries the discovery API's event groupings.
func (c *Client) ListEvents(ctx context.Context, limit, offset int) ([]model.Event, error) {
	params := url.Values{}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	params.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	params.Set("active", "true")

	var raw []gammaEvent
	if err := c.getGamma(ctx, c.gammaBase+"/events?"+params.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]model.Event, 0, len(raw))
	for _, ge := range raw {
		events = append(events, mapGammaEvent(ge))
	}
	return events, nil
}

// GetEvent fetches a single event by id.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var raw gammaEvent
	if err := c.getGamma(ctx, c.gammaBase+"/events/"+url.PathEscape(eventID), &raw); err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	ev := mapGammaEvent(raw)
	return &ev, nil
}

// gammaMarketByCondition looks a single market up in discovery. Returns
// ErrMarketNotFound when discovery does not know the condition id.
func (c *Client) gammaMarketByCondition(ctx context.Context, conditionID string) (*gammaMarket, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	var raw []gammaMarket
	if err := c.getGamma(ctx, c.gammaBase+"/markets?"+params.Encode(), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrMarketNotFound
	}
	return &raw[0], nil
}
