package oracle

import (
	"context"
	"fmt"
	"net/url"

	"github.com/moltmarket/bench-engine/internal/model"
)

// clobMarketByCondition fetches a single market from the order-book API.
func (c *Client) clobMarketByCondition(ctx context.Context, conditionID string) (*clobMarket, error) {
	var raw clobMarket
	if err := c.getCLOB(ctx, c.clobBase+"/markets/"+url.PathEscape(conditionID), &raw); err != nil {
		if IsPermanent(err) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}
	if raw.ConditionID == "" {
		return nil, ErrMarketNotFound
	}
	return &raw, nil
}

// FetchOrderBooks fetches order books for the given token ids in one batch
// call, keyed by token id. Tokens the upstream does not know are absent from
// the result.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]model.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]model.OrderBook{}, nil
	}

	body := make([]bookRequest, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		body = append(body, bookRequest{TokenID: id})
	}

	var raw []bookResponse
	if err := c.postCLOB(ctx, c.clobBase+"/books", body, &raw); err != nil {
		return nil, fmt.Errorf("fetch order books: %w", err)
	}

	books := make(map[string]model.OrderBook, len(raw))
	for _, r := range raw {
		books[r.AssetID] = model.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookLevels(r.Bids, false),
			Asks:    mapBookLevels(r.Asks, true),
		}
	}
	return books, nil
}
