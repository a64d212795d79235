package oracle

import "encoding/json"

// Raw upstream DTOs, used only inside this package. Normalization into
// model types lives in market.go.

// --- Gamma (discovery) API ---

// gammaMarket is the discovery-side market shape. Gamma returns several
// numeric fields as JSON strings and nests arrays inside string-encoded
// JSON, so fields are decoded leniently here and parsed during mapping.
type gammaMarket struct {
	ConditionID   string      `json:"conditionId"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	EndDate       string      `json:"endDate"`
	OutcomePrices string      `json:"outcomePrices"` // JSON-encoded array, e.g. `["0.65","0.35"]`
	ClobTokenIDs  string      `json:"clobTokenIds"`  // JSON-encoded array of token ids
	Volume        json.Number `json:"volumeNum"`
	BestBid       json.Number `json:"bestBid"`
	BestAsk       json.Number `json:"bestAsk"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
}

// gammaEvent groups related markets under one headline.
type gammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	EndDate string        `json:"endDate"`
	Volume  json.Number   `json:"volume"`
	Markets []gammaMarket `json:"markets"`
}

// --- CLOB (order-book) API ---

// clobMarket is the order-book-side market shape.
type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	MarketSlug  string      `json:"market_slug"`
	EndDateISO  string      `json:"end_date_iso"`
	Tokens      []clobToken `json:"tokens"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// clobToken is one outcome token (Yes/No) in the CLOB schema.
type clobToken struct {
	TokenID string      `json:"token_id"`
	Outcome string      `json:"outcome"`
	Price   json.Number `json:"price"`
	Winner  bool        `json:"winner"`
}

// bookRequest is one item of the POST /books batch body.
type bookRequest struct {
	TokenID string `json:"token_id"`
}

// bookResponse is one order book in the POST /books batch response.
type bookResponse struct {
	AssetID string     `json:"asset_id"`
	Bids    []rawLevel `json:"bids"`
	Asks    []rawLevel `json:"asks"`
}

// rawLevel is a raw price level; prices arrive as strings for precision.
type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
