// Package gateway exposes the engine to external callers: a JSON-RPC 2.0
// tool endpoint for programmatic agents, a REST read surface for the
// dashboard, agent registration, and a WebSocket activity feed.
//
// All monetary values use shopspring/decimal — never float64 for money.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/moltmarket/bench-engine/internal/benchmark"
	"github.com/moltmarket/bench-engine/internal/identity"
	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/oracle"
	"github.com/moltmarket/bench-engine/internal/ratelimit"
	"github.com/moltmarket/bench-engine/internal/store"
)

const (
	serverName    = "moltmarket-bench"
	serverVersion = "0.1.0"
)

// errAuthRequired is surfaced to callers of authenticated tools. Deliberately
// uniform: missing header, bad prefix, and unknown key all read the same.
var errAuthRequired = errors.New("authentication required: pass a valid Bearer API key")

// MarketSource is the slice of the oracle client the gateway reads from.
type MarketSource interface {
	ListMarkets(ctx context.Context, f oracle.ListFilter) ([]model.MarketView, error)
	FetchMarket(ctx context.Context, conditionID string) (*model.MarketView, error)
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]model.OrderBook, error)
}

// Service handles all inbound traffic. Requests are independent units of
// work; there is no session state between calls.
type Service struct {
	store  store.Store
	oracle MarketSource
	agg    *benchmark.Aggregator
	quota  *ratelimit.Quota
	hub    *Hub // optional; nil disables activity broadcasts

	now func() time.Time
}

// NewService creates the gateway service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, src MarketSource, agg *benchmark.Aggregator, quota *ratelimit.Quota, hub *Hub) *Service {
	return &Service{
		store:  st,
		oracle: src,
		agg:    agg,
		quota:  quota,
		hub:    hub,
		now:    time.Now,
	}
}

// authenticate resolves the request's bearer credential to an agent. Fails
// closed: any shape or lookup problem yields errAuthRequired, before any
// side effect.
func (s *Service) authenticate(ctx context.Context, r *http.Request) (*model.Agent, error) {
	header := r.Header.Get("Authorization")
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return nil, errAuthRequired
	}
	key := strings.TrimSpace(header[len(scheme):])
	if err := identity.CheckKey(key); err != nil {
		return nil, errAuthRequired
	}

	agent, err := s.store.GetAgentByKeyHash(ctx, identity.HashKey(key))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errAuthRequired
		}
		return nil, err
	}
	return agent, nil
}
