package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/model"
)

// MemoryStore is an in-memory Store used in tests and for local development
// without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]*model.Agent
	trades   map[string]*model.Trade
	order    []string // trade ids in insertion order
	counters map[string]*counter
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]*model.Agent),
		trades:   make(map[string]*model.Trade),
		counters: make(map[string]*counter),
	}
}

func (s *MemoryStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.Name == agent.Name {
			return ErrDuplicate
		}
	}
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Name == name {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetAgentByKeyHash(ctx context.Context, hash string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.APIKeyHash == hash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) IncrementTradeCount(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.TradeCount++
	return nil
}

func (s *MemoryStore) InsertTrade(ctx context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.ID]; ok {
		return ErrDuplicate
	}
	cp := *trade
	s.trades[trade.ID] = &cp
	s.order = append(s.order, trade.ID)
	return nil
}

func (s *MemoryStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTradesByAgent(ctx context.Context, agentID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, id := range s.order {
		if t := s.trades[id]; t.AgentID != "" && t.AgentID == agentID {
			out = append(out, *t)
		}
	}
	// Oldest first by timestamp, matching the SQL ORDER BY; insertion order
	// breaks ties.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if t := s.trades[s.order[i]]; t.Owner() == ownerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.trades[s.order[i]])
	}
	return out, nil
}

func (s *MemoryStore) ListUnresolvedByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, id := range s.order {
		if t := s.trades[id]; t.MarketID == marketID && !t.Resolved {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkResolved(ctx context.Context, tradeID string, outcomeYes int, pnl decimal.Decimal, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[tradeID]
	if !ok {
		return false, ErrNotFound
	}
	if t.Resolved {
		return false, nil
	}
	t.Resolved = true
	t.OutcomeYes = &outcomeYes
	t.PnlRealized = &pnl
	t.ResolvedAt = &at
	return true, nil
}

func (s *MemoryStore) IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}
