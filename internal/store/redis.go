package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Agent lookups are cached because authentication hits the key-hash
// path on every tool call; rate counters use native Redis INCR so the
// increment stays atomic across engine replicas.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	if err := s.primary.CreateAgent(ctx, a); err != nil {
		return err
	}
	s.cacheAgent(ctx, a)
	return nil
}

func (s *CachedStore) IncrementTradeCount(ctx context.Context, agentID string) error {
	if err := s.primary.IncrementTradeCount(ctx, agentID); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the fresh count.
	s.rdb.Del(ctx, agentKey(agentID))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) MarkResolved(ctx context.Context, tradeID string, outcomeYes int, pnl decimal.Decimal, at time.Time) (bool, error) {
	return s.primary.MarkResolved(ctx, tradeID, outcomeYes, pnl, at)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	data, err := s.rdb.Get(ctx, agentKey(id)).Bytes()
	if err == nil {
		var a model.Agent
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAgent(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAgentByKeyHash(ctx context.Context, hash string) (*model.Agent, error) {
	// Try cache via hash→agentID mapping.
	agentID, err := s.rdb.Get(ctx, keyHashKey(hash)).Result()
	if err == nil {
		return s.GetAgent(ctx, agentID)
	}

	a, err := s.primary.GetAgentByKeyHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	// Cache both the agent and the hash→ID mapping.
	s.cacheAgent(ctx, a)
	s.rdb.Set(ctx, keyHashKey(hash), a.ID, s.ttl)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	return s.primary.GetAgentByName(ctx, name)
}

func (s *CachedStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	return s.primary.ListAgents(ctx)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListTradesByAgent(ctx context.Context, agentID string) ([]model.Trade, error) {
	return s.primary.ListTradesByAgent(ctx, agentID)
}

func (s *CachedStore) ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByOwner(ctx, ownerID, limit)
}

func (s *CachedStore) ListRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	return s.primary.ListRecentTrades(ctx, limit)
}

func (s *CachedStore) ListUnresolvedByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.ListUnresolvedByMarket(ctx, marketID)
}

// --- Counters ---

// IncrCounter uses Redis INCR directly so the count is shared and atomic
// across replicas. The TTL is set only when the key is first created, which
// keeps the window anchored to the first request in the bucket.
func (s *CachedStore) IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Redis down: fall back to the primary so limits stay enforced.
		return s.primary.IncrCounter(ctx, key, ttl)
	}
	if count == 1 {
		s.rdb.Expire(ctx, key, ttl)
	}
	return count, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheAgent(ctx context.Context, a *model.Agent) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, agentKey(a.ID), data, s.ttl)
	}
}

func agentKey(id string) string    { return fmt.Sprintf("agent:%s", id) }
func keyHashKey(h string) string   { return fmt.Sprintf("agentkey:%s", h) }
