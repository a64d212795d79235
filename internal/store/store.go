// Package store defines the persistence interface for the benchmark engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache plus atomic rate counters), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence interface. Trades are append-only apart from the
// one-shot resolution write, which every backend must apply as an atomic
// "only if not already resolved" update.
type Store interface {
	// --- Agent operations ---

	// CreateAgent persists a new agent. Returns ErrDuplicate when the
	// display name is taken.
	CreateAgent(ctx context.Context, agent *model.Agent) error

	// GetAgent retrieves an agent by id.
	GetAgent(ctx context.Context, id string) (*model.Agent, error)

	// GetAgentByName retrieves an agent by display name.
	GetAgentByName(ctx context.Context, name string) (*model.Agent, error)

	// GetAgentByKeyHash resolves a credential hash to its agent.
	GetAgentByKeyHash(ctx context.Context, hash string) (*model.Agent, error)

	// ListAgents returns all registered agents.
	ListAgents(ctx context.Context) ([]model.Agent, error)

	// IncrementTradeCount bumps an agent's trade counter by one.
	IncrementTradeCount(ctx context.Context, agentID string) error

	// --- Trade operations ---

	// InsertTrade appends a new trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// GetTrade retrieves a trade by id.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTradesByAgent returns all trades for an agent, oldest first.
	ListTradesByAgent(ctx context.Context, agentID string) ([]model.Trade, error)

	// ListTradesByOwner returns up to limit trades owned by the given
	// caller identity (agent id or human session id), newest first.
	ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error)

	// ListRecentTrades returns the newest trades across all owners.
	ListRecentTrades(ctx context.Context, limit int) ([]model.Trade, error)

	// ListUnresolvedByMarket returns all unresolved trades referencing a market.
	ListUnresolvedByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// MarkResolved sets resolved/outcome_yes/pnl_realized/resolved_at on a
	// trade, only if it is not already resolved. Returns applied=false when
	// another caller won the race; the stored values are then left untouched.
	MarkResolved(ctx context.Context, tradeID string, outcomeYes int, pnl decimal.Decimal, at time.Time) (applied bool, err error)

	// --- Counters ---

	// IncrCounter atomically increments a rate-limit counter and returns the
	// value after the increment. The ttl bounds how long the key lives; the
	// count resets once the key expires.
	IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
