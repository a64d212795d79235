package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const tradeColumns = `id, agent_id, agent_name, user_id, market_id, ticker, side, qty,
	        confidence::TEXT, price_at_submit::TEXT,
	        resolved, outcome_yes, pnl_realized::TEXT, resolved_at, created_at`

func (s *PostgresStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, description, color, api_key_hash, status, karma, trade_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Name, a.Description, a.Color, a.APIKeyHash,
		a.Status, a.Karma, a.TradeCount, a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return s.getAgentWhere(ctx, "id = $1", id)
}

func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	return s.getAgentWhere(ctx, "name = $1", name)
}

func (s *PostgresStore) GetAgentByKeyHash(ctx context.Context, hash string) (*model.Agent, error) {
	return s.getAgentWhere(ctx, "api_key_hash = $1", hash)
}

func (s *PostgresStore) getAgentWhere(ctx context.Context, where string, arg any) (*model.Agent, error) {
	var a model.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, color, api_key_hash, status, karma, trade_count, created_at
		 FROM agents WHERE `+where, arg).
		Scan(&a.ID, &a.Name, &a.Description, &a.Color, &a.APIKeyHash,
			&a.Status, &a.Karma, &a.TradeCount, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, color, api_key_hash, status, karma, trade_count, created_at
		 FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Color, &a.APIKeyHash,
			&a.Status, &a.Karma, &a.TradeCount, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) IncrementTradeCount(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET trade_count = trade_count + 1 WHERE id = $1`, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, agent_id, agent_name, user_id, market_id, ticker, side, qty,
		                     confidence, price_at_submit, resolved, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8,
		         $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		t.ID, t.AgentID, t.AgentName, t.UserID, t.MarketID, t.Ticker, t.Side, t.Qty,
		decimalPtrString(t.Confidence), decimalPtrString(t.PriceAtSubmit), t.Resolved, t.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTradesByAgent(ctx context.Context, agentID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE agent_id = $1 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE agent_id = $1 OR user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListRecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListUnresolvedByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE market_id = $1 AND resolved = FALSE ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// MarkResolved is a compare-and-set: the WHERE resolved = FALSE guard makes
// concurrent resolution passes settle each trade at most once.
func (s *PostgresStore) MarkResolved(ctx context.Context, tradeID string, outcomeYes int, pnl decimal.Decimal, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades
		 SET resolved = TRUE, outcome_yes = $2, pnl_realized = $3::NUMERIC, resolved_at = $4
		 WHERE id = $1 AND resolved = FALSE`,
		tradeID, outcomeYes, pnl.String(), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rate_counters (key, count, expires_at)
		 VALUES ($1, 1, $2)
		 ON CONFLICT (key) DO UPDATE SET count = rate_counters.count + 1
		 RETURNING count`,
		key, time.Now().Add(ttl)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", key, err)
	}
	// Opportunistic cleanup of stale buckets.
	_, _ = s.pool.Exec(ctx, `DELETE FROM rate_counters WHERE expires_at < NOW()`)
	return count, nil
}

// scanTrade reads trade rows into Trade structs.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row pgxRow) (*model.Trade, error) {
	var t model.Trade
	var agentID, agentName, userID, confidence, pnl, priceAtSubmit *string

	if err := row.Scan(&t.ID, &agentID, &agentName, &userID, &t.MarketID, &t.Ticker, &t.Side, &t.Qty,
		&confidence, &priceAtSubmit,
		&t.Resolved, &t.OutcomeYes, &pnl, &t.ResolvedAt, &t.CreatedAt); err != nil {
		return nil, err
	}

	if agentID != nil {
		t.AgentID = *agentID
	}
	if agentName != nil {
		t.AgentName = *agentName
	}
	if userID != nil {
		t.UserID = *userID
	}
	if confidence != nil {
		d, _ := decimal.NewFromString(*confidence)
		t.Confidence = &d
	}
	if priceAtSubmit != nil {
		d, _ := decimal.NewFromString(*priceAtSubmit)
		t.PriceAtSubmit = &d
	}
	if pnl != nil {
		d, _ := decimal.NewFromString(*pnl)
		t.PnlRealized = &d
	}
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
