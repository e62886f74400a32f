// Package postgres provides the Postgres-backed persistence layer behind the
// directory store interfaces.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localpages/dirworker/internal/directory"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements directory.Store on top of a pgx pool.
type Store struct {
	pool  querier
	clock directory.Clock
	ids   directory.IDGenerator
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, clock directory.Clock, ids directory.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, clock: clock, ids: ids}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, clock directory.Clock, ids directory.IDGenerator) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, clock: clock, ids: ids}, nil
}

// EnsureSchema applies the embedded schema. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Listings() directory.ListingStore  { return &listingStore{s} }
func (s *Store) Crawls() directory.CrawlStore      { return &crawlStore{s} }
func (s *Store) Ledger() directory.LedgerStore     { return &ledgerStore{s} }
func (s *Store) Events() directory.EventStore      { return &eventStore{s} }
func (s *Store) Reviews() directory.ReviewStore    { return &reviewStore{s} }
func (s *Store) Taxonomy() directory.TaxonomyStore { return &taxonomyStore{s} }
func (s *Store) Geo() directory.GeoStore           { return &geoStore{s} }
func (s *Store) TaskRuns() directory.TaskRunStore  { return &taskRunStore{s} }

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// insertEvent writes a moderation event inside an open transaction, filling
// the id and timestamp when the caller left them empty.
func (s *Store) insertEvent(ctx context.Context, tx pgx.Tx, ev directory.ModerationEvent) error {
	if ev.ID == "" {
		ev.ID = s.ids.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	_, err := tx.Exec(ctx, `
INSERT INTO moderation_events (id, listing_id, action, reason_code, note, actor_type, actor_name, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.ListingID, ev.Action, ev.ReasonCode, ev.Note, ev.ActorType, ev.ActorName, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert moderation event: %w", err)
	}
	return nil
}
