// Package postgres implements domain.PageStore on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwygoda/harvester/internal/domain"
)

// Options configures the connection pool.
type Options struct {
	MaxConns int
	// SimpleProtocol disables prepared statements, for PgBouncer in
	// transaction pooling mode.
	SimpleProtocol bool
}

// Store implements domain.PageStore and domain.UnembeddedReader.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New parses dsn and opens a pool. The pool connects lazily.
func New(ctx context.Context, dsn, table string, opts Options) (*Store, error) {
	if !domain.ValidTableName(table) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTable, table)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates the page table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL(s.table))
	return err
}

// ExistingAddresses returns every stored address.
func (s *Store) ExistingAddresses(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT site FROM `+s.table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, err
		}
		known[site] = struct{}{}
	}
	return known, rows.Err()
}

// InsertIgnore sends the batch in one round trip. Conflicting addresses are
// skipped by ON CONFLICT DO NOTHING.
func (s *Store) InsertIgnore(ctx context.Context, batch []domain.ScrapeResult) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	query := insertSQL(s.table)
	for _, r := range batch {
		b.Queue(query, r.Address, sanitize(r.Content))
	}

	br := s.pool.SendBatch(ctx, b)
	var total int64
	for range batch {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, err
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return total, err
	}
	return total, nil
}

// Unembedded returns stored pages absent from companion, ordered by address.
func (s *Store) Unembedded(ctx context.Context, companion string, limit int) ([]domain.PersistedRecord, error) {
	if !domain.ValidTableName(companion) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTable, companion)
	}

	query := antiJoinSQL(s.table, companion)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PersistedRecord, error) {
		var rec domain.PersistedRecord
		err := row.Scan(&rec.Address, &rec.Content)
		return rec, err
	})
}

func schemaSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    site    VARCHAR(255) PRIMARY KEY,
    content TEXT
)`, table)
}

func insertSQL(table string) string {
	return `INSERT INTO ` + table + ` (site, content) VALUES ($1, $2) ON CONFLICT (site) DO NOTHING`
}

func antiJoinSQL(table, companion string) string {
	return fmt.Sprintf(`SELECT T1.site, COALESCE(T1.content, '')
FROM %s T1 LEFT JOIN %s T2 ON T1.site = T2.site
WHERE T2.site IS NULL ORDER BY T1.site`, table, companion)
}

// Postgres text columns reject NUL bytes.
func sanitize(content string) string {
	return strings.ReplaceAll(content, "\x00", "")
}
