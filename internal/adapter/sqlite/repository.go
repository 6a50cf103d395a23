package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwygoda/harvester/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS %s (
    site    VARCHAR(255) PRIMARY KEY,
    content TEXT
);
`

// Repository implements domain.PageStore using SQLite.
type Repository struct {
	db    *sql.DB
	table string
}

// New opens the SQLite database at dbPath, creating its directory if needed.
// The page table is created by EnsureSchema.
func New(dbPath, table string) (*Repository, error) {
	if !domain.ValidTableName(table) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTable, table)
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; readers share the same connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, table: table}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// EnsureSchema creates the page table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(schema, r.table))
	return err
}

// ExistingAddresses returns every stored address.
func (r *Repository) ExistingAddresses(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT site FROM %s`, r.table))
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

// InsertIgnore writes batch in one transaction. Rows whose address already
// exists are skipped.
func (r *Repository) InsertIgnore(ctx context.Context, batch []domain.ScrapeResult) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (site, content) VALUES (?, ?)`, r.table),
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, res := range batch {
		result, err := stmt.ExecContext(ctx, res.Address, res.Content)
		if err != nil {
			return 0, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Unembedded returns stored pages that have no row in companion, ordered by
// address. A limit of zero or less returns every such page.
func (r *Repository) Unembedded(ctx context.Context, companion string, limit int) ([]domain.PersistedRecord, error) {
	if !domain.ValidTableName(companion) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTable, companion)
	}

	query := fmt.Sprintf(
		`SELECT T1.site, COALESCE(T1.content, '')
		 FROM %s T1 LEFT JOIN %s T2 ON T1.site = T2.site
		 WHERE T2.site IS NULL ORDER BY T1.site`,
		r.table, companion,
	)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PersistedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.PersistedRecord, error) {
	var rec domain.PersistedRecord
	err := row.Scan(&rec.Address, &rec.Content)
	return rec, err
}
