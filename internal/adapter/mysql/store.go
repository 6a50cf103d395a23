// Package mysql implements domain.PageStore on MySQL/MariaDB.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/cwygoda/harvester/internal/domain"
)

// maxStatementBytes caps the content carried by one multi-row INSERT so a
// flush stays under the server's max_allowed_packet.
const maxStatementBytes = 16 << 20

// Store implements domain.PageStore and domain.UnembeddedReader.
type Store struct {
	db    *sql.DB
	table string
}

// New opens a connection pool for dsn, e.g.
// "root:secret@tcp(127.0.0.1:3306)/scraped".
func New(dsn, table string, maxConns int) (*Store, error) {
	if !domain.ValidTableName(table) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTable, table)
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	// Skip the prepare round trip for one-shot multi-row inserts.
	cfg.InterpolateParams = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &Store{db: db, table: table}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the page table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL(s.table))
	return err
}

// ExistingAddresses returns every stored address.
func (s *Store) ExistingAddresses(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT site FROM `+s.table)
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

// InsertIgnore writes the batch with multi-row INSERT IGNORE statements.
func (s *Store) InsertIgnore(ctx context.Context, batch []domain.ScrapeResult) (int64, error) {
	var total int64
	for _, chunk := range chunkBySize(batch, maxStatementBytes) {
		query, args := insertSQL(s.table, chunk)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Unembedded returns stored pages absent from companion, ordered by address.
func (s *Store) Unembedded(ctx context.Context, companion string, limit int) ([]domain.PersistedRecord, error) {
	if !domain.ValidTableName(companion) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTable, companion)
	}

	query := fmt.Sprintf(`SELECT T1.site, COALESCE(T1.content, '')
FROM %s T1 LEFT JOIN %s T2 ON T1.site = T2.site
WHERE T2.site IS NULL ORDER BY T1.site`, s.table, companion)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PersistedRecord
	for rows.Next() {
		var rec domain.PersistedRecord
		if err := rows.Scan(&rec.Address, &rec.Content); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func schemaSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    site    VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin PRIMARY KEY,
    content LONGTEXT
) DEFAULT CHARSET = utf8mb4`, table)
}

func insertSQL(table string, rows []domain.ScrapeResult) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT IGNORE INTO `)
	b.WriteString(table)
	b.WriteString(` (site, content) VALUES `)

	args := make([]any, 0, 2*len(rows))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?)")
		args = append(args, r.Address, r.Content)
	}
	return b.String(), args
}

// chunkBySize splits rows so each chunk's content stays under limit. A single
// row larger than limit gets a chunk of its own.
func chunkBySize(rows []domain.ScrapeResult, limit int) [][]domain.ScrapeResult {
	var chunks [][]domain.ScrapeResult
	start, size := 0, 0
	for i, r := range rows {
		n := len(r.Address) + len(r.Content)
		if i > start && size+n > limit {
			chunks = append(chunks, rows[start:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(rows) {
		chunks = append(chunks, rows[start:])
	}
	return chunks
}
