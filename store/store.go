// Package store adapts the seller dataset (a SQLite database produced by the
// external loader) for the agent: table listing, schema introspection and
// read-only query execution. The store never mutates schema or data.
//
// Connections are opened and released per operation. The Store handle itself
// only holds the database path, so concurrent sessions can share it without
// stepping on a long-lived connection.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/melivision/melivision/logging"
)

var (
	// ErrStoreUnavailable indicates the dataset is missing or unreadable.
	// Recoverable by re-running the external loader.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnknownTable indicates a schema lookup against a table that does not exist.
	ErrUnknownTable = errors.New("unknown table")

	// ErrNotReadOnly indicates a rejected statement that is not a plain read.
	ErrNotReadOnly = errors.New("only SELECT queries are allowed")
)

// DefaultMaxRows caps result sets when the query carries no LIMIT of its own.
const DefaultMaxRows = 1000

// Column describes one column of a table schema as declared by the loader.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// Result is a tabular query result with ordered columns.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.Rows) }

// Maps re-shapes the result as one map per row, keyed by column name.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// JSON renders the result as indented JSON row maps, the shape tool
// observations use.
func (r *Result) JSON() (string, error) {
	data, err := json.MarshalIndent(r.Maps(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// Store is a handle on the dataset. Zero long-lived connections are held;
// every operation opens its own read-only connection and closes it on return.
type Store struct {
	path    string
	maxRows int
	logger  logging.Logger
}

// Option customizes an opened Store.
type Option func(*Store)

// WithLogger attaches a logger for query diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMaxRows overrides the LIMIT injected into unbounded queries.
func WithMaxRows(n int) Option {
	return func(s *Store) { s.maxRows = n }
}

// Open verifies the dataset exists and is a readable SQLite database, then
// returns a handle. It fails with ErrStoreUnavailable otherwise; it never
// creates a database (ingestion is the loader's job).
func Open(path string, optFns ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		maxRows: DefaultMaxRows,
		logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(s)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, path, err)
	}

	db, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info("store.open", "path", path)
	return s, nil
}

// Path returns the dataset location this handle was opened with.
func (s *Store) Path() string { return s.path }

// open dials a fresh read-only connection. Read-only is enforced at the
// connection level via the SQLite URI, in addition to statement validation
// in Query.
func (s *Store) open() (*sql.DB, error) {
	return sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", s.path))
}

// Tables lists user tables, excluding SQLite internals.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	db, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Describe reports the declared schema of one table via PRAGMA table_info.
// Unknown tables yield ErrUnknownTable.
func (s *Store) Describe(ctx context.Context, table string) ([]Column, error) {
	db, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dfltValue any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, Column{
			Name:       name,
			Type:       colType,
			NotNull:    notNull != 0,
			PrimaryKey: pk != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return columns, nil
}

// Query executes a read statement and returns the tabular result.
//
// Safety: comments are stripped and only SELECT / WITH statements pass; a
// LIMIT is injected when the query has none. The connection is read-only
// regardless, so a statement slipping past validation still cannot write.
func (s *Store) Query(ctx context.Context, query string) (*Result, error) {
	cleaned, err := validateReadOnly(query)
	if err != nil {
		return nil, err
	}

	db, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer db.Close()

	bounded := ensureLimit(cleaned, s.maxRows)
	s.logger.Debug("store.query", "sql", bounded)

	rows, err := db.QueryContext(ctx, bounded)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			// Text columns surface as []byte through database/sql.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	s.logger.Info("store.query.done", "rows", result.Len())
	return result, nil
}

// Preview returns the first rows of a table for the table browser.
func (s *Store) Preview(ctx context.Context, table string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	// Validate the table first so callers get ErrUnknownTable, not SQL noise.
	if _, err := s.Describe(ctx, table); err != nil {
		return nil, err
	}
	return s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
}

// Count returns the row count of a table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if _, err := s.Describe(ctx, table); err != nil {
		return 0, err
	}

	db, err := s.open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	limitKeywordRe = regexp.MustCompile(`(?i)\bLIMIT\b`)
)

// validateReadOnly strips comments and trailing semicolons, then requires a
// SELECT or WITH (CTE) statement head.
func validateReadOnly(query string) (string, error) {
	cleaned := lineCommentRe.ReplaceAllString(query, "")
	cleaned = blockCommentRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimRight(strings.TrimSpace(cleaned), "; \t\n\r")

	upper := strings.ToUpper(cleaned)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", fmt.Errorf("%w; received: %s", ErrNotReadOnly, query)
	}
	return cleaned, nil
}

// ensureLimit appends a LIMIT when the statement carries none. The keyword
// check is word-bounded so identifiers like "limite" do not defeat the cap.
func ensureLimit(query string, maxRows int) string {
	if limitKeywordRe.MatchString(query) {
		return query
	}
	return fmt.Sprintf("%s LIMIT %d", query, maxRows)
}

// quoteIdent double-quotes an identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
