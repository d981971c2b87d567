package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapask/pkg/core"

	_ "modernc.org/sqlite" // sqlite driver
)

// timeLayout is how timestamps are stored. It sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = core.ErrNotFound

// SQLiteStore implements core.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
// A nil logger discards output.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("state store opened", "path", path)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// InitSchema brings the schema up to date.
func (s *SQLiteStore) InitSchema() error {
	return s.Migrate()
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// --- Dataset operations ---

// SaveDataset inserts or replaces a dataset descriptor.
func (s *SQLiteStore) SaveDataset(ctx context.Context, ds core.Dataset) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	columns, err := json.Marshal(nonNil(ds.Columns))
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (name, path, columns, row_count, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			columns = excluded.columns,
			row_count = excluded.row_count,
			indexed_at = excluded.indexed_at`,
		ds.Name, ds.Path, string(columns), ds.RowCount, formatTime(ds.IndexedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save dataset %s: %w", ds.Name, err)
	}
	return nil
}

// ListDatasets returns every dataset ordered by name.
func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]core.Dataset, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, path, columns, row_count, indexed_at FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Dataset
	for rows.Next() {
		var ds core.Dataset
		var columns, indexedAt string
		if err := rows.Scan(&ds.Name, &ds.Path, &columns, &ds.RowCount, &indexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		if err := json.Unmarshal([]byte(columns), &ds.Columns); err != nil {
			return nil, fmt.Errorf("dataset %s: bad columns: %w", ds.Name, err)
		}
		if ds.IndexedAt, err = parseTime(indexedAt); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return out, nil
}

// DeleteDataset removes a dataset. It returns ErrNotFound when nothing matched.
func (s *SQLiteStore) DeleteDataset(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("dataset %s: %w", name, ErrNotFound)
	}
	return nil
}

// --- Analysis history operations ---

// RecordAnalysis stores one analysis run. An empty ID is filled in.
func (s *SQLiteStore) RecordAnalysis(ctx context.Context, rec *core.AnalysisRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	var intent sql.NullString
	if rec.Intent != nil {
		b, err := json.Marshal(rec.Intent)
		if err != nil {
			return fmt.Errorf("failed to encode intent: %w", err)
		}
		intent = sql.NullString{String: string(b), Valid: true}
	}
	used, err := json.Marshal(nonNil(rec.UsedColumns))
	if err != nil {
		return fmt.Errorf("failed to encode used columns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, question, intent, target_file, code, used_columns,
			row_count, error_code, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Question, intent, rec.TargetFile, rec.Code, string(used),
		rec.RowCount, string(rec.ErrorCode), rec.Error, formatTime(rec.StartedAt), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns the most recent analyses, newest first.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, limit int) ([]*core.AnalysisRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, intent, target_file, code, used_columns,
			row_count, error_code, error, started_at, duration_ms
		FROM analyses
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.AnalysisRecord
	for rows.Next() {
		rec := &core.AnalysisRecord{}
		var intent sql.NullString
		var used, code, startedAt string
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.Question, &intent, &rec.TargetFile, &rec.Code, &used,
			&rec.RowCount, &code, &rec.Error, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		if intent.Valid {
			rec.Intent = &core.Intent{}
			if err := json.Unmarshal([]byte(intent.String), rec.Intent); err != nil {
				return nil, fmt.Errorf("analysis %s: bad intent: %w", rec.ID, err)
			}
		}
		if err := json.Unmarshal([]byte(used), &rec.UsedColumns); err != nil {
			return nil, fmt.Errorf("analysis %s: bad used columns: %w", rec.ID, err)
		}
		rec.ErrorCode = core.ErrorCode(code)
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("analysis %s: %w", rec.ID, err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ core.Store = (*SQLiteStore)(nil)
