package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Status values stored with each record.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Record is the metadata of one finished job. Media is never stored.
type Record struct {
	JobID            string    `json:"jobId"`
	Filename         string    `json:"filename"`
	SizeClass        string    `json:"sizeClass"`
	TargetSizeMB     float64   `json:"targetSizeMB"`
	DurationSeconds  float64   `json:"durationSeconds"`
	VideoBitrateKbps int       `json:"videoBitrateKbps"`
	Clamped          bool      `json:"clamped"`
	OutputSizeMB     float64   `json:"outputSizeMB"`
	WithinBudget     bool      `json:"withinBudget"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ElapsedSeconds   float64   `json:"elapsedSeconds"`
}

// Stats summarizes the stored history.
type Stats struct {
	Total        int64   `json:"total"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	Canceled     int64   `json:"canceled"`
	BudgetMisses int64   `json:"budgetMisses"`
	Clamped      int64   `json:"clamped"`
	TotalOutMB   float64 `json:"totalOutputMB"`
}

// Store persists job history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close history database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	// WAL lets readers run alongside the single writer SQLite allows.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close history database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	logging.Info("History database ready at %s", path)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		size_class TEXT NOT NULL,
		target_size_mb REAL NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		video_bitrate_kbps INTEGER NOT NULL DEFAULT 0,
		clamped INTEGER NOT NULL DEFAULT 0,
		output_size_mb REAL NOT NULL DEFAULT 0,
		within_budget INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		elapsed_seconds REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores rec. Recording the same job twice keeps the later version.
func (s *Store) Record(ctx context.Context, rec Record) (err error) {
	start := time.Now()
	defer func() { recordQuery("record", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO jobs (job_id, filename, size_class, target_size_mb, duration_seconds,
		video_bitrate_kbps, clamped, output_size_mb, within_budget, status, error,
		created_at, elapsed_seconds)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		duration_seconds = excluded.duration_seconds,
		video_bitrate_kbps = excluded.video_bitrate_kbps,
		clamped = excluded.clamped,
		output_size_mb = excluded.output_size_mb,
		within_budget = excluded.within_budget,
		status = excluded.status,
		error = excluded.error,
		elapsed_seconds = excluded.elapsed_seconds
	`,
		rec.JobID, rec.Filename, rec.SizeClass, rec.TargetSizeMB, rec.DurationSeconds,
		rec.VideoBitrateKbps, rec.Clamped, rec.OutputSizeMB, rec.WithinBudget, rec.Status, rec.Error,
		rec.CreatedAt.UnixMilli(), rec.ElapsedSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.JobID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) (records []Record, err error) {
	start := time.Now()
	defer func() { recordQuery("recent", start, err) }()

	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT job_id, filename, size_class, target_size_mb, duration_seconds, video_bitrate_kbps,
		clamped, output_size_mb, within_budget, status, error, created_at, elapsed_seconds
	FROM jobs
	ORDER BY created_at DESC, id DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records = make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec       Record
			createdAt int64
		)
		if err = rows.Scan(&rec.JobID, &rec.Filename, &rec.SizeClass, &rec.TargetSizeMB,
			&rec.DurationSeconds, &rec.VideoBitrateKbps, &rec.Clamped, &rec.OutputSizeMB,
			&rec.WithinBudget, &rec.Status, &rec.Error, &createdAt, &rec.ElapsedSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

// Stats summarizes every stored record.
func (s *Store) Stats(ctx context.Context) (stats Stats, err error) {
	start := time.Now()
	defer func() { recordQuery("stats", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = s.db.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? AND within_budget = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(clamped), 0),
		COALESCE(SUM(output_size_mb), 0)
	FROM jobs
	`, StatusDone, StatusFailed, StatusCanceled, StatusDone).Scan(
		&stats.Total, &stats.Succeeded, &stats.Failed, &stats.Canceled,
		&stats.BudgetMisses, &stats.Clamped, &stats.TotalOutMB,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute history stats: %w", err)
	}
	return stats, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (n int64, err error) {
	start := time.Now()
	defer func() { recordQuery("count", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&n)
	return n, err
}

// Prune deletes records created before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { recordQuery("prune", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Pruned %d history record(s) older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// recordQuery records history query metrics
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.HistoryQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.HistoryQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
