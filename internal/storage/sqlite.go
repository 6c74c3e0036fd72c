package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database with methods for profiles, plans, progress
// logs, laurels and the background job queue.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "empyre.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// --- Profiles ---

// GetOrCreateProfile returns the stored profile for userID, inserting one
// with the given initial document when none exists.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID, initial string) (ProfileRecord, error) {
	now := formatTime(s.now())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, initial, now, now,
	); err != nil {
		return ProfileRecord{}, fmt.Errorf("inserting profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

func (s *Store) GetProfile(ctx context.Context, userID string) (ProfileRecord, error) {
	var r ProfileRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, data, created_at, updated_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&r.UserID, &r.Data, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ProfileRecord{}, ErrNotFound
	}
	if err != nil {
		return ProfileRecord{}, err
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ProfileRecord{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return ProfileRecord{}, err
	}
	return r, nil
}

// SaveProfile upserts the profile document. When planJSON is non-empty the
// plan is recorded as the user's active plan in the same transaction and any
// previously active plan is deactivated.
func (s *Store) SaveProfile(ctx context.Context, userID, data, planJSON string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, data, now, now,
	); err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	if planJSON != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_active = 0 WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("deactivating plans: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, user_id, plan_json, is_active, created_at) VALUES (?, ?, ?, 1, ?)`,
			uuid.New().String(), userID, planJSON, now,
		); err != nil {
			return fmt.Errorf("inserting plan: %w", err)
		}
	}

	return tx.Commit()
}

// ListPlans returns every recorded plan version for userID, newest first.
func (s *Store) ListPlans(ctx context.Context, userID string) ([]PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, plan_json, is_active, created_at
		FROM plans WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PlanRecord
	for rows.Next() {
		var p PlanRecord
		var active int
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.PlanJSON, &active, &createdAt); err != nil {
			return nil, err
		}
		p.Active = active == 1
		if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Progress logs ---

// AppendProgressLog inserts an immutable progress log and enqueues the job
// that evaluates laurels for it.
func (s *Store) AppendProgressLog(ctx context.Context, l ProgressLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning log transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO progress_logs (id, user_id, log_type, log_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.LogType, l.LogData, formatTime(l.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting progress log: %w", err)
	}

	payload := fmt.Sprintf(`{"progress_log_id":%q}`, l.ID)
	if err := enqueueJob(ctx, tx, Job{ID: uuid.New().String(), Type: JobAwardLaurel, PayloadJSON: payload}, s.now()); err != nil {
		return fmt.Errorf("enqueueing laurel job: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetProgressLog(ctx context.Context, id string) (ProgressLog, error) {
	var l ProgressLog
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, log_type, log_data, created_at FROM progress_logs WHERE id = ?`, id,
	).Scan(&l.ID, &l.UserID, &l.LogType, &l.LogData, &createdAt)
	if err == sql.ErrNoRows {
		return ProgressLog{}, ErrNotFound
	}
	if err != nil {
		return ProgressLog{}, err
	}
	if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ProgressLog{}, err
	}
	return l, nil
}

// ListProgressLogs returns up to limit logs for userID, newest first.
func (s *Store) ListProgressLogs(ctx context.Context, userID string, limit int) ([]ProgressLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, log_type, log_data, created_at
		FROM progress_logs WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProgressLog
	for rows.Next() {
		var l ProgressLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.UserID, &l.LogType, &l.LogData, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// --- Laurels ---

func (s *Store) AwardLaurel(ctx context.Context, l Laurel) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO laurels (id, user_id, laurel_type, points, description, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.LaurelType, l.Points, l.Description, l.SourceID, formatTime(l.CreatedAt),
	)
	return err
}

// ListLaurels returns every laurel awarded to userID, newest first.
func (s *Store) ListLaurels(ctx context.Context, userID string) ([]Laurel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, laurel_type, points, description, source_id, created_at
		FROM laurels WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Laurel
	for rows.Next() {
		var l Laurel
		var createdAt string
		if err := rows.Scan(&l.ID, &l.UserID, &l.LaurelType, &l.Points, &l.Description, &l.SourceID, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// LaurelPoints returns the sum of points awarded to userID.
func (s *Store) LaurelPoints(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM laurels WHERE user_id = ?`, userID,
	).Scan(&total)
	return total, err
}

// HasLaurelFor reports whether a laurel of the given type was already
// awarded for the progress log sourceID.
func (s *Store) HasLaurelFor(ctx context.Context, sourceID, laurelType string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM laurels WHERE source_id = ? AND laurel_type = ?`, sourceID, laurelType,
	).Scan(&n)
	return n > 0, err
}

// --- Jobs ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func enqueueJob(ctx context.Context, db execer, job Job, now time.Time) error {
	nowStr := formatTime(now)
	runAfter := nowStr
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, nowStr, nowStr,
	)
	return err
}

func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	return enqueueJob(ctx, s.db, job, s.now())
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}

// ClaimNextJob atomically moves the oldest runnable pending job of one of
// the given types to "running". Returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(s.now())
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading claimed job %s: %w", id, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(s.now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff until max_attempts is reached, then marked "failed".
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := s.now()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
