package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"caprun/internal/eventbus"
	"caprun/internal/jobs"
	logx "caprun/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	bus eventbus.Bus
	log logx.Logger
}

func openSQLite(cfg Config, bus eventbus.Bus, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("jobstore: sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, bus: bus, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Enqueue(ctx context.Context, job jobs.Job) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, queue, name, args, enqueued_at) VALUES(?,?,?,?,?)`,
		job.ID, job.Queue, job.Name, nullStr(string(job.Args)), job.EnqueuedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	notifyEnqueued(s.bus, job.Queue)
	return nil
}

func (s *sqliteStore) Claim(ctx context.Context, queue string) (jobs.Job, bool, error) {
	if s == nil || s.db == nil {
		return jobs.Job{}, false, ErrDisabled
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Job{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		job  jobs.Job
		args sql.NullString
		at   string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, queue, name, args, enqueued_at FROM jobs
		 WHERE queue = ? AND claimed_at IS NULL
		 ORDER BY enqueued_at, id LIMIT 1`, queue,
	).Scan(&job.ID, &job.Queue, &job.Name, &args, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, false, nil
	}
	if err != nil {
		return jobs.Job{}, false, err
	}
	if args.Valid {
		job.Args = json.RawMessage(args.String)
	}
	if ts, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
		job.EnqueuedAt = ts
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET claimed_at = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339Nano), job.ID,
	); err != nil {
		return jobs.Job{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return jobs.Job{}, false, err
	}
	return job, true, nil
}

func (s *sqliteStore) Complete(ctx context.Context, id string, jobErr error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	errText := ""
	if jobErr != nil {
		errText = jobErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET finished_at = ?, error = ? WHERE id = ? AND claimed_at IS NOT NULL`,
		time.Now().Format(time.RFC3339Nano), nullStr(errText), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Pending(ctx context.Context, queue string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	var err error
	if queue != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE queue = ? AND claimed_at IS NULL`, queue).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE claimed_at IS NULL`).Scan(&n)
	}
	return n, err
}

func (s *sqliteStore) Queues(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT queue FROM jobs WHERE claimed_at IS NULL ORDER BY queue`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
