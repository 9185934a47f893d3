// Package migrate versions the slow-query database schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNewerSchema is returned when the database was written by a build that
// knows more migrations than this one. Appending to or reporting from it
// could misread columns, so the store refuses to open it.
var ErrNewerSchema = errors.New("database schema is newer than this build")

// Runner applies the embedded schema steps to a DuckDB database.
type Runner struct {
	db    *sql.DB
	steps fs.FS
}

// NewRunner creates a migration runner for the given database connection.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, steps: migrations}
}

type step struct {
	version int
	file    string
	sql     string
}

// load reads NNN_name.sql files in version order.
func (r *Runner) load() ([]step, error) {
	entries, err := fs.ReadDir(r.steps, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	seen := make(map[int]string)
	var steps []step
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil || ver <= 0 {
			return nil, fmt.Errorf("bad migration version in %s", e.Name())
		}
		if other, dup := seen[ver]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, e.Name(), ver)
		}
		seen[ver] = e.Name()

		data, err := fs.ReadFile(r.steps, "migrations/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		steps = append(steps, step{version: ver, file: e.Name(), sql: string(data)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func (r *Runner) bootstrap(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	return nil
}

func (r *Runner) appliedVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading applied version: %w", err)
	}
	return int(v.Int64), nil
}

// Run applies all pending steps in order, each in its own transaction
// together with its schema_migrations row.
func (r *Runner) Run(ctx context.Context) error {
	current, steps, err := r.state(ctx)
	if err != nil {
		return err
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := r.apply(ctx, s); err != nil {
			return err
		}
		log.Debug().Int("version", s.version).Str("file", s.file).Msg("migrate: applied")
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, s step) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", s.file, err)
	}
	if _, err := tx.ExecContext(ctx, s.sql); err != nil {
		tx.Rollback()
		return fmt.Errorf("executing %s: %w", s.file, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", s.version, s.file); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording %s: %w", s.file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", s.file, err)
	}
	return nil
}

// state bootstraps the bookkeeping table and checks the database is not
// ahead of the embedded steps.
func (r *Runner) state(ctx context.Context) (int, []step, error) {
	if err := r.bootstrap(ctx); err != nil {
		return 0, nil, err
	}
	steps, err := r.load()
	if err != nil {
		return 0, nil, err
	}
	current, err := r.appliedVersion(ctx)
	if err != nil {
		return 0, nil, err
	}
	latest := 0
	if len(steps) > 0 {
		latest = steps[len(steps)-1].version
	}
	if current > latest {
		return current, steps, fmt.Errorf("%w: at version %d, this build knows %d", ErrNewerSchema, current, latest)
	}
	return current, steps, nil
}

// Status returns the current applied version and count of pending steps.
func (r *Runner) Status(ctx context.Context) (current int, pending int, err error) {
	current, steps, err := r.state(ctx)
	if err != nil {
		return current, 0, err
	}
	for _, s := range steps {
		if s.version > current {
			pending++
		}
	}
	return current, pending, nil
}
