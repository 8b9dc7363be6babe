package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// Schema returns the accounts and documents migrations compiled into the binary.
func Schema() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrNothingApplied is returned by Down when the ledger is empty.
var ErrNothingApplied = errors.New("no migrations applied")

// Manager applies the schema and optional seed files. Every file runs in
// one transaction together with its ledger row, so a file is either fully
// applied and recorded or not at all.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	schema     ledger
	seeded     ledger
	now        func() time.Time
}

type Option func(*Manager)

// WithSeeds sets the file system seed files are read from.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) { m.seeds = seeds }
}

// NewManager constructs a Manager. A nil migrations FS uses Schema().
func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	if migrations == nil {
		migrations = Schema()
	}
	m := &Manager{
		db:         db,
		migrations: migrations,
		schema:     ledger{table: "schema_migrations"},
		seeded:     ledger{table: "schema_seeds"},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every *.up.sql file not yet in the ledger and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.migrations, ".up.sql", m.schema)
}

// Down reverts the most recently applied migration using its .down.sql twin.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.schema.ensure(ctx, m.db); err != nil {
		return "", err
	}
	names, err := m.schema.ordered(ctx, m.db)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNothingApplied
	}
	last := names[len(names)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	body, err := fs.ReadFile(m.migrations, down)
	if err != nil {
		return "", fmt.Errorf("missing down migration for %s: %w", last, err)
	}
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execScript(ctx, tx, string(body)); err != nil {
			return err
		}
		return m.schema.forget(ctx, tx, last)
	})
	if err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return last, nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.schema.ensure(ctx, m.db); err != nil {
		return nil, err
	}
	return m.schema.ordered(ctx, m.db)
}

// Seed applies seed files that have not run before.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return errors.New("no seeds configured")
	}
	_, err := m.applyPending(ctx, m.seeds, ".sql", m.seeded)
	return err
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix string, l ledger) ([]string, error) {
	if err := l.ensure(ctx, m.db); err != nil {
		return nil, err
	}
	done, err := l.ordered(ctx, m.db)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if slices.Contains(done, name) {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, err
		}
		err = m.inTx(ctx, func(tx *sql.Tx) error {
			if err := execScript(ctx, tx, string(body)); err != nil {
				return err
			}
			return l.record(ctx, tx, name, m.now().UTC())
		})
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func execScript(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ledger is a bookkeeping table of applied file names.
type ledger struct {
	table string
}

func (l ledger) ensure(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `create table if not exists `+l.table+` (
		name text primary key,
		applied_at timestamptz not null default now()
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

func (l ledger) ordered(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `select name from `+l.table+` order by applied_at, name`)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.table, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (l ledger) record(ctx context.Context, tx *sql.Tx, name string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `insert into `+l.table+` (name, applied_at) values ($1, $2)`, name, at)
	return err
}

func (l ledger) forget(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `delete from `+l.table+` where name = $1`, name)
	return err
}

// collectSQL lists files ending in suffix, ordered by base name.
func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, suffix) {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b string) int {
		return strings.Compare(path.Base(a), path.Base(b))
	})
	return files, nil
}

// statements splits a script on top-level semicolons. Semicolons inside
// quoted literals, dollar-quoted bodies and -- comments do not split.
func statements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		quote   bool
		dollar  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && s != ";" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
			continue
		case quote:
			if c == '\'' {
				quote = false
			}
		case dollar:
			if strings.HasPrefix(script[i:], "$$") {
				dollar = false
				cur.WriteString("$$")
				i++
				continue
			}
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			comment = true
			continue
		case c == '\'':
			quote = true
		case strings.HasPrefix(script[i:], "$$"):
			dollar = true
			cur.WriteString("$$")
			i++
			continue
		case c == ';':
			cur.WriteByte(c)
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return out
}
