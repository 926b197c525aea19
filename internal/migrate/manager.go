package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultTable = "schema_migrations"
	upSuffix     = ".up.sql"
	downSuffix   = ".down.sql"

	// Arbitrary key shared by every migrator of this schema.
	advisoryLockKey int64 = 0x6578706f7274
)

//go:embed sql/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrNothingApplied is returned by Down when no migration has run.
var ErrNothingApplied = errors.New("no migrations applied")

// Entry describes a migration and whether it has been applied.
type Entry struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Manager executes SQL migrations read from an fs.FS.
type Manager struct {
	db    *sql.DB
	fsys  fs.FS
	table string
	lock  bool
	now   func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the default bookkeeping table.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithoutAdvisoryLock skips pg_advisory_lock. Used against databases that do
// not implement it.
func WithoutAdvisoryLock() Option {
	return func(m *Manager) { m.lock = false }
}

// NewManager constructs a Manager. A nil fsys selects the embedded migrations.
func NewManager(db *sql.DB, fsys fs.FS, opts ...Option) *Manager {
	if fsys == nil {
		fsys = Embedded()
	}
	m := &Manager{
		db:    db,
		fsys:  fsys,
		table: defaultTable,
		lock:  true,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		done, err := m.listApplied(ctx, conn)
		if err != nil {
			return err
		}
		files, err := m.collect(upSuffix)
		if err != nil {
			return err
		}
		for _, name := range files {
			if _, ok := done[name]; ok {
				continue
			}
			if err := m.apply(ctx, conn, name, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.table),
					name, m.now().UTC())
				return err
			}); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			applied = append(applied, name)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		history, err := m.history(ctx, conn)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return ErrNothingApplied
		}
		last = history[len(history)-1].Name
		down := strings.TrimSuffix(last, upSuffix) + downSuffix
		if _, err := fs.Stat(m.fsys, down); err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		if err := m.apply(ctx, conn, down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.table), last)
			return err
		}); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		return nil
	})
	return last, err
}

// Status lists every known migration, applied ones first in apply order.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := m.ensureTable(ctx, conn); err != nil {
		return nil, err
	}
	out, err := m.history(ctx, conn)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		seen[e.Name] = struct{}{}
	}
	files, err := m.collect(upSuffix)
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if _, ok := seen[name]; !ok {
			out = append(out, Entry{Name: name})
		}
	}
	return out, nil
}

// locked runs fn on a dedicated connection holding the session advisory lock.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) (err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if m.lock {
		if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, advisoryLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, advisoryLockKey); uerr != nil && err == nil {
				err = fmt.Errorf("release migration lock: %w", uerr)
			}
		}()
	}
	if err := m.ensureTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (m *Manager) ensureTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, m.table))
	return err
}

// apply runs the statements of file and record in a single transaction.
func (m *Manager) apply(ctx context.Context, conn *sql.Conn, file string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listApplied(ctx context.Context, conn *sql.Conn) (map[string]struct{}, error) {
	history, err := m.history(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(history))
	for _, e := range history {
		out[e.Name] = struct{}{}
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn) ([]Entry, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		e := Entry{Applied: true}
		if err := rows.Scan(&e.Name, &e.AppliedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (m *Manager) collect(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, path.Base(e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside quotes and line comments.
// Empty statements are dropped.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
		comment  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				current.WriteRune(r)
			}
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ';' && !inString:
			current.WriteRune(r)
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
