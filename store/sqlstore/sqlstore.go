/*
Package sqlstore provides a database/sql implementation of core.TxStore.

PURPOSE:
  Persists every collection of the booking core in SQLite (default) or
  PostgreSQL. Queries are built with squirrel so one code path serves both
  dialects; only the placeholder format differs.

STORAGE LAYOUT:
  Each entity is stored whole as a JSON document in a doc column. The
  columns next to it exist for lookups, ordering and constraints, and are
  written from the same value in the same statement.

KEY TABLES:
  room_type, room:            Room catalogue
  availability_row:           One row per (hotel, room type, date), versioned
  availability_booking:       Which bookings hold a reservation on which row
  season, special_period:     Dated pricing rules
  rate_plan, rate_override:   Plans and per-date manual rates
  corporate_company:          Companies, versioned, unique GST number
  credit_transaction:         Append-only credit journal
  credit_limit_request:       Limit increase workflow
  booking_ref:                Coordinator booking references

INDEXES:
  - availability_row primary key (hotel_id, room_type_id, date): Ledger key
  - idx_company_gst: One company per GST number
  - idx_credit_company_date: Statements and balance replays (hot path)
  - idx_credit_status_due: Overdue scans
  - idx_credit_chain: One processed entry per chain position

CONCURRENCY:
  Versioned rows are updated with "WHERE version = ?". Zero affected rows
  means another unit of work won and ErrConcurrentModification is returned
  for core.Retry to handle. SQLite runs on a single connection, so units
  of work are serialized the same way the memory store serializes them.

USAGE:
  store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite3", DSN: "./data/hotel.db"})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/hotel-core/core"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects the database.
type Config struct {
	Driver string
	DSN    string
	// MaxOpenConns applies to PostgreSQL only; SQLite always uses one.
	MaxOpenConns int
}

// Store implements core.TxStore.
type Store struct {
	db     *sql.DB
	driver string
	repo
}

// Open connects, applies the schema and returns a ready Store. Use DSN
// ":memory:" with the sqlite3 driver for a throwaway database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	dsn := cfg.DSN
	sb := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	switch cfg.Driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
		sb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{db: db, driver: cfg.Driver, repo: repo{q: db, sb: sb}}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver names the database in use.
func (s *Store) Driver() string { return s.driver }

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// migrate creates the schema. Statements are portable between SQLite and
// PostgreSQL: text columns for ids, dates and documents, BIGINT counters.
func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS room_type (
		hotel_id TEXT NOT NULL,
		id TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (hotel_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS room (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		room_type_id TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_room_hotel_type ON room(hotel_id, room_type_id)`,

	`CREATE TABLE IF NOT EXISTS availability_row (
		hotel_id TEXT NOT NULL,
		room_type_id TEXT NOT NULL,
		date TEXT NOT NULL,
		version BIGINT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (hotel_id, room_type_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS availability_booking (
		hotel_id TEXT NOT NULL,
		room_type_id TEXT NOT NULL,
		date TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		PRIMARY KEY (hotel_id, room_type_id, date, booking_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_availability_booking ON availability_booking(hotel_id, booking_id)`,

	`CREATE TABLE IF NOT EXISTS season (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS special_period (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_plan (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_override (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		room_type_id TEXT NOT NULL,
		date TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_override_lookup ON rate_override(hotel_id, room_type_id, date)`,

	`CREATE TABLE IF NOT EXISTS corporate_company (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		gst_number TEXT NOT NULL,
		version BIGINT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_company_gst ON corporate_company(gst_number)`,

	`CREATE TABLE IF NOT EXISTS credit_transaction (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		chain_seq BIGINT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_company_date ON credit_transaction(hotel_id, company_id, transaction_date DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_status_due ON credit_transaction(status, due_date)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_booking ON credit_transaction(booking_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_chain ON credit_transaction(company_id, chain_seq) WHERE chain_seq > 0`,

	`CREATE TABLE IF NOT EXISTS credit_limit_request (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS booking_ref (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		status TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_company ON booking_ref(company_id, status)`,
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a database transaction. A non-nil error from fn,
// or a cancelled context, rolls every write back.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &repo{q: sqlTx, sb: s.sb}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements every repository against one queryer. The Store holds a
// repo over the pool; WithTx hands fn a repo over the transaction.
type repo struct {
	q  queryer
	sb squirrel.StatementBuilderType
}

func (r *repo) Rooms() core.RoomRepository                 { return r }
func (r *repo) Availability() core.AvailabilityRepository  { return r }
func (r *repo) Seasons() core.SeasonRepository             { return r }
func (r *repo) RatePlans() core.RatePlanRepository         { return r }
func (r *repo) Companies() core.CompanyRepository          { return r }
func (r *repo) Credit() core.CreditRepository              { return r }
func (r *repo) LimitRequests() core.LimitRequestRepository { return r }
func (r *repo) Bookings() core.BookingRepository           { return r }

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(b), nil
}

func (r *repo) exec(ctx context.Context, b squirrel.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, core.ErrDuplicate
		}
		return nil, err
	}
	return res, nil
}

// upsert inserts values or overwrites every non-key column on conflict.
func (r *repo) upsert(ctx context.Context, table string, key []string, values map[string]any) error {
	cols := slices.Sorted(maps.Keys(values))
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if !slices.Contains(key, c) {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	b := r.sb.Insert(table).SetMap(values).
		Suffix("ON CONFLICT (" + strings.Join(key, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", "))
	_, err := r.exec(ctx, b)
	return err
}

// getDoc decodes the doc column of the single row selected by b.
func getDoc[T any](ctx context.Context, r *repo, b squirrel.SelectBuilder, notFound error) (T, error) {
	var out T
	query, args, err := b.ToSql()
	if err != nil {
		return out, fmt.Errorf("failed to build query: %w", err)
	}
	var doc string
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, notFound
		}
		return out, err
	}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return out, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}

// listDocs decodes the doc column of every row selected by b, in order.
func listDocs[T any](ctx context.Context, r *repo, b squirrel.SelectBuilder) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func isUniqueConstraintError(err error) bool {
	var lite sqlite3.Error
	if errors.As(err, &lite) {
		return lite.ExtendedCode == sqlite3.ErrConstraintUnique || lite.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pg *pq.Error
	if errors.As(err, &pg) {
		return pg.Code == "23505"
	}
	return false
}
