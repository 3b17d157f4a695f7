/*
Package sqlstore provides a SQL-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine over sqlx, so the same
  queries run on SQLite (mattn/go-sqlite3) and PostgreSQL (pgx stdlib). Queries
  are written with '?' placeholders and rebound per driver.

INTERFACES IMPLEMENTED:
  pricing.Store:           ProductPrices(), ServicePrices()
  generic.IntervalTxStore: Assignments()
  billing.Store:           Invoices()
  billing collaborators:   PetBelongsToCustomer, DiscountMultiplierFor, ApplyStockDelta

KEY TABLES:
  price_versions:        Append-only price history, PK (kind, entity_id, effective_from)
  staff_assignments:     Employee postings; partial unique index on open rows
  invoices:              Invoice headers with the frozen total
  invoice_product_lines: Product lines with unit price snapshot
  invoice_service_lines: Service lines with price snapshot
  customers, pets, branches, branch_stock: Collaborator data

CONCURRENCY:
  SQLite: writers are serialized by sync.RWMutex and BEGIN IMMEDIATE
  (_txlock=immediate). PostgreSQL: transactions run at REPEATABLE READ,
  assignment writers take a per-employee advisory lock, and the database
  reports conflicts (40001) which surface as ErrSerializationConflict.

USAGE:
  store, err := sqlstore.New("./data/clinic.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  catalog := pricing.NewCatalog(store, "USD", nil)
  roster := staffing.NewRoster(store.Assignments(), nil)

MIGRATION:
  Schema is auto-migrated on Open(). Statements are idempotent and portable
  between both drivers.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Store implements all storage interfaces over one database handle.
type Store struct {
	db     *sqlx.DB
	driver string
	mu     sync.RWMutex // used only for SQLite
}

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects with the given driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sqlx.Open(driver, sqliteDSN(dsn))
		if err == nil && strings.HasPrefix(dsn, ":memory:") {
			// Every connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sqlx.Open(driver, dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

// =============================================================================
// SCHEMA
// =============================================================================

var schema = []string{
	// Price history (append-only)
	`CREATE TABLE IF NOT EXISTS price_versions (
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		value_json TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (kind, entity_id, effective_from)
	)`,

	// Employee postings
	`CREATE TABLE IF NOT EXISTS staff_assignments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL,
		CHECK (end_date IS NULL OR end_date >= start_date)
	)`,
	// CRITICAL: at most one open posting per employee
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_open_assignment
		ON staff_assignments(employee_id) WHERE end_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_employee
		ON staff_assignments(employee_id, start_date)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_branch
		ON staff_assignments(branch_id, start_date)`,

	// Invoices
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		issued_by TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_customer
		ON invoices(customer_id, issue_date)`,
	`CREATE TABLE IF NOT EXISTS invoice_product_lines (
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		currency TEXT NOT NULL,
		PRIMARY KEY (invoice_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS invoice_service_lines (
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		line_no INTEGER NOT NULL,
		service_id TEXT NOT NULL,
		pet_id TEXT NOT NULL,
		price TEXT NOT NULL,
		currency TEXT NOT NULL,
		source_ref TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (invoice_id, line_no)
	)`,

	// Collaborator data
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		discount_multiplier TEXT NOT NULL DEFAULT '1',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pets (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		name TEXT NOT NULL,
		species TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pets_customer ON pets(customer_id)`,
	`CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS branch_stock (
		product_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, branch_id)
	)`,
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reset removes all rows. Development and demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{
			"invoice_product_lines", "invoice_service_lines", "invoices",
			"staff_assignments", "price_versions",
			"pets", "customers", "branch_stock", "branches",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// SUB-STORES
// =============================================================================

// ProductPrices implements pricing.Store.
func (s *Store) ProductPrices() generic.VersionStore[pricing.ProductID, generic.Money] {
	return &versionTable[pricing.ProductID, generic.Money]{store: s, q: s.db, kind: kindProduct}
}

// ServicePrices implements pricing.Store.
func (s *Store) ServicePrices() generic.VersionStore[pricing.ServiceID, generic.Money] {
	return &versionTable[pricing.ServiceID, generic.Money]{store: s, q: s.db, kind: kindService}
}

// Assignments returns the employee posting store.
func (s *Store) Assignments() *Assignments {
	return &Assignments{assignmentQueries{store: s, q: s.db}}
}

// Invoices returns the invoice store.
func (s *Store) Invoices() *Invoices {
	return &Invoices{store: s}
}

// =============================================================================
// TRANSACTIONS AND LOCKING
// =============================================================================

// withTx executes fn within a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	unlock := s.writeLock()
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, s.txOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

func (s *Store) txOptions() *sql.TxOptions {
	if s.driver == DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	}
	return nil
}

func (s *Store) readLock() func() {
	if s.driver != DriverSQLite {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) writeLock() func() {
	if s.driver != DriverSQLite {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

var errUniqueViolation = errors.New("unique constraint violated")

// classify maps driver errors onto the engine's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", errUniqueViolation, err)
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", generic.ErrSerializationConflict, err)
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", errUniqueViolation, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", generic.ErrSerializationConflict, err)
		}
	}
	return err
}
