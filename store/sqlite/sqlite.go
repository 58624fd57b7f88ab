/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the ledgered entities, the daily/monthly aggregate rows, and
  the append-only update history. In production, the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  customers:          Referenced by debt-side and revenue records
  debts, debt_incurrences, debt_payments,
  consultations, expenses, orders,
  treatments, supplies: One table per ledgered kind
  daily_stats:        One row per date (unique), linked to monthly_stats
  monthly_stats:      One row per (year, month) pair (unique)
  update_history:     Append-only audit rows

AMOUNTS:
  Amounts are integral minor currency units stored as INTEGER, which is
  what lets bucket increments run as "SET col = col + ?" - a signed,
  commutative delta that concurrent transactions compose over. Aggregate
  buckets are never overwritten.

CONSTRAINT CLASSIFICATION:
  SQLite extended result codes map onto the ledger sentinels:
  - FOREIGNKEY/TRIGGER on delete -> ErrDeleteRestricted (soft-delete fallback)
  - FOREIGNKEY on insert/update  -> ErrForeignKeyMissing
  - UNIQUE/PRIMARYKEY            -> ErrUniqueViolation

CONCURRENCY:
  WAL mode plus a process-level write mutex: multiple readers don't
  block, one writer at a time. Entity rows additionally carry an
  optimistic version column checked on every UPDATE and DELETE.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation used by engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; SQLite allows one at a time
	ops
}

// querier is the subset of *sql.DB / *sql.Tx the operations need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops carries every ledger.Store method, bound to either the database
// (autocommit) or a single transaction.
type ops struct {
	q querier
}

// txOps is the store handle handed into WithTx scopes.
type txOps struct{ ops }

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and sidesteps
	// SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, ops: ops{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside one transaction. An error from fn rolls everything
// back; commit failures are classified like any other constraint failure.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&txOps{ops{q: tx}}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyConstraint(err, false)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS debts (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_debts_customer ON debts(customer_id);

	CREATE TABLE IF NOT EXISTS debt_incurrences (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		debt_id TEXT NOT NULL REFERENCES debts(id),
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_incurrences_debt ON debt_incurrences(debt_id);
	CREATE INDEX IF NOT EXISTS idx_incurrences_customer ON debt_incurrences(customer_id);

	CREATE TABLE IF NOT EXISTS debt_payments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		debt_id TEXT NOT NULL REFERENCES debts(id),
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_payments_debt ON debt_payments(debt_id);
	CREATE INDEX IF NOT EXISTS idx_payments_customer ON debt_payments(customer_id);

	CREATE TABLE IF NOT EXISTS consultations (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		amount INTEGER NOT NULL,
		vat INTEGER NOT NULL DEFAULT 0,
		shipping_fee INTEGER NOT NULL DEFAULT 0,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS treatments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS supplies (
		id TEXT PRIMARY KEY,
		supplier TEXT,
		amount INTEGER NOT NULL,
		resource_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS monthly_stats (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		` + bucketColumnDDL() + `,
		temporarily_closed_at TEXT,
		officially_closed_at TEXT,
		UNIQUE(year, month)
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		monthly_id TEXT NOT NULL REFERENCES monthly_stats(id),
		` + bucketColumnDDL() + `,
		temporarily_closed_at TEXT,
		officially_closed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_daily_monthly ON daily_stats(monthly_id);

	CREATE TABLE IF NOT EXISTS update_history (
		id TEXT PRIMARY KEY,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		reason TEXT,
		old_data TEXT NOT NULL,
		new_data TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_entity
		ON update_history(entity_kind, entity_id, recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func bucketColumnDDL() string {
	cols := make([]string, 0, len(ledger.AllBuckets()))
	for _, b := range ledger.AllBuckets() {
		cols = append(cols, fmt.Sprintf("%s INTEGER NOT NULL DEFAULT 0", b))
	}
	return strings.Join(cols, ",\n\t\t")
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classifyConstraint maps SQLite extended result codes onto ledger sentinels.
// A foreign-key failure means different things on delete (a child row still
// points here) and on insert/update (the referenced parent is missing).
func classifyConstraint(err error, onDelete bool) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.ExtendedCode {
	case sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintTrigger:
		if onDelete {
			return ledger.ErrDeleteRestricted
		}
		return ledger.ErrForeignKeyMissing
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return ledger.ErrUniqueViolation
	}
	return err
}

// =============================================================================
// STAT ROWS
// =============================================================================

func bucketColumns() string {
	names := make([]string, 0, len(ledger.AllBuckets()))
	for _, b := range ledger.AllBuckets() {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}

func scanBuckets(dest map[ledger.BucketCategory]decimal.Decimal, raw []int64) {
	for i, b := range ledger.AllBuckets() {
		dest[b] = decimal.NewFromInt(raw[i])
	}
}

func (o *ops) DailyStatByDate(ctx context.Context, date ledger.Date) (*ledger.DailyStat, error) {
	query := fmt.Sprintf(`SELECT id, date, monthly_id, %s, temporarily_closed_at, officially_closed_at
		FROM daily_stats WHERE date = ?`, bucketColumns())

	row := o.q.QueryRowContext(ctx, query, date.String())
	d, err := scanDailyStat(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// scanDailyStat folds one daily_stats row. scan abstracts over *sql.Row and
// *sql.Rows.
func scanDailyStat(scan func(...any) error) (*ledger.DailyStat, error) {
	var (
		d          ledger.DailyStat
		dateStr    string
		raw        = make([]int64, len(ledger.AllBuckets()))
		tempClosed sql.NullString
		offClosed  sql.NullString
	)
	args := []any{&d.ID, &dateStr, &d.MonthlyID}
	for i := range raw {
		args = append(args, &raw[i])
	}
	args = append(args, &tempClosed, &offClosed)

	if err := scan(args...); err != nil {
		return nil, err
	}
	var err error
	if d.Date, err = parseDate(dateStr); err != nil {
		return nil, err
	}
	d.Buckets = ledger.NewBuckets()
	scanBuckets(d.Buckets, raw)
	d.TemporarilyClosedAt = parseNullTime(tempClosed)
	d.OfficiallyClosedAt = parseNullTime(offClosed)
	return &d, nil
}

func (o *ops) CreateDailyStat(ctx context.Context, d *ledger.DailyStat) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO daily_stats (id, date, monthly_id) VALUES (?, ?, ?)`,
		d.ID, d.Date.String(), d.MonthlyID)
	return classifyConstraint(err, false)
}

func (o *ops) AddToDailyStat(ctx context.Context, id string, deltas []ledger.BucketDelta) error {
	return o.addToStat(ctx, "daily_stats", id, deltas)
}

func (o *ops) MonthlyStatByKey(ctx context.Context, key ledger.MonthKey) (*ledger.MonthlyStat, error) {
	query := fmt.Sprintf(`SELECT id, year, month, %s, temporarily_closed_at, officially_closed_at
		FROM monthly_stats WHERE year = ? AND month = ?`, bucketColumns())

	var (
		m          ledger.MonthlyStat
		month      int
		raw        = make([]int64, len(ledger.AllBuckets()))
		tempClosed sql.NullString
		offClosed  sql.NullString
	)
	args := []any{&m.ID, &m.Year, &month}
	for i := range raw {
		args = append(args, &raw[i])
	}
	args = append(args, &tempClosed, &offClosed)

	err := o.q.QueryRowContext(ctx, query, key.Year, int(key.Month)).Scan(args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.Month = time.Month(month)
	m.Buckets = ledger.NewBuckets()
	scanBuckets(m.Buckets, raw)
	m.TemporarilyClosedAt = parseNullTime(tempClosed)
	m.OfficiallyClosedAt = parseNullTime(offClosed)
	return &m, nil
}

func (o *ops) CreateMonthlyStat(ctx context.Context, m *ledger.MonthlyStat) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO monthly_stats (id, year, month) VALUES (?, ?, ?)`,
		m.ID, m.Year, int(m.Month))
	return classifyConstraint(err, false)
}

func (o *ops) AddToMonthlyStat(ctx context.Context, id string, deltas []ledger.BucketDelta) error {
	return o.addToStat(ctx, "monthly_stats", id, deltas)
}

// addToStat issues "col = col + ?" increments. Column names come from the
// bucket whitelist, never from caller input.
func (o *ops) addToStat(ctx context.Context, table, id string, deltas []ledger.BucketDelta) error {
	valid := make(map[ledger.BucketCategory]bool, len(ledger.AllBuckets()))
	for _, b := range ledger.AllBuckets() {
		valid[b] = true
	}

	sets := make([]string, 0, len(deltas))
	args := make([]any, 0, len(deltas)+1)
	for _, delta := range deltas {
		if !valid[delta.Category] {
			return fmt.Errorf("unknown bucket category %q", delta.Category)
		}
		sets = append(sets, fmt.Sprintf("%s = %s + ?", delta.Category, delta.Category))
		args = append(args, delta.Amount.IntPart())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := o.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (o *ops) DailyStatsInMonth(ctx context.Context, key ledger.MonthKey) ([]ledger.DailyStat, error) {
	from := key.Start()
	to := from.AddMonths(1)
	query := fmt.Sprintf(`SELECT id, date, monthly_id, %s, temporarily_closed_at, officially_closed_at
		FROM daily_stats WHERE date >= ? AND date < ? ORDER BY date`, bucketColumns())

	rows, err := o.q.QueryContext(ctx, query, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.DailyStat
	for rows.Next() {
		d, err := scanDailyStat(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (o *ops) EarliestStatMonth(ctx context.Context) (ledger.MonthKey, bool, error) {
	var year, month int
	err := o.q.QueryRowContext(ctx,
		`SELECT year, month FROM monthly_stats ORDER BY year, month LIMIT 1`).Scan(&year, &month)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.MonthKey{}, false, nil
	}
	if err != nil {
		return ledger.MonthKey{}, false, err
	}
	return ledger.MonthKey{Year: year, Month: time.Month(month)}, true, nil
}

func (o *ops) StampClosedPeriods(ctx context.Context, tempBoundary, officialBoundary ledger.Date, at time.Time) error {
	stamp := at.UTC().Format(timeLayout)

	stmts := []struct {
		query string
		args  []any
	}{
		{`UPDATE daily_stats SET temporarily_closed_at = ? WHERE temporarily_closed_at IS NULL AND date < ?`,
			[]any{stamp, tempBoundary.String()}},
		{`UPDATE daily_stats SET officially_closed_at = ? WHERE officially_closed_at IS NULL AND date < ?`,
			[]any{stamp, officialBoundary.String()}},
		{`UPDATE monthly_stats SET temporarily_closed_at = ? WHERE temporarily_closed_at IS NULL AND (year * 12 + month) < ?`,
			[]any{stamp, monthOrdinal(tempBoundary)}},
		{`UPDATE monthly_stats SET officially_closed_at = ? WHERE officially_closed_at IS NULL AND (year * 12 + month) < ?`,
			[]any{stamp, monthOrdinal(officialBoundary)}},
	}
	for _, st := range stmts {
		if _, err := o.q.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// monthOrdinal linearizes a month-start boundary date for SQL comparison.
// A month is fully before the boundary exactly when its ordinal is smaller.
func monthOrdinal(d ledger.Date) int {
	return d.Year()*12 + int(d.Month())
}

// =============================================================================
// ENTITIES
// =============================================================================

// entityTable maps kinds onto table names.
func entityTable(kind ledger.EntityKind) (string, error) {
	switch kind {
	case domain.KindDebt:
		return "debts", nil
	case domain.KindDebtIncurrence:
		return "debt_incurrences", nil
	case domain.KindDebtPayment:
		return "debt_payments", nil
	case domain.KindConsultation:
		return "consultations", nil
	case domain.KindExpense:
		return "expenses", nil
	case domain.KindOrder:
		return "orders", nil
	case domain.KindTreatment:
		return "treatments", nil
	case domain.KindSupply:
		return "supplies", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", kind)
}

// entityExtras returns the kind-specific column/value pairs beyond the shared
// record columns. Order must match extraColumnsFor.
func entityExtras(e ledger.Entity) (cols []string, vals []any) {
	switch v := e.(type) {
	case *domain.Debt:
		return []string{"customer_id"}, []any{v.CustomerID}
	case *domain.DebtIncurrence:
		return []string{"customer_id", "debt_id"}, []any{v.CustomerID, v.DebtID}
	case *domain.DebtPayment:
		return []string{"customer_id", "debt_id"}, []any{v.CustomerID, v.DebtID}
	case *domain.Consultation:
		return []string{"customer_id"}, []any{v.CustomerID}
	case *domain.Expense:
		return []string{"category"}, []any{string(v.Category)}
	case *domain.Order:
		return []string{"customer_id", "vat", "shipping_fee"},
			[]any{v.CustomerID, v.VAT.IntPart(), v.ShippingFee.IntPart()}
	case *domain.Treatment:
		return []string{"customer_id"}, []any{v.CustomerID}
	case *domain.Supply:
		return []string{"supplier"}, []any{v.Supplier}
	}
	return nil, nil
}

func extraColumnsFor(kind ledger.EntityKind) []string {
	switch kind {
	case domain.KindDebt, domain.KindConsultation, domain.KindTreatment:
		return []string{"customer_id"}
	case domain.KindDebtIncurrence, domain.KindDebtPayment:
		return []string{"customer_id", "debt_id"}
	case domain.KindExpense:
		return []string{"category"}
	case domain.KindOrder:
		return []string{"customer_id", "vat", "shipping_fee"}
	case domain.KindSupply:
		return []string{"supplier"}
	}
	return nil
}

const sharedColumns = "id, amount, resource_date, note, created_at, updated_at, deleted_at, version"

func (o *ops) InsertEntity(ctx context.Context, e ledger.Entity) error {
	table, err := entityTable(e.Ref().Kind)
	if err != nil {
		return err
	}
	stored, ok := e.(domain.Stored)
	if !ok {
		return fmt.Errorf("entity kind %q does not carry stored record fields", e.Ref().Kind)
	}
	meta := stored.Meta()
	extraCols, extraVals := entityExtras(e)

	cols := strings.Split(sharedColumns, ", ")
	cols = append(cols, extraCols...)
	vals := []any{e.Ref().ID, e.LedgerAmount().IntPart(), e.LedgerDate().String(),
		meta.Note, meta.CreatedAt.UTC().Format(timeLayout), meta.UpdatedAt.UTC().Format(timeLayout),
		formatNullTime(meta.DeletedAt), int64(1)}
	vals = append(vals, extraVals...)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err = o.q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders),
		vals...)
	if err != nil {
		return classifyConstraint(err, false)
	}
	e.SetRowVersion(1)
	return nil
}

func (o *ops) UpdateEntity(ctx context.Context, e ledger.Entity, expectedVersion int64) error {
	table, err := entityTable(e.Ref().Kind)
	if err != nil {
		return err
	}
	stored, ok := e.(domain.Stored)
	if !ok {
		return fmt.Errorf("entity kind %q does not carry stored record fields", e.Ref().Kind)
	}
	meta := stored.Meta()
	extraCols, extraVals := entityExtras(e)

	sets := []string{"amount = ?", "resource_date = ?", "note = ?", "updated_at = ?", "deleted_at = ?", "version = version + 1"}
	vals := []any{e.LedgerAmount().IntPart(), e.LedgerDate().String(), meta.Note,
		time.Now().UTC().Format(timeLayout), formatNullTime(meta.DeletedAt)}
	for _, c := range extraCols {
		sets = append(sets, c+" = ?")
	}
	vals = append(vals, extraVals...)
	vals = append(vals, e.Ref().ID, expectedVersion)

	res, err := o.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?", table, strings.Join(sets, ", ")),
		vals...)
	if err != nil {
		return classifyConstraint(err, false)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return o.missOrStale(ctx, table, e.Ref().ID)
	}
	e.SetRowVersion(expectedVersion + 1)
	return nil
}

func (o *ops) HardDeleteEntity(ctx context.Context, ref ledger.EntityRef, expectedVersion int64) error {
	table, err := entityTable(ref.Kind)
	if err != nil {
		return err
	}
	res, err := o.q.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ? AND version = ?", table), ref.ID, expectedVersion)
	if err != nil {
		return classifyConstraint(err, true)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return o.missOrStale(ctx, table, ref.ID)
	}
	return nil
}

// missOrStale distinguishes a vanished row from a version conflict after a
// zero-row UPDATE or DELETE.
func (o *ops) missOrStale(ctx context.Context, table, id string) error {
	var one int
	err := o.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return ledger.ErrConcurrentModification
}

func (o *ops) GetEntity(ctx context.Context, ref ledger.EntityRef) (ledger.Entity, error) {
	entities, err := o.queryEntities(ctx, ref.Kind, "WHERE id = ? AND deleted_at IS NULL", ref.ID)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ledger.ErrNotFound
	}
	return entities[0], nil
}

func (o *ops) ListEntities(ctx context.Context, kind ledger.EntityKind) ([]ledger.Entity, error) {
	return o.queryEntities(ctx, kind, "WHERE deleted_at IS NULL ORDER BY resource_date, id")
}

func (o *ops) queryEntities(ctx context.Context, kind ledger.EntityKind, clause string, args ...any) ([]ledger.Entity, error) {
	table, err := entityTable(kind)
	if err != nil {
		return nil, err
	}
	extraCols := extraColumnsFor(kind)
	cols := sharedColumns
	if len(extraCols) > 0 {
		cols += ", " + strings.Join(extraCols, ", ")
	}

	rows, err := o.q.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s %s", cols, table, clause), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entity
	for rows.Next() {
		e, err := scanEntity(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// rowFields carries one scanned row before it is folded into a concrete kind.
type rowFields struct {
	id        string
	amount    decimal.Decimal
	date      ledger.Date
	meta      domain.RecordMeta
	version   int64
	extras    []string
	extraInts []int64
}

func scanEntity(kind ledger.EntityKind, rows *sql.Rows) (ledger.Entity, error) {
	extraCols := extraColumnsFor(kind)

	var (
		f         rowFields
		amount    int64
		dateStr   string
		note      sql.NullString
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	strExtras := make([]sql.NullString, len(extraCols))
	intExtras := make([]int64, len(extraCols))

	args := []any{&f.id, &amount, &dateStr, &note, &createdAt, &updatedAt, &deletedAt, &f.version}
	for i, c := range extraCols {
		if c == "vat" || c == "shipping_fee" {
			args = append(args, &intExtras[i])
		} else {
			args = append(args, &strExtras[i])
		}
	}
	if err := rows.Scan(args...); err != nil {
		return nil, err
	}

	var err error
	if f.date, err = parseDate(dateStr); err != nil {
		return nil, err
	}
	f.amount = decimal.NewFromInt(amount)
	f.meta = domain.RecordMeta{Note: note.String, DeletedAt: parseNullTime(deletedAt)}
	f.meta.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	f.meta.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	f.extras = make([]string, len(extraCols))
	for i := range strExtras {
		f.extras[i] = strExtras[i].String
	}
	f.extraInts = intExtras

	return buildEntity(kind, f)
}

func buildEntity(kind ledger.EntityKind, f rowFields) (ledger.Entity, error) {
	var e domain.Stored
	switch kind {
	case domain.KindDebt:
		e = domain.NewDebt(f.extras[0], f.amount, "")
	case domain.KindDebtIncurrence:
		e = domain.NewDebtIncurrence(f.extras[0], f.extras[1], f.amount, "")
	case domain.KindDebtPayment:
		e = domain.NewDebtPayment(f.extras[0], f.extras[1], f.amount, "")
	case domain.KindConsultation:
		e = domain.NewConsultation(f.extras[0], f.amount, "")
	case domain.KindExpense:
		e = domain.NewExpense(domain.ExpenseCategory(f.extras[0]), f.amount, "")
	case domain.KindOrder:
		e = domain.NewOrder(f.extras[0], f.amount,
			decimal.NewFromInt(f.extraInts[1]), decimal.NewFromInt(f.extraInts[2]), "")
	case domain.KindTreatment:
		e = domain.NewTreatment(f.extras[0], f.amount, "")
	case domain.KindSupply:
		e = domain.NewSupply(f.extras[0], f.amount, "")
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	e.Restore(f.id, f.date, f.meta, f.version)
	return e, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (o *ops) AppendHistory(ctx context.Context, rec ledger.UpdateRecord) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO update_history (id, entity_kind, entity_id, actor_id, reason, old_data, new_data, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Entity.Kind), rec.Entity.ID, rec.ActorID, rec.Reason,
		string(rec.OldData), string(rec.NewData), rec.RecordedAt.UTC().Format(timeLayout))
	return classifyConstraint(err, false)
}

func (o *ops) HistoryFor(ctx context.Context, ref ledger.EntityRef) ([]ledger.UpdateRecord, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, actor_id, reason, old_data, new_data, recorded_at
		 FROM update_history WHERE entity_kind = ? AND entity_id = ? ORDER BY recorded_at, id`,
		string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.UpdateRecord
	for rows.Next() {
		rec := ledger.UpdateRecord{Entity: ref}
		var oldData, newData, recordedAt string
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Reason, &oldData, &newData, &recordedAt); err != nil {
			return nil, err
		}
		rec.OldData = []byte(oldData)
		rec.NewData = []byte(newData)
		rec.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// DEBT BALANCE
// =============================================================================

// DebtBalance sums in Go rather than SQL so amounts stay exact decimals.
func (o *ops) DebtBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT amount, 1 FROM debts WHERE customer_id = ? AND deleted_at IS NULL
		UNION ALL
		SELECT amount, 1 FROM debt_incurrences WHERE customer_id = ? AND deleted_at IS NULL
		UNION ALL
		SELECT amount, -1 FROM debt_payments WHERE customer_id = ? AND deleted_at IS NULL`,
		customerID, customerID, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var amount, sign int64
		if err := rows.Scan(&amount, &sign); err != nil {
			return decimal.Zero, err
		}
		balance = balance.Add(decimal.NewFromInt(amount * sign))
	}
	return balance, rows.Err()
}

// =============================================================================
// CUSTOMERS - Reference data outside the ledger contract
// =============================================================================

func (s *Store) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, phone, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Phone, c.CreatedAt.UTC().Format(timeLayout))
	return classifyConstraint(err, false)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, created_at FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (ledger.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return ledger.Date{}, err
	}
	return ledger.DateOf(t), nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
