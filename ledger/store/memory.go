/*
Package store provides an in-memory TxStore implementation.

PURPOSE:
  Backs the engine tests and dev mode. Transactions are implemented by
  snapshotting the whole state at WithTx entry and restoring it when the
  scope returns an error, which makes atomicity observable in tests
  without a database.

TEST HOOKS:
  - RestrictDelete: marks records whose hard delete reports an
    outstanding reference (drives the soft-delete fallback path)
  - FailNextHistoryAppend: makes the next audit append fail (atomicity)

SEE ALSO:
  - ledger/store.go: The contract this implements
  - store/sqlite: The production implementation
*/
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinicware/backoffice/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.Mutex
	st *state

	// RestrictDelete marks refs whose hard delete is blocked by an
	// outstanding reference.
	RestrictDelete map[ledger.EntityRef]bool

	// FailNextHistoryAppend makes the next AppendHistory call fail once.
	FailNextHistoryAppend bool

	// debtSigns maps entity kinds onto their debt-balance contribution
	// (+1 incurrence side, -1 payment side).
	debtSigns map[ledger.EntityKind]int
}

type state struct {
	dailies   map[string]*ledger.DailyStat   // keyed by date string
	monthlies map[ledger.MonthKey]*ledger.MonthlyStat
	entities  map[ledger.EntityRef]ledger.Entity
	history   []ledger.UpdateRecord
}

func NewMemory(debtSigns map[ledger.EntityKind]int) *Memory {
	return &Memory{
		st: &state{
			dailies:   make(map[string]*ledger.DailyStat),
			monthlies: make(map[ledger.MonthKey]*ledger.MonthlyStat),
			entities:  make(map[ledger.EntityRef]ledger.Entity),
		},
		RestrictDelete: make(map[ledger.EntityRef]bool),
		debtSigns:      debtSigns,
	}
}

// WithTx snapshots the state, runs fn against an unlocked view, and restores
// the snapshot when fn fails. The store mutex is held for the whole scope, so
// transactions serialize.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.st.clone()
	if err := fn(&txView{m: m}); err != nil {
		m.st = saved
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := &state{
		dailies:   make(map[string]*ledger.DailyStat, len(s.dailies)),
		monthlies: make(map[ledger.MonthKey]*ledger.MonthlyStat, len(s.monthlies)),
		entities:  make(map[ledger.EntityRef]ledger.Entity, len(s.entities)),
		history:   append([]ledger.UpdateRecord(nil), s.history...),
	}
	for k, d := range s.dailies {
		cp := *d
		cp.Buckets = cloneBuckets(d.Buckets)
		c.dailies[k] = &cp
	}
	for k, mo := range s.monthlies {
		cp := *mo
		cp.Buckets = cloneBuckets(mo.Buckets)
		c.monthlies[k] = &cp
	}
	for k, e := range s.entities {
		c.entities[k] = e.Clone()
	}
	return c
}

func cloneBuckets(b map[ledger.BucketCategory]decimal.Decimal) map[ledger.BucketCategory]decimal.Decimal {
	out := make(map[ledger.BucketCategory]decimal.Decimal, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// =============================================================================
// STORE METHODS - Outer (auto-commit) surface locks; txView does not
// =============================================================================

// txView is the Store handle passed into a WithTx scope. It shares the
// Memory's state and relies on WithTx holding the mutex.
type txView struct{ m *Memory }

func (v *txView) DailyStatByDate(ctx context.Context, date ledger.Date) (*ledger.DailyStat, error) {
	return v.m.dailyStatByDate(date)
}
func (m *Memory) DailyStatByDate(_ context.Context, date ledger.Date) (*ledger.DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyStatByDate(date)
}
func (m *Memory) dailyStatByDate(date ledger.Date) (*ledger.DailyStat, error) {
	d, ok := m.st.dailies[date.String()]
	if !ok {
		return nil, nil
	}
	cp := *d
	cp.Buckets = cloneBuckets(d.Buckets)
	return &cp, nil
}

func (v *txView) CreateDailyStat(ctx context.Context, s *ledger.DailyStat) error {
	return v.m.createDailyStat(s)
}
func (m *Memory) CreateDailyStat(_ context.Context, s *ledger.DailyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createDailyStat(s)
}
func (m *Memory) createDailyStat(s *ledger.DailyStat) error {
	if _, dup := m.st.dailies[s.Date.String()]; dup {
		return ledger.ErrUniqueViolation
	}
	cp := *s
	cp.Buckets = cloneBuckets(s.Buckets)
	m.st.dailies[s.Date.String()] = &cp
	return nil
}

func (v *txView) AddToDailyStat(ctx context.Context, id string, deltas []ledger.BucketDelta) error {
	return v.m.addToDailyStat(id, deltas)
}
func (m *Memory) AddToDailyStat(_ context.Context, id string, deltas []ledger.BucketDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToDailyStat(id, deltas)
}
func (m *Memory) addToDailyStat(id string, deltas []ledger.BucketDelta) error {
	for _, d := range m.st.dailies {
		if d.ID == id {
			for _, delta := range deltas {
				d.Buckets[delta.Category] = d.Buckets[delta.Category].Add(delta.Amount)
			}
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (v *txView) MonthlyStatByKey(ctx context.Context, key ledger.MonthKey) (*ledger.MonthlyStat, error) {
	return v.m.monthlyStatByKey(key)
}
func (m *Memory) MonthlyStatByKey(_ context.Context, key ledger.MonthKey) (*ledger.MonthlyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monthlyStatByKey(key)
}
func (m *Memory) monthlyStatByKey(key ledger.MonthKey) (*ledger.MonthlyStat, error) {
	mo, ok := m.st.monthlies[key]
	if !ok {
		return nil, nil
	}
	cp := *mo
	cp.Buckets = cloneBuckets(mo.Buckets)
	return &cp, nil
}

func (v *txView) CreateMonthlyStat(ctx context.Context, s *ledger.MonthlyStat) error {
	return v.m.createMonthlyStat(s)
}
func (m *Memory) CreateMonthlyStat(_ context.Context, s *ledger.MonthlyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createMonthlyStat(s)
}
func (m *Memory) createMonthlyStat(s *ledger.MonthlyStat) error {
	key := ledger.MonthKey{Year: s.Year, Month: s.Month}
	if _, dup := m.st.monthlies[key]; dup {
		return ledger.ErrUniqueViolation
	}
	cp := *s
	cp.Buckets = cloneBuckets(s.Buckets)
	m.st.monthlies[key] = &cp
	return nil
}

func (v *txView) AddToMonthlyStat(ctx context.Context, id string, deltas []ledger.BucketDelta) error {
	return v.m.addToMonthlyStat(id, deltas)
}
func (m *Memory) AddToMonthlyStat(_ context.Context, id string, deltas []ledger.BucketDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToMonthlyStat(id, deltas)
}
func (m *Memory) addToMonthlyStat(id string, deltas []ledger.BucketDelta) error {
	for _, mo := range m.st.monthlies {
		if mo.ID == id {
			for _, delta := range deltas {
				mo.Buckets[delta.Category] = mo.Buckets[delta.Category].Add(delta.Amount)
			}
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (v *txView) DailyStatsInMonth(ctx context.Context, key ledger.MonthKey) ([]ledger.DailyStat, error) {
	return v.m.dailyStatsInMonth(key)
}
func (m *Memory) DailyStatsInMonth(_ context.Context, key ledger.MonthKey) ([]ledger.DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyStatsInMonth(key)
}
func (m *Memory) dailyStatsInMonth(key ledger.MonthKey) ([]ledger.DailyStat, error) {
	var out []ledger.DailyStat
	for _, d := range m.st.dailies {
		if d.Date.MonthKey() == key {
			cp := *d
			cp.Buckets = cloneBuckets(d.Buckets)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (v *txView) EarliestStatMonth(ctx context.Context) (ledger.MonthKey, bool, error) {
	return v.m.earliestStatMonth()
}
func (m *Memory) EarliestStatMonth(_ context.Context) (ledger.MonthKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.earliestStatMonth()
}
func (m *Memory) earliestStatMonth() (ledger.MonthKey, bool, error) {
	var best *ledger.MonthKey
	for key := range m.st.monthlies {
		k := key
		if best == nil || k.Before(*best) {
			best = &k
		}
	}
	if best == nil {
		return ledger.MonthKey{}, false, nil
	}
	return *best, true, nil
}

func (v *txView) StampClosedPeriods(ctx context.Context, tempBoundary, officialBoundary ledger.Date, at time.Time) error {
	return v.m.stampClosedPeriods(tempBoundary, officialBoundary, at)
}
func (m *Memory) StampClosedPeriods(_ context.Context, tempBoundary, officialBoundary ledger.Date, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stampClosedPeriods(tempBoundary, officialBoundary, at)
}
func (m *Memory) stampClosedPeriods(tempBoundary, officialBoundary ledger.Date, at time.Time) error {
	stamp := at
	for _, d := range m.st.dailies {
		if d.TemporarilyClosedAt == nil && d.Date.Before(tempBoundary) {
			d.TemporarilyClosedAt = &stamp
		}
		if d.OfficiallyClosedAt == nil && d.Date.Before(officialBoundary) {
			d.OfficiallyClosedAt = &stamp
		}
	}
	for _, mo := range m.st.monthlies {
		start := ledger.MonthKey{Year: mo.Year, Month: mo.Month}.Start()
		end := start.AddMonths(1)
		if mo.TemporarilyClosedAt == nil && !end.After(tempBoundary) {
			mo.TemporarilyClosedAt = &stamp
		}
		if mo.OfficiallyClosedAt == nil && !end.After(officialBoundary) {
			mo.OfficiallyClosedAt = &stamp
		}
	}
	return nil
}

// --- Entities ---

func (v *txView) GetEntity(ctx context.Context, ref ledger.EntityRef) (ledger.Entity, error) {
	return v.m.getEntity(ref)
}
func (m *Memory) GetEntity(_ context.Context, ref ledger.EntityRef) (ledger.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEntity(ref)
}
func (m *Memory) getEntity(ref ledger.EntityRef) (ledger.Entity, error) {
	e, ok := m.st.entities[ref]
	if !ok || e.IsDeleted() {
		return nil, ledger.ErrNotFound
	}
	return e.Clone(), nil
}

func (v *txView) InsertEntity(ctx context.Context, e ledger.Entity) error {
	return v.m.insertEntity(e)
}
func (m *Memory) InsertEntity(_ context.Context, e ledger.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEntity(e)
}
func (m *Memory) insertEntity(e ledger.Entity) error {
	if _, dup := m.st.entities[e.Ref()]; dup {
		return ledger.ErrUniqueViolation
	}
	stored := e.Clone()
	stored.SetRowVersion(1)
	m.st.entities[e.Ref()] = stored
	e.SetRowVersion(1)
	return nil
}

func (v *txView) UpdateEntity(ctx context.Context, e ledger.Entity, expectedVersion int64) error {
	return v.m.updateEntity(e, expectedVersion)
}
func (m *Memory) UpdateEntity(_ context.Context, e ledger.Entity, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntity(e, expectedVersion)
}
func (m *Memory) updateEntity(e ledger.Entity, expectedVersion int64) error {
	current, ok := m.st.entities[e.Ref()]
	if !ok {
		return ledger.ErrNotFound
	}
	if current.RowVersion() != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	stored := e.Clone()
	stored.SetRowVersion(expectedVersion + 1)
	m.st.entities[e.Ref()] = stored
	e.SetRowVersion(expectedVersion + 1)
	return nil
}

func (v *txView) HardDeleteEntity(ctx context.Context, ref ledger.EntityRef, expectedVersion int64) error {
	return v.m.hardDeleteEntity(ref, expectedVersion)
}
func (m *Memory) HardDeleteEntity(_ context.Context, ref ledger.EntityRef, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hardDeleteEntity(ref, expectedVersion)
}
func (m *Memory) hardDeleteEntity(ref ledger.EntityRef, expectedVersion int64) error {
	current, ok := m.st.entities[ref]
	if !ok {
		return ledger.ErrNotFound
	}
	if current.RowVersion() != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	if m.RestrictDelete[ref] {
		return ledger.ErrDeleteRestricted
	}
	delete(m.st.entities, ref)
	return nil
}

func (v *txView) ListEntities(ctx context.Context, kind ledger.EntityKind) ([]ledger.Entity, error) {
	return v.m.listEntities(kind)
}
func (m *Memory) ListEntities(_ context.Context, kind ledger.EntityKind) ([]ledger.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listEntities(kind)
}
func (m *Memory) listEntities(kind ledger.EntityKind) ([]ledger.Entity, error) {
	var out []ledger.Entity
	for ref, e := range m.st.entities {
		if ref.Kind == kind && !e.IsDeleted() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().ID < out[j].Ref().ID })
	return out, nil
}

// --- Audit ---

func (v *txView) AppendHistory(ctx context.Context, rec ledger.UpdateRecord) error {
	return v.m.appendHistory(rec)
}
func (m *Memory) AppendHistory(_ context.Context, rec ledger.UpdateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendHistory(rec)
}
func (m *Memory) appendHistory(rec ledger.UpdateRecord) error {
	if m.FailNextHistoryAppend {
		m.FailNextHistoryAppend = false
		return errors.New("history append failed")
	}
	m.st.history = append(m.st.history, rec)
	return nil
}

func (v *txView) HistoryFor(ctx context.Context, ref ledger.EntityRef) ([]ledger.UpdateRecord, error) {
	return v.m.historyFor(ref)
}
func (m *Memory) HistoryFor(_ context.Context, ref ledger.EntityRef) ([]ledger.UpdateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyFor(ref)
}
func (m *Memory) historyFor(ref ledger.EntityRef) ([]ledger.UpdateRecord, error) {
	var out []ledger.UpdateRecord
	for _, rec := range m.st.history {
		if rec.Entity == ref {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// --- Debt ---

func (v *txView) DebtBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	return v.m.debtBalance(customerID)
}
func (m *Memory) DebtBalance(_ context.Context, customerID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debtBalance(customerID)
}
func (m *Memory) debtBalance(customerID string) (decimal.Decimal, error) {
	balance := decimal.Zero
	for ref, e := range m.st.entities {
		if e.IsDeleted() || e.CustomerRef() != customerID {
			continue
		}
		switch m.debtSigns[ref.Kind] {
		case 1:
			balance = balance.Add(e.LedgerAmount())
		case -1:
			balance = balance.Sub(e.LedgerAmount())
		}
	}
	return balance, nil
}
