// Package memory implements the canonical in-memory transactional store for
// the vetcore domain. Durable backends wrap it and persist committed state.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"vetcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Record aliases the domain record type for persistence consumers.
	Record = domain.Record
	// VersionEntry aliases the domain ledger entry type.
	VersionEntry = domain.VersionEntry
	// Change aliases the domain change type.
	Change = domain.Change
	// Result aliases the rules evaluation result.
	Result = domain.Result
	// RulesEngine aliases the domain rules engine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases the domain transaction port.
	Transaction = domain.Transaction
	// TransactionView aliases the domain view port.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	records map[string]domain.Record
	// versions holds each record's ledger in creation order; append-only.
	versions map[string][]domain.VersionEntry
}

func newMemoryState() memoryState {
	return memoryState{
		records:  make(map[string]domain.Record),
		versions: make(map[string][]domain.VersionEntry),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for id, r := range s.records {
		cloned.records[id] = domain.CloneRecord(r)
	}
	for id, entries := range s.versions {
		cloned.versions[id] = cloneLedger(entries)
	}
	return cloned
}

func cloneLedger(entries []domain.VersionEntry) []domain.VersionEntry {
	out := make([]domain.VersionEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// Snapshot is the JSON-serialisable form of the full store state used by
// durable backends.
type Snapshot struct {
	Records  map[string]domain.Record         `json:"records"`
	Versions map[string][]domain.VersionEntry `json:"versions"`
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	snap := Snapshot{
		Records:  make(map[string]domain.Record, len(state.records)),
		Versions: make(map[string][]domain.VersionEntry, len(state.versions)),
	}
	for id, r := range state.records {
		snap.Records[id] = domain.CloneRecord(r)
	}
	for id, entries := range state.versions {
		snap.Versions[id] = cloneLedger(entries)
	}
	return snap
}

func memoryStateFromSnapshot(snap Snapshot) memoryState {
	state := newMemoryState()
	for id, r := range snap.Records {
		state.records[id] = domain.CloneRecord(r)
	}
	for id, entries := range snap.Versions {
		state.versions[id] = cloneLedger(entries)
	}
	return state
}

// Store provides an in-memory transactional store for records and their
// version ledgers. Mutations are serialized under the store lock, so the
// read-increment-append sequence of a mutation can never interleave with
// another writer.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListRecords returns all records in the snapshot ordered newest first.
func (v transactionView) ListRecords() []Record {
	out := make([]Record, 0, len(v.state.records))
	for _, r := range v.state.records {
		out = append(out, domain.CloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// FindRecord retrieves a record by ID from the snapshot.
func (v transactionView) FindRecord(id string) (Record, bool) {
	r, ok := v.state.records[id]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListVersions returns the record's ledger in creation order.
func (v transactionView) ListVersions(recordID string) []VersionEntry {
	return cloneLedger(v.state.versions[recordID])
}

// FindVersion retrieves one ledger entry by label.
func (v transactionView) FindVersion(recordID string, version domain.VersionLabel) (VersionEntry, bool) {
	for _, e := range v.state.versions[recordID] {
		if e.Version == version {
			return e.Clone(), true
		}
	}
	return VersionEntry{}, false
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes the transactional state to rules and callers.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateRecord stores a new record within the transaction.
func (tx *transaction) CreateRecord(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.records[r.ID]; exists {
		return Record{}, domain.InvalidStateError{Entity: domain.EntityRecord, ID: r.ID, Reason: "already exists"}
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if r.Document == nil {
		r.Document = domain.Document{}
	}
	tx.state.records[r.ID] = domain.CloneRecord(r)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionCreate, After: domain.CloneRecord(r)})
	return domain.CloneRecord(r), nil
}

// UpdateRecord mutates a record using the provided mutator function.
func (tx *transaction) UpdateRecord(id string, mutator func(*Record) error) (Record, error) {
	current, ok := tx.state.records[id]
	if !ok {
		return Record{}, domain.NotFoundError{Entity: domain.EntityRecord, ID: id}
	}
	before := domain.CloneRecord(current)
	if err := mutator(&current); err != nil {
		return Record{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.records[id] = domain.CloneRecord(current)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionUpdate, Before: before, After: domain.CloneRecord(current)})
	return domain.CloneRecord(current), nil
}

// AppendVersion appends one entry to a record's ledger. It fails with
// ConflictError when the version label already exists for that record, which is
// the loser's signal under a concurrent label race.
func (tx *transaction) AppendVersion(recordID string, entry VersionEntry) (VersionEntry, error) {
	if _, ok := tx.state.records[recordID]; !ok {
		return VersionEntry{}, domain.NotFoundError{Entity: domain.EntityRecord, ID: recordID}
	}
	for _, existing := range tx.state.versions[recordID] {
		if existing.Version == entry.Version {
			return VersionEntry{}, domain.ConflictError{RecordID: recordID, Version: entry.Version}
		}
	}
	if entry.ID == "" {
		entry.ID = tx.store.newID()
	}
	entry.RecordID = recordID
	entry.CreatedAt = tx.now
	tx.state.versions[recordID] = append(tx.state.versions[recordID], entry.Clone())
	tx.recordChange(Change{Entity: domain.EntityVersion, Action: domain.ActionAppend, After: entry.Clone()})
	return entry.Clone(), nil
}

// FindRecord retrieves a record by ID from the transactional state.
func (tx *transaction) FindRecord(id string) (Record, bool) {
	r, ok := tx.state.records[id]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListVersions returns the record's ledger in creation order.
func (tx *transaction) ListVersions(recordID string) []VersionEntry {
	return cloneLedger(tx.state.versions[recordID])
}

// FindVersion retrieves one ledger entry by label from the transactional state.
func (tx *transaction) FindVersion(recordID string, version domain.VersionLabel) (VersionEntry, bool) {
	for _, e := range tx.state.versions[recordID] {
		if e.Version == version {
			return e.Clone(), true
		}
	}
	return VersionEntry{}, false
}

// Read helpers ---------------------------------------------------------------

// GetRecord retrieves a record by ID from committed state.
func (s *Store) GetRecord(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.records[id]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListRecords returns all records from committed state, newest first.
func (s *Store) ListRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := newTransactionView(&s.state)
	return view.ListRecords()
}

// ListVersions returns a record's ledger from committed state in creation order.
func (s *Store) ListVersions(recordID string) []VersionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneLedger(s.state.versions[recordID])
}

// GetVersion retrieves one committed ledger entry by label.
func (s *Store) GetVersion(recordID string, version domain.VersionLabel) (VersionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.state.versions[recordID] {
		if e.Version == version {
			return e.Clone(), true
		}
	}
	return VersionEntry{}, false
}
