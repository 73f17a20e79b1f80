// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while persisting records and their version ledgers to the
// two-table layout (records + record_versions) on every commit.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"vetcore/internal/infra/persistence/memory"
	"vetcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/vetcore?sslmode=disable"

	uniqueViolationCode = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactional semantics. Committed mutations are written row-by-row: the
// record's current state is upserted and appended ledger entries are inserted.
// The unique index on (record_id, version) backs the append-time conflict
// guarantee even across processes.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), applies the schema, and hydrates the in-memory store from any
// existing rows.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		record_no TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		veterinarian_id TEXT,
		farm_id TEXT,
		visit_date TEXT,
		current_version TEXT NOT NULL,
		status TEXT NOT NULL,
		document JSONB NOT NULL,
		rendering TEXT,
		search_status TEXT NOT NULL,
		primary_diagnosis TEXT,
		icd_code TEXT,
		confidence DOUBLE PRECISION,
		severity TEXT,
		is_reportable BOOLEAN,
		poultry_type TEXT,
		breed TEXT,
		age_days INTEGER,
		affected_count INTEGER,
		total_flock INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS record_versions (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES records(id),
		version TEXT NOT NULL,
		created_by TEXT NOT NULL,
		source TEXT NOT NULL,
		changes TEXT,
		snapshot JSONB,
		delta JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		CHECK ((snapshot IS NULL) <> (delta IS NULL))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_record_version ON record_versions(record_id, version)`,
	`CREATE INDEX IF NOT EXISTS idx_records_status ON records(status)`,
	`CREATE INDEX IF NOT EXISTS idx_records_diagnosis ON records(primary_diagnosis)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_created ON record_versions(created_at)`,
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Records:  map[string]domain.Record{},
		Versions: map[string][]domain.VersionEntry{},
	}

	rows, err := db.QueryContext(ctx, `SELECT id, record_no, owner_id, veterinarian_id, farm_id, visit_date,
		current_version, status, document, rendering, search_status,
		primary_diagnosis, icd_code, confidence, severity, is_reportable,
		poultry_type, breed, age_days, affected_count, total_flock,
		created_at, updated_at FROM records`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return memory.Snapshot{}, err
		}
		snapshot.Records[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate records: %w", err)
	}

	vrows, err := db.QueryContext(ctx, `SELECT id, record_id, version, created_by, source, changes,
		snapshot, delta, created_at FROM record_versions ORDER BY created_at ASC, version ASC`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select record_versions: %w", err)
	}
	defer func() { _ = vrows.Close() }()
	for vrows.Next() {
		entry, err := scanVersion(vrows)
		if err != nil {
			return memory.Snapshot{}, err
		}
		snapshot.Versions[entry.RecordID] = append(snapshot.Versions[entry.RecordID], entry)
	}
	if err := vrows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate record_versions: %w", err)
	}
	return snapshot, nil
}

func scanRecord(rows *sql.Rows) (domain.Record, error) {
	var (
		r          domain.Record
		vet        sql.NullString
		farm       sql.NullString
		visit      sql.NullString
		version    string
		document   []byte
		rendering  sql.NullString
		diagnosis  sql.NullString
		icd        sql.NullString
		confidence sql.NullFloat64
		severity   sql.NullString
		reportable sql.NullBool
		poultry    sql.NullString
		breed      sql.NullString
		ageDays    sql.NullInt64
		affected   sql.NullInt64
		total      sql.NullInt64
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := rows.Scan(&r.ID, &r.RecordNo, &r.Owner, &vet, &farm, &visit,
		&version, &r.Status, &document, &rendering, &r.SearchStatus,
		&diagnosis, &icd, &confidence, &severity, &reportable,
		&poultry, &breed, &ageDays, &affected, &total,
		&createdAt, &updatedAt); err != nil {
		return domain.Record{}, fmt.Errorf("scan record: %w", err)
	}
	label, err := domain.ParseVersion(version)
	if err != nil {
		return domain.Record{}, fmt.Errorf("decode current_version: %w", err)
	}
	r.CurrentVersion = label
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	if vet.Valid {
		r.Veterinarian = vet.String
	}
	if farm.Valid {
		r.FarmID = &farm.String
	}
	if visit.Valid {
		r.VisitDate = &visit.String
	}
	if rendering.Valid {
		r.Rendering = rendering.String
	}
	if err := json.Unmarshal(document, &r.Document); err != nil {
		return domain.Record{}, fmt.Errorf("decode document: %w", err)
	}
	if diagnosis.Valid {
		r.Projected.PrimaryDiagnosis = &diagnosis.String
	}
	if icd.Valid {
		r.Projected.ICDCode = &icd.String
	}
	if confidence.Valid {
		r.Projected.Confidence = &confidence.Float64
	}
	if severity.Valid {
		r.Projected.Severity = &severity.String
	}
	if reportable.Valid {
		r.Projected.IsReportable = &reportable.Bool
	}
	if poultry.Valid {
		r.Projected.PoultryType = &poultry.String
	}
	if breed.Valid {
		r.Projected.Breed = &breed.String
	}
	if ageDays.Valid {
		v := int(ageDays.Int64)
		r.Projected.AgeDays = &v
	}
	if affected.Valid {
		v := int(affected.Int64)
		r.Projected.AffectedCount = &v
	}
	if total.Valid {
		v := int(total.Int64)
		r.Projected.TotalFlock = &v
	}
	return r, nil
}

func scanVersion(rows *sql.Rows) (domain.VersionEntry, error) {
	var (
		entry    domain.VersionEntry
		version  string
		changes  sql.NullString
		snapshot []byte
		delta    []byte
	)
	if err := rows.Scan(&entry.ID, &entry.RecordID, &version, &entry.Actor, &entry.Source,
		&changes, &snapshot, &delta, &entry.CreatedAt); err != nil {
		return domain.VersionEntry{}, fmt.Errorf("scan version: %w", err)
	}
	label, err := domain.ParseVersion(version)
	if err != nil {
		return domain.VersionEntry{}, fmt.Errorf("decode version label: %w", err)
	}
	entry.Version = label
	if changes.Valid {
		entry.Changes = changes.String
	}
	if snapshot != nil {
		if err := json.Unmarshal(snapshot, &entry.Snapshot); err != nil {
			return domain.VersionEntry{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	if delta != nil {
		var d domain.DocumentDelta
		if err := json.Unmarshal(delta, &d); err != nil {
			return domain.VersionEntry{}, fmt.Errorf("decode delta: %w", err)
		}
		entry.Delta = &d
	}
	return entry, nil
}

// RunInTransaction applies the provided function within a transaction, then
// writes the committed mutation set to Postgres.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	capture := &captureTx{}
	res, err := s.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		capture.inner = tx
		return fn(capture)
	})
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx, capture); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// captureTx decorates a domain transaction, remembering which records were
// written and which ledger entries were appended so persist can replay exactly
// those rows.
type captureTx struct {
	inner   domain.Transaction
	records []domain.Record
	entries []domain.VersionEntry
}

func (c *captureTx) Snapshot() domain.TransactionView { return c.inner.Snapshot() }

func (c *captureTx) CreateRecord(r domain.Record) (domain.Record, error) {
	created, err := c.inner.CreateRecord(r)
	if err != nil {
		return domain.Record{}, err
	}
	c.records = append(c.records, created)
	return created, nil
}

func (c *captureTx) UpdateRecord(id string, mutator func(*domain.Record) error) (domain.Record, error) {
	updated, err := c.inner.UpdateRecord(id, mutator)
	if err != nil {
		return domain.Record{}, err
	}
	c.records = append(c.records, updated)
	return updated, nil
}

func (c *captureTx) AppendVersion(recordID string, entry domain.VersionEntry) (domain.VersionEntry, error) {
	appended, err := c.inner.AppendVersion(recordID, entry)
	if err != nil {
		return domain.VersionEntry{}, err
	}
	c.entries = append(c.entries, appended)
	return appended, nil
}

func (c *captureTx) FindRecord(id string) (domain.Record, bool) { return c.inner.FindRecord(id) }

func (c *captureTx) ListVersions(recordID string) []domain.VersionEntry {
	return c.inner.ListVersions(recordID)
}

func (c *captureTx) FindVersion(recordID string, version domain.VersionLabel) (domain.VersionEntry, bool) {
	return c.inner.FindVersion(recordID, version)
}

func (s *Store) persist(ctx context.Context, capture *captureTx) error {
	if len(capture.records) == 0 && len(capture.entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, r := range capture.records {
		if err := upsertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, entry := range capture.entries {
		if err := insertVersion(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func upsertRecord(ctx context.Context, tx *sql.Tx, r domain.Record) error {
	document, err := json.Marshal(r.Document)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO records (
		id, record_no, owner_id, veterinarian_id, farm_id, visit_date,
		current_version, status, document, rendering, search_status,
		primary_diagnosis, icd_code, confidence, severity, is_reportable,
		poultry_type, breed, age_days, affected_count, total_flock,
		created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	ON CONFLICT (id) DO UPDATE SET
		current_version = EXCLUDED.current_version,
		status = EXCLUDED.status,
		document = EXCLUDED.document,
		rendering = EXCLUDED.rendering,
		search_status = EXCLUDED.search_status,
		primary_diagnosis = EXCLUDED.primary_diagnosis,
		icd_code = EXCLUDED.icd_code,
		confidence = EXCLUDED.confidence,
		severity = EXCLUDED.severity,
		is_reportable = EXCLUDED.is_reportable,
		poultry_type = EXCLUDED.poultry_type,
		breed = EXCLUDED.breed,
		age_days = EXCLUDED.age_days,
		affected_count = EXCLUDED.affected_count,
		total_flock = EXCLUDED.total_flock,
		farm_id = EXCLUDED.farm_id,
		visit_date = EXCLUDED.visit_date,
		updated_at = EXCLUDED.updated_at`,
		r.ID, r.RecordNo, r.Owner, nullString(r.Veterinarian), r.FarmID, r.VisitDate,
		r.CurrentVersion.String(), string(r.Status), document, nullString(r.Rendering), string(r.SearchStatus),
		r.Projected.PrimaryDiagnosis, r.Projected.ICDCode, r.Projected.Confidence,
		r.Projected.Severity, r.Projected.IsReportable,
		r.Projected.PoultryType, r.Projected.Breed, r.Projected.AgeDays,
		r.Projected.AffectedCount, r.Projected.TotalFlock,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.ID, err)
	}
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, entry domain.VersionEntry) error {
	var snapshot, delta any
	if entry.Snapshot != nil {
		data, err := json.Marshal(entry.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snapshot = data
	}
	if entry.Delta != nil {
		data, err := json.Marshal(entry.Delta)
		if err != nil {
			return fmt.Errorf("encode delta: %w", err)
		}
		delta = data
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO record_versions (
		id, record_id, version, created_by, source, changes, snapshot, delta, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.RecordID, entry.Version.String(), entry.Actor, string(entry.Source),
		nullString(entry.Changes), snapshot, delta, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ConflictError{RecordID: entry.RecordID, Version: entry.Version}
		}
		return fmt.Errorf("insert version %s of %s: %w", entry.Version, entry.RecordID, err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
