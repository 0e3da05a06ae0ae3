// Package store keeps a SQLite catalog of finished PSF calculations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS calculations (
	calc_id         TEXT PRIMARY KEY,
	instrument      TEXT NOT NULL,
	filter          TEXT NOT NULL DEFAULT '',
	mask            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'completed',
	error           TEXT NOT NULL DEFAULT '',
	fits_path       TEXT NOT NULL DEFAULT '',
	total_flux      REAL NOT NULL DEFAULT 0.0,
	fwhm_arcsec     REAL NOT NULL DEFAULT 0.0,
	ee50_arcsec     REAL NOT NULL DEFAULT 0.0,
	workers         INTEGER NOT NULL DEFAULT 1,
	strategies_json TEXT NOT NULL DEFAULT '[]',
	notices_json    TEXT NOT NULL DEFAULT '[]',
	elapsed_ms      INTEGER NOT NULL DEFAULT 0,
	created_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calculations_instrument ON calculations(instrument, filter);

CREATE TABLE IF NOT EXISTS calculation_wavelengths (
	calc_id    TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	wavelength REAL NOT NULL,
	weight     REAL NOT NULL,
	PRIMARY KEY (calc_id, idx)
);
`

// ErrNotFound is returned when a calculation id is not catalogued.
var ErrNotFound = errors.New("calculation not found")

// Record is one catalogued calculation.
type Record struct {
	ID          string
	Instrument  string
	Filter      string
	Mask        string
	Status      string
	Error       string
	FITSPath    string
	TotalFlux   float64
	FWHM        float64
	EE50        float64
	Workers     int
	Strategies  []string
	Notices     []string
	Elapsed     time.Duration
	CreatedAt   time.Time
	Wavelengths []float64
	Weights     []float64
}

// Store is a handle on the catalog database.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at the given path with recommended pragmas
// and runs the schema migration.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces a record and its wavelengths in one transaction.
func (s *Store) Save(ctx context.Context, r *Record) error {
	if r.ID == "" {
		return errors.New("record without id")
	}
	if len(r.Wavelengths) != len(r.Weights) {
		return fmt.Errorf("%d wavelengths but %d weights", len(r.Wavelengths), len(r.Weights))
	}
	strategies, err := json.Marshal(nonNil(r.Strategies))
	if err != nil {
		return err
	}
	notices, err := json.Marshal(nonNil(r.Notices))
	if err != nil {
		return err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	status := r.Status
	if status == "" {
		status = "completed"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO calculations
		(calc_id, instrument, filter, mask, status, error, fits_path, total_flux, fwhm_arcsec,
		 ee50_arcsec, workers, strategies_json, notices_json, elapsed_ms, created_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Instrument, r.Filter, r.Mask, status, r.Error, r.FITSPath, r.TotalFlux, r.FWHM,
		r.EE50, r.Workers, string(strategies), string(notices), r.Elapsed.Milliseconds(), created.Unix())
	if err != nil {
		return fmt.Errorf("insert calculation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM calculation_wavelengths WHERE calc_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear wavelengths: %w", err)
	}
	for i, l := range r.Wavelengths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calculation_wavelengths (calc_id, idx, wavelength, weight) VALUES (?, ?, ?, ?)`,
			r.ID, i, l, r.Weights[i]); err != nil {
			return fmt.Errorf("insert wavelength %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const selectCalculation = `SELECT calc_id, instrument, filter, mask, status, error, fits_path,
	total_flux, fwhm_arcsec, ee50_arcsec, workers, strategies_json, notices_json, elapsed_ms,
	created_at_unix FROM calculations`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                   Record
		strategies, notices string
		elapsed, created    int64
	)
	err := row.Scan(&r.ID, &r.Instrument, &r.Filter, &r.Mask, &r.Status, &r.Error, &r.FITSPath,
		&r.TotalFlux, &r.FWHM, &r.EE50, &r.Workers, &strategies, &notices, &elapsed, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(strategies), &r.Strategies); err != nil {
		return nil, fmt.Errorf("decode strategies of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(notices), &r.Notices); err != nil {
		return nil, fmt.Errorf("decode notices of %s: %w", r.ID, err)
	}
	r.Elapsed = time.Duration(elapsed) * time.Millisecond
	r.CreatedAt = time.Unix(created, 0)
	return &r, nil
}

// Get loads one record with its wavelengths.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectCalculation+` WHERE calc_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT wavelength, weight FROM calculation_wavelengths WHERE calc_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("query wavelengths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l, w float64
		if err := rows.Scan(&l, &w); err != nil {
			return nil, err
		}
		r.Wavelengths = append(r.Wavelengths, l)
		r.Weights = append(r.Weights, w)
	}
	return r, rows.Err()
}

// List returns the most recent records, newest first, without wavelengths.
// An empty instrument matches all.
func (s *Store) List(ctx context.Context, instrument string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := selectCalculation
	args := []any{}
	if instrument != "" {
		query += ` WHERE instrument = ?`
		args = append(args, instrument)
	}
	query += ` ORDER BY created_at_unix DESC, calc_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calculations: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
