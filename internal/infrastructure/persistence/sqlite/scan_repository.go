package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/scan"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// ScanRepository implements scan.Repository on the scans table.
type ScanRepository struct {
	db *sql.DB
}

// NewScanRepository wraps db.
func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// CreateStub inserts a queued record.
func (r *ScanRepository) CreateStub(ctx context.Context, record *scan.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scans (id, url, status, created_at) VALUES (?, ?, ?, ?)`,
		record.ID(), record.URL(), string(record.Status()), record.CreatedAt().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create scan %s: %w", record.ID(), err)
	}
	return nil
}

// UpdateStatus sets status and, when given, the error message and
// completion time.
func (r *ScanRepository) UpdateStatus(ctx context.Context, id string, status scan.Status, errMsg *string, completedAt *time.Time) error {
	var completed sql.NullInt64
	if completedAt != nil {
		completed = sql.NullInt64{Int64: completedAt.UnixMilli(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE scans
		    SET status = ?,
		        error_message = COALESCE(?, error_message),
		        completed_at = COALESCE(?, completed_at)
		  WHERE id = ?`,
		string(status), nullString(errMsg), completed, id)
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// SaveResult writes the summary columns and the serialized record.
func (r *ScanRepository) SaveResult(ctx context.Context, record *scan.Record) error {
	snap := record.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", sharedErrors.ErrSerializationFailed, snap.ID, err)
	}

	var (
		grade        sql.NullString
		totalScripts sql.NullInt64
		totalBytes   sql.NullInt64
		mainThread   sql.NullFloat64
		completed    sql.NullInt64
	)
	if snap.Summary != nil {
		grade = sql.NullString{String: string(snap.Summary.Grade), Valid: true}
		totalScripts = sql.NullInt64{Int64: int64(snap.Summary.TotalScripts), Valid: true}
		totalBytes = sql.NullInt64{Int64: snap.Summary.TotalBytes, Valid: true}
		mainThread = sql.NullFloat64{Float64: snap.Summary.TotalMainThreadTime, Valid: true}
	}
	if snap.CompletedAt != nil {
		completed = sql.NullInt64{Int64: snap.CompletedAt.UnixMilli(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE scans
		    SET status = ?, completed_at = ?, grade = ?, total_scripts = ?,
		        total_bytes = ?, total_main_thread_time = ?, error_message = ?, result_json = ?
		  WHERE id = ?`,
		string(snap.Status), completed, grade, totalScripts, totalBytes, mainThread,
		nullString(snap.ErrorMessage), string(data), snap.ID)
	if err != nil {
		return fmt.Errorf("failed to save scan result %s: %w", snap.ID, err)
	}
	return requireAffected(res, snap.ID)
}

// FindByID returns the row for id.
func (r *ScanRepository) FindByID(ctx context.Context, id string) (*scan.Row, error) {
	row := r.db.QueryRowContext(ctx, selectScan+` WHERE id = ?`, id)
	out, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sharedErrors.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scan %s: %w", id, err)
	}
	return out, nil
}

// ListRecent returns rows newest first.
func (r *ScanRepository) ListRecent(ctx context.Context, limit, offset int) ([]scan.Row, error) {
	rows, err := r.db.QueryContext(ctx, selectScan+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	out := make([]scan.Row, 0, limit)
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read scan row: %w", err)
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (r *ScanRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const selectScan = `SELECT id, url, status, created_at, completed_at, grade, total_scripts,
	total_bytes, total_main_thread_time, error_message, result_json FROM scans`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*scan.Row, error) {
	var (
		row          scan.Row
		createdAt    int64
		completedAt  sql.NullInt64
		grade        sql.NullString
		totalScripts sql.NullInt64
		totalBytes   sql.NullInt64
		mainThread   sql.NullFloat64
		errMsg       sql.NullString
		resultJSON   sql.NullString
	)
	if err := s.Scan(&row.ID, &row.URL, &row.Status, &createdAt, &completedAt, &grade,
		&totalScripts, &totalBytes, &mainThread, &errMsg, &resultJSON); err != nil {
		return nil, err
	}

	row.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		row.CompletedAt = &t
	}
	if grade.Valid {
		row.Grade = &grade.String
	}
	if totalScripts.Valid {
		n := int(totalScripts.Int64)
		row.TotalScripts = &n
	}
	if totalBytes.Valid {
		row.TotalBytes = &totalBytes.Int64
	}
	if mainThread.Valid {
		row.TotalMainThreadTime = &mainThread.Float64
	}
	if errMsg.Valid {
		row.ErrorMessage = &errMsg.String
	}
	if resultJSON.Valid {
		row.ResultJSON = &resultJSON.String
	}
	return &row, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sharedErrors.ErrScanNotFound, id)
	}
	return nil
}
