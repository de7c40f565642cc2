package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "visitorpass/internal/platform/db"
	"visitorpass/internal/visitor/models"
	"visitorpass/pkg/platform/sentinel"
)

const sqliteColumns = `visitor_id, visitor_name, visitor_mobile, visitor_email, purpose,
  person_to_meet, approver_mobile, visit_date, visit_time, photo_url,
  status, approval_time_ms, pass_link, scan_status, scan_time_ms, created_at_ms`

// SQLiteStore persists visitors in SQLite. Reads go straight to the pool;
// every write runs on the shared db.Worker so Execute is serialised.
type SQLiteStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

// NewSQLite wraps an open, migrated database.
func NewSQLite(db *sql.DB, writer *dbpkg.Worker) *SQLiteStore {
	return &SQLiteStore{db: db, writer: writer}
}

func (s *SQLiteStore) Create(ctx context.Context, v *models.Visitor) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO visitors(`+sqliteColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(visitor_id) DO NOTHING;`,
			v.ID, v.Name, v.Mobile, v.Email, v.Purpose,
			v.PersonToMeet, v.ApproverMobile, v.VisitDate, v.VisitTime, v.PhotoURL,
			string(v.Status), toMillis(v.ApprovalTime), v.PassLink, string(v.ScanStatus), toMillis(v.ScanTime),
			v.CreatedAt.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert visitor: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert visitor rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("visitor %s: %w", v.ID, sentinel.ErrConflict)
		}
		return nil
	})
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*models.Visitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM visitors WHERE visitor_id = ?;`, id)
	v, err := scanSQLite(row)
	if err != nil {
		return nil, wrapNotFound(err, id)
	}
	return v, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*models.Visitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM visitors ORDER BY created_at_ms DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	defer rows.Close()

	var out []*models.Visitor
	for rows.Next() {
		v, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Execute(ctx context.Context, id string, validate ValidateFunc, mutate MutateFunc) (*models.Visitor, error) {
	var result *models.Visitor
	var refusal error

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM visitors WHERE visitor_id = ?;`, id)
		current, err := scanSQLite(row)
		if err != nil {
			return wrapNotFound(err, id)
		}
		if err := validate(current); err != nil {
			// Nothing written; returning nil commits an empty transaction.
			result, refusal = current, err
			return nil
		}
		mutate(current)
		if _, err := tx.ExecContext(ctx, `
UPDATE visitors
SET status = ?, approval_time_ms = ?, pass_link = ?, scan_status = ?, scan_time_ms = ?
WHERE visitor_id = ?;`,
			string(current.Status), toMillis(current.ApprovalTime), current.PassLink,
			string(current.ScanStatus), toMillis(current.ScanTime), id,
		); err != nil {
			return fmt.Errorf("update visitor: %w", err)
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, refusal
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(r rowScanner) (*models.Visitor, error) {
	var (
		v                  models.Visitor
		status, scanStatus string
		approvalMs, scanMs sql.NullInt64
		createdMs          int64
	)
	if err := r.Scan(
		&v.ID, &v.Name, &v.Mobile, &v.Email, &v.Purpose,
		&v.PersonToMeet, &v.ApproverMobile, &v.VisitDate, &v.VisitTime, &v.PhotoURL,
		&status, &approvalMs, &v.PassLink, &scanStatus, &scanMs, &createdMs,
	); err != nil {
		return nil, err
	}
	v.Status = models.Status(status)
	v.ScanStatus = models.ScanStatus(scanStatus)
	v.ApprovalTime = fromMillis(approvalMs)
	v.ScanTime = fromMillis(scanMs)
	v.CreatedAt = time.UnixMilli(createdMs).UTC()
	if err := v.CheckInvariants(); err != nil {
		return nil, err
	}
	return &v, nil
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.UnixMilli(n.Int64).UTC()
}

func wrapNotFound(err error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("visitor %s: %w", id, sentinel.ErrNotFound)
	}
	return fmt.Errorf("load visitor %s: %w", id, err)
}
