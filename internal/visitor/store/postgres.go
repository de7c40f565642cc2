package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"visitorpass/internal/visitor/models"
	"visitorpass/pkg/platform/sentinel"
)

const postgresColumns = `visitor_id, visitor_name, visitor_mobile, visitor_email, purpose,
  person_to_meet, approver_mobile, visit_date, visit_time, photo_url,
  status, approval_time, pass_link, scan_status, scan_time, created_at`

// PostgresStore persists visitors in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres wraps an open, migrated pool.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, v *models.Visitor) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO visitors(`+postgresColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (visitor_id) DO NOTHING`,
		v.ID, v.Name, v.Mobile, v.Email, v.Purpose,
		v.PersonToMeet, v.ApproverMobile, v.VisitDate, v.VisitTime, v.PhotoURL,
		string(v.Status), nullTime(v.ApprovalTime), v.PassLink, string(v.ScanStatus), nullTime(v.ScanTime),
		v.CreatedAt.UTC(),
	)
	if err != nil {
		return translatePQ(fmt.Errorf("insert visitor: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert visitor rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("visitor %s: %w", v.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Visitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresColumns+` FROM visitors WHERE visitor_id = $1`, id)
	v, err := scanPostgres(row)
	if err != nil {
		return nil, translatePQ(wrapNotFound(err, id))
	}
	return v, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Visitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postgresColumns+` FROM visitors ORDER BY created_at DESC`)
	if err != nil {
		return nil, translatePQ(fmt.Errorf("list visitors: %w", err))
	}
	defer rows.Close()

	var out []*models.Visitor
	for rows.Next() {
		v, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Execute locks the row with SELECT ... FOR UPDATE for the whole
// validate-mutate-write sequence.
func (s *PostgresStore) Execute(ctx context.Context, id string, validate ValidateFunc, mutate MutateFunc) (*models.Visitor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translatePQ(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+postgresColumns+` FROM visitors WHERE visitor_id = $1 FOR UPDATE`, id)
	current, err := scanPostgres(row)
	if err != nil {
		return nil, translatePQ(wrapNotFound(err, id))
	}

	if err := validate(current); err != nil {
		return current, err
	}
	mutate(current)

	if _, err := tx.ExecContext(ctx, `
UPDATE visitors
SET status = $1, approval_time = $2, pass_link = $3, scan_status = $4, scan_time = $5
WHERE visitor_id = $6`,
		string(current.Status), nullTime(current.ApprovalTime), current.PassLink,
		string(current.ScanStatus), nullTime(current.ScanTime), id,
	); err != nil {
		return nil, translatePQ(fmt.Errorf("update visitor: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, translatePQ(fmt.Errorf("commit: %w", err))
	}
	return current, nil
}

func scanPostgres(r rowScanner) (*models.Visitor, error) {
	var (
		v                     models.Visitor
		status, scanStatus    string
		approvalAt, scannedAt sql.NullTime
	)
	if err := r.Scan(
		&v.ID, &v.Name, &v.Mobile, &v.Email, &v.Purpose,
		&v.PersonToMeet, &v.ApproverMobile, &v.VisitDate, &v.VisitTime, &v.PhotoURL,
		&status, &approvalAt, &v.PassLink, &scanStatus, &scannedAt, &v.CreatedAt,
	); err != nil {
		return nil, err
	}
	v.Status = models.Status(status)
	v.ScanStatus = models.ScanStatus(scanStatus)
	if approvalAt.Valid {
		v.ApprovalTime = approvalAt.Time.UTC()
	}
	if scannedAt.Valid {
		v.ScanTime = scannedAt.Time.UTC()
	}
	v.CreatedAt = v.CreatedAt.UTC()
	if err := v.CheckInvariants(); err != nil {
		return nil, err
	}
	return &v, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// translatePQ marks connection-class and invalid-id failures.
func translatePQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "22P02": // invalid_text_representation: not a uuid
			return fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "53" || pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return err
}
