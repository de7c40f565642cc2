package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"visitorpass/internal/platform/keylock"
	"visitorpass/internal/recordstore"
	"visitorpass/internal/visitor/models"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/sentinel"
)

// Column names of the visitor sheet header row.
const (
	ColVisitorID      = "visitor_id"
	ColVisitorName    = "visitor_name"
	ColVisitorMobile  = "visitor_mobile"
	ColVisitorEmail   = "visitor_email"
	ColPurpose        = "purpose"
	ColPersonToMeet   = "person_to_meet"
	ColApproverMobile = "approver_mobile"
	ColVisitDate      = "visit_date"
	ColVisitTime      = "visit_time"
	ColPhotoURL       = "photo_url"
	ColStatus         = "status"
	ColApprovalTime   = "approval_time"
	ColPassLink       = "pass_link"
	ColScanStatus     = "scan_status"
	ColScanTime       = "scan_time"
	ColCreatedAt      = "created_at"
)

// Columns is the header row, in sheet order.
var Columns = []string{
	ColVisitorID, ColVisitorName, ColVisitorMobile, ColVisitorEmail, ColPurpose,
	ColPersonToMeet, ColApproverMobile, ColVisitDate, ColVisitTime, ColPhotoURL,
	ColStatus, ColApprovalTime, ColPassLink, ColScanStatus, ColScanTime, ColCreatedAt,
}

// TabularStore adapts a header-keyed recordstore.Table. The table has no row
// locking of its own, so every write holds the visitor's key lock for the
// whole read-modify-write.
type TabularStore struct {
	table  recordstore.Table
	locker keylock.Locker
}

// NewTabular wraps table. Use keylock.NewLocal for one replica and
// keylock.NewRedis when replicas share the table.
func NewTabular(table recordstore.Table, locker keylock.Locker) *TabularStore {
	return &TabularStore{table: table, locker: locker}
}

func (s *TabularStore) Create(ctx context.Context, v *models.Visitor) error {
	release, err := s.lock(ctx, v.ID)
	if err != nil {
		return err
	}
	defer release()

	_, err = recordstore.FindByKey(ctx, s.table, ColVisitorID, v.ID)
	switch {
	case err == nil:
		return fmt.Errorf("visitor %s: %w", v.ID, sentinel.ErrConflict)
	case !errors.Is(err, sentinel.ErrNotFound):
		return err
	}
	return s.table.Append(ctx, ToRow(v))
}

func (s *TabularStore) FindByID(ctx context.Context, id string) (*models.Visitor, error) {
	row, err := recordstore.FindByKey(ctx, s.table, ColVisitorID, id)
	if err != nil {
		return nil, err
	}
	return FromRow(row)
}

// ListAll skips rows that cannot be decoded; the sheet is hand-editable.
func (s *TabularStore) ListAll(ctx context.Context) ([]*models.Visitor, error) {
	rows, err := s.table.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Visitor, 0, len(rows))
	for _, r := range rows {
		v, err := FromRow(r)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *TabularStore) Execute(ctx context.Context, id string, validate ValidateFunc, mutate MutateFunc) (*models.Visitor, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	row, err := recordstore.FindByKey(ctx, s.table, ColVisitorID, id)
	if err != nil {
		return nil, err
	}
	current, err := FromRow(row)
	if err != nil {
		return nil, err
	}
	if err := validate(current); err != nil {
		return current, err
	}

	updated := current.Clone()
	mutate(updated)
	changes := diff(ToRow(current), ToRow(updated))
	if len(changes) == 0 {
		return updated, nil
	}
	if err := s.table.UpdateByKey(ctx, ColVisitorID, id, changes); err != nil {
		return nil, fmt.Errorf("update visitor %s: %w", id, err)
	}
	return updated, nil
}

func (s *TabularStore) lock(ctx context.Context, id string) (func(), error) {
	release, err := s.locker.Lock(ctx, "visitor:"+id)
	if err != nil {
		return nil, fmt.Errorf("lock visitor %s: %w: %v", id, sentinel.ErrUnavailable, err)
	}
	return release, nil
}

// ToRow encodes v as sheet cells. Timestamps are RFC 3339 in UTC; unset
// timestamps are empty cells.
func ToRow(v *models.Visitor) recordstore.Row {
	return recordstore.Row{
		ColVisitorID:      v.ID,
		ColVisitorName:    v.Name,
		ColVisitorMobile:  v.Mobile,
		ColVisitorEmail:   v.Email,
		ColPurpose:        v.Purpose,
		ColPersonToMeet:   v.PersonToMeet,
		ColApproverMobile: v.ApproverMobile,
		ColVisitDate:      v.VisitDate,
		ColVisitTime:      v.VisitTime,
		ColPhotoURL:       v.PhotoURL,
		ColStatus:         string(v.Status),
		ColApprovalTime:   formatTime(v.ApprovalTime),
		ColPassLink:       v.PassLink,
		ColScanStatus:     string(v.ScanStatus),
		ColScanTime:       formatTime(v.ScanTime),
		ColCreatedAt:      formatTime(v.CreatedAt),
	}
}

// FromRow decodes a sheet row. Status values are matched case-insensitively
// and an empty scan_status reads as NOT_SCANNED.
func FromRow(r recordstore.Row) (*models.Visitor, error) {
	status, err := models.ParseStatus(r[ColStatus])
	if err != nil {
		return nil, err
	}
	scan, err := models.ParseScanStatus(r[ColScanStatus])
	if err != nil {
		return nil, err
	}
	var times [3]time.Time
	for i, col := range []string{ColApprovalTime, ColScanTime, ColCreatedAt} {
		if times[i], err = parseTime(r[col]); err != nil {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "visitor %s: %s %q is not a timestamp", r[ColVisitorID], col, r[col])
		}
	}
	v := &models.Visitor{
		ID:             r[ColVisitorID],
		Name:           r[ColVisitorName],
		Mobile:         r[ColVisitorMobile],
		Email:          r[ColVisitorEmail],
		Purpose:        r[ColPurpose],
		PersonToMeet:   r[ColPersonToMeet],
		ApproverMobile: r[ColApproverMobile],
		VisitDate:      r[ColVisitDate],
		VisitTime:      r[ColVisitTime],
		PhotoURL:       r[ColPhotoURL],
		Status:         status,
		ApprovalTime:   times[0],
		PassLink:       r[ColPassLink],
		ScanStatus:     scan,
		ScanTime:       times[1],
		CreatedAt:      times[2],
	}
	if err := v.CheckInvariants(); err != nil {
		return nil, err
	}
	return v, nil
}

func diff(before, after recordstore.Row) map[string]string {
	changes := make(map[string]string)
	for col, v := range after {
		if before[col] != v {
			changes[col] = v
		}
	}
	return changes
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads an RFC 3339 cell. An empty cell is the zero time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
