package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"visitorpass/internal/platform/db"
	"visitorpass/internal/platform/keylock"
	"visitorpass/internal/recordstore"
	"visitorpass/internal/visitor/models"
	"visitorpass/internal/visitor/store"
	"visitorpass/pkg/platform/sentinel"
)

type visitorStore interface {
	Create(ctx context.Context, v *models.Visitor) error
	FindByID(ctx context.Context, id string) (*models.Visitor, error)
	ListAll(ctx context.Context) ([]*models.Visitor, error)
	Execute(ctx context.Context, id string, validate store.ValidateFunc, mutate store.MutateFunc) (*models.Visitor, error)
}

// StoreContractSuite runs the same behaviour checks against every backend.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) visitorStore
	store    visitorStore
	ctx      context.Context
	now      time.Time
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s.store = s.newStore(s.T())
}

func (s *StoreContractSuite) pending(name string, createdAt time.Time) *models.Visitor {
	return models.NewVisitor(uuid.NewString(), models.RegisterRequest{
		Name:           name,
		Mobile:         "+44 7700 900123",
		Email:          "visitor@example.com",
		Purpose:        "Interview",
		PersonToMeet:   "Dana Host",
		ApproverMobile: "447700900456",
		VisitDate:      "2026-03-14",
		VisitTime:      "10:00",
	}, createdAt)
}

func (s *StoreContractSuite) accept(v *models.Visitor) {
	_, err := s.store.Execute(s.ctx, v.ID, func(v *models.Visitor) error { return v.CanDecide() },
		func(v *models.Visitor) { v.ApplyDecision(models.DecisionAccept, s.now, "https://gate.example.com/pass/"+v.ID) })
	s.Require().NoError(err)
}

func (s *StoreContractSuite) TestCreateAndFind() {
	v := s.pending("Ada Visitor", s.now)
	s.Require().NoError(s.store.Create(s.ctx, v))

	got, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(v.ID, got.ID)
	s.Equal("Ada Visitor", got.Name)
	s.Equal("+44 7700 900123", got.Mobile, "phone numbers are stored verbatim")
	s.Equal(models.StatusPending, got.Status)
	s.Equal(models.ScanNotScanned, got.ScanStatus)
	s.True(got.ApprovalTime.IsZero())
	s.True(got.CreatedAt.Equal(s.now))
}

func (s *StoreContractSuite) TestCreateDuplicateIsConflict() {
	v := s.pending("Ada Visitor", s.now)
	s.Require().NoError(s.store.Create(s.ctx, v))
	err := s.store.Create(s.ctx, v)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *StoreContractSuite) TestFindMissing() {
	_, err := s.store.FindByID(s.ctx, uuid.NewString())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestListAllNewestFirst() {
	older := s.pending("Older", s.now.Add(-time.Hour))
	newer := s.pending("Newer", s.now)
	s.Require().NoError(s.store.Create(s.ctx, older))
	s.Require().NoError(s.store.Create(s.ctx, newer))

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(newer.ID, all[0].ID)
	s.Equal(older.ID, all[1].ID)
}

func (s *StoreContractSuite) TestExecuteAppliesMutation() {
	v := s.pending("Ada Visitor", s.now)
	s.Require().NoError(s.store.Create(s.ctx, v))
	s.accept(v)

	got, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.True(got.ApprovalTime.Equal(s.now))
	s.Equal("https://gate.example.com/pass/"+v.ID, got.PassLink)
	s.Equal("Ada Visitor", got.Name, "descriptive fields untouched")
}

func (s *StoreContractSuite) TestExecuteRefusalReturnsSnapshot() {
	v := s.pending("Ada Visitor", s.now)
	s.Require().NoError(s.store.Create(s.ctx, v))

	mutated := false
	got, err := s.store.Execute(s.ctx, v.ID, func(v *models.Visitor) error { return v.CanScan() },
		func(*models.Visitor) { mutated = true })

	var denied *models.EntryDeniedError
	s.Require().ErrorAs(err, &denied)
	s.Equal(models.StatusPending, denied.Status)
	s.False(mutated)
	s.Require().NotNil(got)
	s.Equal(models.StatusPending, got.Status)

	stored, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.ScanNotScanned, stored.ScanStatus)
}

func (s *StoreContractSuite) TestExecuteMissing() {
	_, err := s.store.Execute(s.ctx, uuid.NewString(),
		func(*models.Visitor) error { return nil }, func(*models.Visitor) {})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestConcurrentDecisionsApplyOnce() {
	v := s.pending("Ada Visitor", s.now)
	s.Require().NoError(s.store.Create(s.ctx, v))

	const n = 8
	var applied, refused atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		d := models.DecisionAccept
		if i%2 == 1 {
			d = models.DecisionDecline
		}
		wg.Add(1)
		go func(d models.Decision) {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, v.ID, func(v *models.Visitor) error { return v.CanDecide() },
				func(v *models.Visitor) { v.ApplyDecision(d, s.now, "https://gate.example.com/pass/"+v.ID) })
			var already *models.AlreadyDecidedError
			switch {
			case err == nil:
				applied.Add(1)
			case errors.As(err, &already):
				refused.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}(d)
	}
	wg.Wait()

	s.Equal(int32(1), applied.Load())
	s.Equal(int32(n-1), refused.Load())

	got, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.True(got.Status.IsTerminal())
	s.NoError(got.CheckInvariants())
}

func (s *StoreContractSuite) TestConcurrentScansAdmitOnce() {
	v := s.pending("Ada Visitor", s.now)
	s.Require().NoError(s.store.Create(s.ctx, v))
	s.accept(v)

	const n = 8
	var admitted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, v.ID, func(v *models.Visitor) error { return v.CanScan() },
				func(v *models.Visitor) { v.ApplyScan(s.now.Add(time.Minute)) })
			var dup *models.DuplicateScanError
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.As(err, &dup):
				duplicates.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), admitted.Load())
	s.Equal(int32(n-1), duplicates.Load())
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) visitorStore {
		return store.NewInMemory()
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) visitorStore {
		ctx := context.Background()
		conn, err := db.OpenSQLite(ctx, db.MemoryPath(t.Name()))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		if err := db.Migrate(ctx, conn, store.SQLiteMigrations(), db.SQLite); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		writer := db.NewWorker(conn)
		t.Cleanup(func() {
			writer.Close()
			_ = conn.Close()
		})
		return store.NewSQLite(conn, writer)
	}})
}

func TestTabularStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) visitorStore {
		return store.NewTabular(recordstore.NewMemoryTable(store.Columns...), keylock.NewLocal())
	}})
}
