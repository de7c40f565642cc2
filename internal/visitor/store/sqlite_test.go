package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorpass/internal/platform/db"
	"visitorpass/internal/visitor/store"
	dErrors "visitorpass/pkg/domain-errors"
)

func TestSQLiteRejectsImpossibleRecordOnLoad(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, db.MemoryPath(t.Name()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, conn, store.SQLiteMigrations(), db.SQLite))
	writer := db.NewWorker(conn)
	t.Cleanup(func() {
		writer.Close()
		_ = conn.Close()
	})
	st := store.NewSQLite(conn, writer)

	// A pending visitor holding a pass link passes the table constraints.
	id := uuid.NewString()
	_, err = conn.ExecContext(ctx, `INSERT INTO visitors (
		visitor_id, visitor_name, visitor_mobile, purpose, person_to_meet,
		approver_mobile, visit_date, visit_time, status, pass_link, created_at_ms
	) VALUES (?, 'Ada', '+44 7700 900123', 'Interview', 'Dana Host', '447700900456',
		'2026-03-14', '10:00', 'PENDING', ?, 0)`, id, "https://gate.example.com/pass/"+id)
	require.NoError(t, err)

	_, err = st.FindByID(ctx, id)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation), "got %v", err)

	_, err = st.ListAll(ctx)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation), "got %v", err)
}
