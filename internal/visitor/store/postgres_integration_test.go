//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"visitorpass/internal/platform/db"
	"visitorpass/internal/visitor/store"
	"visitorpass/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	if err := db.Migrate(context.Background(), pg.DB, store.PostgresMigrations(), db.Postgres); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) visitorStore {
		if err := pg.TruncateTables(context.Background(), "visitors"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return store.NewPostgres(pg.DB)
	}})
}
