// Package dbtest opens throwaway in-memory databases migrated with the
// production schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/db"
)

func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(zerolog.Nop()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes
	// transactions the way a row lock would.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(database, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}
