package db_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/db"
	"github.com/nurpe/brokerage/internal/db/dbtest"
	"github.com/nurpe/brokerage/internal/model"
)

func TestMigrateIsIdempotent(t *testing.T) {
	database := dbtest.Open(t)
	require.NoError(t, db.Migrate(database, zerolog.Nop()))
	require.NoError(t, db.Migrate(database, zerolog.Nop()))
}

func TestMigrateNormalizesLegacyStatuses(t *testing.T) {
	database := dbtest.Open(t)

	require.NoError(t, database.Exec(`DROP INDEX uq_contracts_active_estate`).Error)
	for i, status := range []string{"فعال", "منقضی", "لغو شده"} {
		row := model.Contract{
			ContractNumber: "CON-legacy-" + string(rune('a'+i)),
			UserID:         1,
			CustomerID:     1,
			EstateID:       uint(i + 1),
			ContractType:   "rent",
			ContractDate:   time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
			Amount:         1000,
			Status:         model.ContractStatus(status),
		}
		require.NoError(t, database.Create(&row).Error)
	}

	require.NoError(t, db.Migrate(database, zerolog.Nop()))

	var statuses []string
	require.NoError(t, database.Raw(`SELECT status FROM contracts ORDER BY estate_id`).Scan(&statuses).Error)
	assert.Equal(t, []string{"active", "expired", "cancelled"}, statuses)
}

func TestMigrateExpiresDuplicateActiveContracts(t *testing.T) {
	database := dbtest.Open(t)
	require.NoError(t, database.Exec(`DROP INDEX uq_contracts_active_estate`).Error)

	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		number   string
		estateID uint
		status   string
		created  time.Time
	}{
		{"CON-old", 9, "فعال", base},
		{"CON-new", 9, "active", base.Add(48 * time.Hour)},
		{"CON-mid", 9, "فعال", base.Add(24 * time.Hour)},
		{"CON-other", 4, "فعال", base},
	}
	for _, r := range rows {
		require.NoError(t, database.Create(&model.Contract{
			ContractNumber: r.number,
			UserID:         1,
			CustomerID:     1,
			EstateID:       r.estateID,
			ContractType:   "rent",
			ContractDate:   base,
			Amount:         1000,
			Status:         model.ContractStatus(r.status),
			CreatedAt:      r.created,
		}).Error)
	}

	var logs bytes.Buffer
	require.NoError(t, db.Migrate(database, zerolog.New(&logs)))

	var got []struct {
		ContractNumber string
		Status         string
	}
	require.NoError(t, database.Raw(`SELECT contract_number, status FROM contracts ORDER BY contract_number`).Scan(&got).Error)
	statuses := map[string]string{}
	for _, row := range got {
		statuses[row.ContractNumber] = row.Status
	}
	assert.Equal(t, map[string]string{
		"CON-mid":   "expired",
		"CON-new":   "active",
		"CON-old":   "expired",
		"CON-other": "active",
	}, statuses)

	assert.Contains(t, logs.String(), `"data_quality":true`)
	assert.Contains(t, logs.String(), `"estate_id":9`)
	assert.NotContains(t, logs.String(), `"estate_id":4`)

	var indexes int64
	require.NoError(t, database.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'uq_contracts_active_estate'`).Scan(&indexes).Error)
	assert.Equal(t, int64(1), indexes)
}

func TestActiveContractIndex(t *testing.T) {
	database := dbtest.Open(t)

	insert := func(number string, status model.ContractStatus) error {
		return database.Create(&model.Contract{
			ContractNumber: number,
			UserID:         1,
			CustomerID:     1,
			EstateID:       9,
			ContractType:   "rent",
			ContractDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Amount:         1,
			Status:         status,
		}).Error
	}

	require.NoError(t, insert("CON-1", model.ContractStatusExpired))
	require.NoError(t, insert("CON-2", model.ContractStatusActive))
	require.NoError(t, insert("CON-3", model.ContractStatusExpired))
	assert.ErrorIs(t, insert("CON-4", model.ContractStatusActive), gorm.ErrDuplicatedKey)
}
