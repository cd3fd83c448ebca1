package db

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/model"
)

// At most one active contract per estate. Inserts racing past the locked
// re-check in the repository still fail here.
const activeContractIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uq_contracts_active_estate
	ON contracts (estate_id) WHERE status = 'active'`

var indexStatements = []string{
	activeContractIndex,
	`CREATE INDEX IF NOT EXISTS idx_contracts_created_at ON contracts (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_contract_users_contract_id ON contract_users (contract_id)`,
}

// Migrate is idempotent and safe to run on every start. Legacy status
// spellings are rewritten before the partial index is created, otherwise
// old active rows would not be covered by it. Estates that already carry
// more than one active contract keep only the newest one active.
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Customer{},
		&model.Estate{},
		&model.Contract{},
		&model.ContractUser{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	legacy := model.LegacyContractStatuses()
	spellings := make([]string, 0, len(legacy))
	for spelling := range legacy {
		spellings = append(spellings, spelling)
	}
	sort.Strings(spellings)
	for _, spelling := range spellings {
		if err := db.Exec(`UPDATE contracts SET status = ? WHERE status = ?`, legacy[spelling], spelling).Error; err != nil {
			return fmt.Errorf("normalize status %q: %w", spelling, err)
		}
	}

	if err := expireDuplicateActive(db, log); err != nil {
		return err
	}

	for i, stmt := range indexStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// expireDuplicateActive moves every active contract except the newest one per
// estate to expired. Each affected estate is logged as a data-quality error.
func expireDuplicateActive(db *gorm.DB, log zerolog.Logger) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var estateIDs []uint
		err := tx.Raw(`
			SELECT estate_id FROM contracts
			WHERE status = ?
			GROUP BY estate_id
			HAVING COUNT(*) > 1
			ORDER BY estate_id
		`, model.ContractStatusActive).Scan(&estateIDs).Error
		if err != nil {
			return fmt.Errorf("find duplicate active contracts: %w", err)
		}

		for _, estateID := range estateIDs {
			var ids []uint
			err := tx.Raw(`
				SELECT id FROM contracts
				WHERE estate_id = ? AND status = ?
				ORDER BY created_at DESC, id DESC
			`, estateID, model.ContractStatusActive).Scan(&ids).Error
			if err != nil {
				return fmt.Errorf("list active contracts of estate %d: %w", estateID, err)
			}
			if len(ids) < 2 {
				continue
			}

			kept, expired := ids[0], ids[1:]
			err = tx.Exec(`UPDATE contracts SET status = ? WHERE id IN ?`, model.ContractStatusExpired, expired).Error
			if err != nil {
				return fmt.Errorf("expire duplicate active contracts of estate %d: %w", estateID, err)
			}
			log.Error().
				Bool("data_quality", true).
				Uint("estate_id", estateID).
				Uint("kept_contract_id", kept).
				Interface("expired_contract_ids", expired).
				Msg("estate had more than one active contract")
		}
		return nil
	})
}
