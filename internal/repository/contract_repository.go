package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nurpe/brokerage/internal/model"
)

// ErrActiveContractExists is returned when a write would leave an estate with
// more than one active contract.
var ErrActiveContractExists = errors.New("estate already has an active contract")

// AssociationGuard inspects the current association row (nil when absent)
// inside the write transaction and vetoes the change by returning an error.
type AssociationGuard func(existing *model.ContractUser) error

type ContractRepository struct {
	db *gorm.DB
}

func NewContractRepository(db *gorm.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

const contractViewSelect = `
	SELECT
		c.*,
		COALESCE(u.name, '') AS agent_name,
		COALESCE(u.phone_number, '') AS agent_phone,
		COALESCE(cust.name, '') AS customer_name,
		COALESCE(cust.contact, '') AS customer_phone,
		COALESCE(e.project, '') AS estate_project,
		COALESCE(e.block, '') AS estate_block,
		COALESCE(e.floor, 0) AS estate_floor,
		COALESCE(e.area, 0) AS estate_area,
		COALESCE(e.rooms, 0) AS estate_rooms,
		COALESCE(e.estate_type, '') AS estate_type,
		COALESCE(e.price, 0) AS estate_price
	FROM contracts c
	LEFT JOIN users u ON u.id = c.user_id
	LEFT JOIN customers cust ON cust.id = c.customer_id
	LEFT JOIN estates e ON e.id = c.estate_id
`

func (r *ContractRepository) HasActiveContract(ctx context.Context, estateID uint) (bool, error) {
	return hasActiveContract(r.db.WithContext(ctx), estateID, 0)
}

func hasActiveContract(tx *gorm.DB, estateID, excludeID uint) (bool, error) {
	var count int64
	err := tx.Raw(`
		SELECT COUNT(*) FROM contracts
		WHERE estate_id = ? AND status = ? AND id <> ?
	`, estateID, model.ContractStatusActive, excludeID).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func lockEstate(tx *gorm.DB, estateID uint) error {
	var estate model.Estate
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", estateID).
		Take(&estate).Error
}

// CreateWithAssociations inserts the contract and its association rows in one
// transaction. The estate row is locked and re-checked for an active contract
// before the insert.
func (r *ContractRepository) CreateWithAssociations(ctx context.Context, contract *model.Contract, associations []model.ContractUser) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockEstate(tx, contract.EstateID); err != nil {
			return err
		}
		if contract.Status == model.ContractStatusActive {
			exists, err := hasActiveContract(tx, contract.EstateID, 0)
			if err != nil {
				return err
			}
			if exists {
				return ErrActiveContractExists
			}
		}

		if err := tx.Create(contract).Error; err != nil {
			return err
		}

		if len(associations) == 0 {
			return nil
		}
		for i := range associations {
			associations[i].ContractID = contract.ID
		}
		return tx.Create(&associations).Error
	})
	return r.activeConflict(ctx, err, contract, 0)
}

// activeConflict reports a unique violation as ErrActiveContractExists when
// the estate holds another active contract, i.e. the partial index fired.
// Other violations, such as a contract number collision, pass through.
func (r *ContractRepository) activeConflict(ctx context.Context, err error, contract *model.Contract, excludeID uint) error {
	if !errors.Is(err, gorm.ErrDuplicatedKey) || contract.Status != model.ContractStatusActive {
		return err
	}
	exists, checkErr := hasActiveContract(r.db.WithContext(ctx), contract.EstateID, excludeID)
	if checkErr != nil || !exists {
		return err
	}
	return ErrActiveContractExists
}

func (r *ContractRepository) Get(ctx context.Context, id uint) (*model.Contract, error) {
	var contract model.Contract
	if err := r.db.WithContext(ctx).Raw(`
		SELECT * FROM contracts WHERE id = ? LIMIT 1
	`, id).Scan(&contract).Error; err != nil {
		return nil, err
	}
	if contract.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &contract, nil
}

func (r *ContractRepository) GetView(ctx context.Context, id uint) (*model.ContractView, error) {
	var view model.ContractView
	if err := r.db.WithContext(ctx).Raw(contractViewSelect+` WHERE c.id = ? LIMIT 1`, id).Scan(&view).Error; err != nil {
		return nil, err
	}
	if view.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	users, err := r.ListAssociations(ctx, id)
	if err != nil {
		return nil, err
	}
	view.AssociatedUsers = users
	return &view, nil
}

func (r *ContractRepository) ListViews(ctx context.Context, filter model.ContractFilter) ([]model.ContractView, error) {
	query := contractViewSelect + ` WHERE 1 = 1`
	var args []interface{}
	if filter.VisibleTo != 0 {
		query += ` AND (c.user_id = ? OR EXISTS (
			SELECT 1 FROM contract_users cu WHERE cu.contract_id = c.id AND cu.user_id = ?
		))`
		args = append(args, filter.VisibleTo, filter.VisibleTo)
	}
	if filter.Status != "" {
		query += ` AND c.status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY c.created_at DESC, c.id DESC`

	var views []model.ContractView
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&views).Error; err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return []model.ContractView{}, nil
	}

	ids := make([]uint, len(views))
	for i := range views {
		ids[i] = views[i].ID
	}
	var rows []struct {
		ContractID uint
		model.AssociatedUser
	}
	if err := r.db.WithContext(ctx).Raw(`
		SELECT
			cu.contract_id,
			cu.user_id,
			cu.role,
			cu.description,
			COALESCE(u.name, '') AS name,
			COALESCE(u.phone_number, '') AS phone_number,
			cu.created_at
		FROM contract_users cu
		LEFT JOIN users u ON u.id = cu.user_id
		WHERE cu.contract_id IN ?
		ORDER BY cu.created_at ASC, cu.id ASC
	`, ids).Scan(&rows).Error; err != nil {
		return nil, err
	}

	byContract := make(map[uint][]model.AssociatedUser, len(views))
	for _, row := range rows {
		byContract[row.ContractID] = append(byContract[row.ContractID], row.AssociatedUser)
	}
	for i := range views {
		views[i].AssociatedUsers = byContract[views[i].ID]
		if views[i].AssociatedUsers == nil {
			views[i].AssociatedUsers = []model.AssociatedUser{}
		}
	}
	return views, nil
}

// Update writes every mutable column of contract. Switching a contract to
// active goes through the same estate lock as creation.
func (r *ContractRepository) Update(ctx context.Context, contract *model.Contract) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if contract.Status == model.ContractStatusActive {
			if err := lockEstate(tx, contract.EstateID); err != nil {
				return err
			}
			exists, err := hasActiveContract(tx, contract.EstateID, contract.ID)
			if err != nil {
				return err
			}
			if exists {
				return ErrActiveContractExists
			}
		}

		result := tx.Model(&model.Contract{}).Where("id = ?", contract.ID).Updates(map[string]interface{}{
			"contract_type":   contract.ContractType,
			"contract_date":   contract.ContractDate,
			"amount":          contract.Amount,
			"duration_months": contract.DurationMonths,
			"payment_method":  contract.PaymentMethod,
			"commission":      contract.Commission,
			"notes":           contract.Notes,
			"status":          contract.Status,
			"attachments":     contract.Attachments,
			"updated_at":      time.Now().UTC(),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return r.activeConflict(ctx, err, contract, contract.ID)
}

// Delete removes the contract together with its association rows.
func (r *ContractRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM contract_users WHERE contract_id = ?`, id).Error; err != nil {
			return err
		}
		result := tx.Exec(`DELETE FROM contracts WHERE id = ?`, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Stats aggregates contracts created by ownerID, or all contracts when
// ownerID is zero. The month window is [monthStart, monthEnd).
func (r *ContractRepository) Stats(ctx context.Context, ownerID uint, monthStart, monthEnd time.Time) (*model.ContractStats, error) {
	where := ``
	args := []interface{}{
		model.ContractStatusActive,
		model.ContractStatusExpired,
		monthStart,
		monthEnd,
	}
	if ownerID != 0 {
		where = ` WHERE user_id = ?`
		args = append(args, ownerID)
	}

	var stats model.ContractStats
	if err := r.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_contracts,
			COALESCE(SUM(amount), 0) AS total_amount,
			COALESCE(AVG(amount), 0) AS average_amount,
			COALESCE(SUM(commission), 0) AS total_commission,
			COUNT(CASE WHEN status = ? THEN 1 END) AS active_contracts,
			COUNT(CASE WHEN status = ? THEN 1 END) AS expired_contracts,
			COUNT(CASE WHEN contract_date >= ? AND contract_date < ? THEN 1 END) AS this_month
		FROM contracts`+where, args...).Scan(&stats).Error; err != nil {
		return nil, err
	}

	latestQuery := `SELECT contract_date FROM contracts`
	var latestArgs []interface{}
	if ownerID != 0 {
		latestQuery += ` WHERE user_id = ?`
		latestArgs = append(latestArgs, ownerID)
	}
	latestQuery += ` ORDER BY contract_date DESC LIMIT 1`

	var latest []struct {
		ContractDate time.Time
	}
	if err := r.db.WithContext(ctx).Raw(latestQuery, latestArgs...).Scan(&latest).Error; err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		stats.LatestContractDate = &latest[0].ContractDate
	}
	return &stats, nil
}

func (r *ContractRepository) ListAssociations(ctx context.Context, contractID uint) ([]model.AssociatedUser, error) {
	users := []model.AssociatedUser{}
	if err := r.db.WithContext(ctx).Raw(`
		SELECT
			cu.user_id,
			cu.role,
			cu.description,
			COALESCE(u.name, '') AS name,
			COALESCE(u.phone_number, '') AS phone_number,
			cu.created_at
		FROM contract_users cu
		LEFT JOIN users u ON u.id = cu.user_id
		WHERE cu.contract_id = ?
		ORDER BY cu.created_at ASC, cu.id ASC
	`, contractID).Scan(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *ContractRepository) IsAssociated(ctx context.Context, contractID, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) FROM contract_users WHERE contract_id = ? AND user_id = ?
	`, contractID, userID).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func findAssociation(tx *gorm.DB, contractID, userID uint) (*model.ContractUser, error) {
	var row model.ContractUser
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("contract_id = ? AND user_id = ?", contractID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertAssociation inserts the (contract, user) row or updates it in place.
// An empty role keeps the stored one; new rows default to collaborator. It
// reports whether a new row was created. When a concurrent call inserts the
// same pair first, the write is retried once and becomes an update.
func (r *ContractRepository) UpsertAssociation(ctx context.Context, row model.ContractUser, guard AssociationGuard) (bool, error) {
	created, err := r.upsertAssociation(ctx, row, guard)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.upsertAssociation(ctx, row, guard)
	}
	return created, err
}

func (r *ContractRepository) upsertAssociation(ctx context.Context, row model.ContractUser, guard AssociationGuard) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findAssociation(tx, row.ContractID, row.UserID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(existing); err != nil {
				return err
			}
		}
		if existing == nil {
			if row.Role == "" {
				row.Role = model.ContractRoleCollaborator
			}
			created = true
			return tx.Create(&row).Error
		}
		if row.Role == "" {
			row.Role = existing.Role
		}
		return tx.Model(&model.ContractUser{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"description": row.Description,
			"role":        row.Role,
			"updated_at":  time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// UpdateAssociation changes description and, when role is non-nil, the role
// of an existing row. A missing row is gorm.ErrRecordNotFound.
func (r *ContractRepository) UpdateAssociation(ctx context.Context, contractID, userID uint, description *string, role *model.ContractRole, guard AssociationGuard) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findAssociation(tx, contractID, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			return gorm.ErrRecordNotFound
		}
		if guard != nil {
			if err := guard(existing); err != nil {
				return err
			}
		}
		updates := map[string]interface{}{
			"description": description,
			"updated_at":  time.Now().UTC(),
		}
		if role != nil {
			updates["role"] = *role
		}
		return tx.Model(&model.ContractUser{}).Where("id = ?", existing.ID).Updates(updates).Error
	})
}

func (r *ContractRepository) RemoveAssociation(ctx context.Context, contractID, userID uint, guard AssociationGuard) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findAssociation(tx, contractID, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			return gorm.ErrRecordNotFound
		}
		if guard != nil {
			if err := guard(existing); err != nil {
				return err
			}
		}
		return tx.Exec(`DELETE FROM contract_users WHERE id = ?`, existing.ID).Error
	})
}
