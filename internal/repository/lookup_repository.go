package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/model"
)

// LookupRepository answers existence and dropdown queries about the records a
// contract points at.
type LookupRepository struct {
	db *gorm.DB
}

func NewLookupRepository(db *gorm.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

func (r *LookupRepository) GetCustomer(ctx context.Context, id uint) (*model.Customer, error) {
	var customer model.Customer
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, user_id, name, contact, created_at, updated_at
		FROM customers
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&customer).Error; err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &customer, nil
}

func (r *LookupRepository) GetEstate(ctx context.Context, id uint) (*model.Estate, error) {
	var estate model.Estate
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, user_id, project, block, floor, area, rooms, estate_type, phone_number, price, created_at, updated_at
		FROM estates
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&estate).Error; err != nil {
		return nil, err
	}
	if estate.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &estate, nil
}

// ExistingUserIDs returns the subset of ids that belong to a user row.
func (r *LookupRepository) ExistingUserIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return []uint{}, nil
	}
	var found []uint
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id FROM users WHERE id IN ?
	`, ids).Scan(&found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

func (r *LookupRepository) ListCustomerOptions(ctx context.Context) ([]model.CustomerOption, error) {
	options := []model.CustomerOption{}
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, name, contact
		FROM customers
		ORDER BY name ASC, id ASC
	`).Scan(&options).Error; err != nil {
		return nil, err
	}
	return options, nil
}

// ListAvailableEstates returns estates that have no active contract.
func (r *LookupRepository) ListAvailableEstates(ctx context.Context) ([]model.EstateOption, error) {
	options := []model.EstateOption{}
	if err := r.db.WithContext(ctx).Raw(`
		SELECT e.id, e.project, e.block, e.floor, e.area, e.rooms, e.estate_type, e.price
		FROM estates e
		WHERE NOT EXISTS (
			SELECT 1 FROM contracts c WHERE c.estate_id = e.id AND c.status = ?
		)
		ORDER BY e.project ASC, e.block ASC, e.id ASC
	`, model.ContractStatusActive).Scan(&options).Error; err != nil {
		return nil, err
	}
	return options, nil
}
