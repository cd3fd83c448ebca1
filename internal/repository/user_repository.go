package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

func (r *UserRepository) GetByName(ctx context.Context, name string) (*model.User, error) {
	return r.getOne(ctx, `WHERE name = ?`, name)
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, name, phone_number, password, is_admin, approved, approved_at, role, created_at, updated_at
		FROM users
		`+where+`
		LIMIT 1
	`, arg).Scan(&user).Error; err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

// Ping checks that the store answers.
func (r *UserRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
