package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/model"
	"github.com/nurpe/brokerage/internal/repository"
)

type AddUserInput struct {
	UserID      uint
	Description *string
	Role        string
}

type UpdateUserInput struct {
	Description *string
	Role        string
}

func (s *ContractService) ListUsers(ctx context.Context, principal model.Principal, contractID uint) ([]model.AssociatedUser, error) {
	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contractNotFound(contractID)
		}
		return nil, err
	}
	if err := s.authorizeRead(ctx, principal, contract); err != nil {
		return nil, err
	}
	users, err := s.contracts.ListAssociations(ctx, contractID)
	if err != nil {
		return nil, err
	}
	s.checkDataQuality(&model.ContractView{Contract: *contract, AssociatedUsers: users})
	return users, nil
}

// AddUser attaches a user to the contract or, when the pair already exists,
// updates its description and role. It reports whether a row was created.
func (s *ContractService) AddUser(ctx context.Context, principal model.Principal, contractID uint, input AddUserInput) (bool, error) {
	if input.UserID == 0 {
		return false, invalid("شناسه کاربر الزامی است", "user_id is required")
	}
	role, err := optionalRole(input.Role)
	if err != nil {
		return false, err
	}
	contract, err := s.manageableContract(ctx, principal, contractID)
	if err != nil {
		return false, err
	}
	if role == model.ContractRoleCreator && input.UserID != contract.UserID {
		return false, creatorRoleReserved()
	}
	if err := s.requireUsers(ctx, []CollaboratorInput{{UserID: input.UserID}}); err != nil {
		return false, err
	}

	created, err := s.contracts.UpsertAssociation(ctx, model.ContractUser{
		ContractID:  contractID,
		UserID:      input.UserID,
		Description: input.Description,
		Role:        role,
	}, creatorRoleGuard(role))
	if err != nil {
		return false, associationError(err)
	}
	return created, nil
}

func (s *ContractService) UpdateUser(ctx context.Context, principal model.Principal, contractID, userID uint, input UpdateUserInput) error {
	role, err := optionalRole(input.Role)
	if err != nil {
		return err
	}
	contract, err := s.manageableContract(ctx, principal, contractID)
	if err != nil {
		return err
	}
	if role == model.ContractRoleCreator && userID != contract.UserID {
		return creatorRoleReserved()
	}

	var rolePtr *model.ContractRole
	if role != "" {
		rolePtr = &role
	}
	err = s.contracts.UpdateAssociation(ctx, contractID, userID, input.Description, rolePtr, creatorRoleGuard(role))
	if err != nil {
		return associationError(err)
	}
	return nil
}

// RemoveUser detaches a user from the contract. The creator row can never be
// removed, whoever asks.
func (s *ContractService) RemoveUser(ctx context.Context, principal model.Principal, contractID, userID uint) error {
	if _, err := s.manageableContract(ctx, principal, contractID); err != nil {
		return err
	}
	err := s.contracts.RemoveAssociation(ctx, contractID, userID, func(existing *model.ContractUser) error {
		if existing != nil && existing.Role == model.ContractRoleCreator {
			return newError(ErrConflict, "نمی‌توان سازنده قرارداد را حذف کرد", "the creator association cannot be removed")
		}
		return nil
	})
	if err != nil {
		return associationError(err)
	}
	return nil
}

func creatorRoleGuard(requested model.ContractRole) repository.AssociationGuard {
	return func(existing *model.ContractUser) error {
		if existing == nil || existing.Role != model.ContractRoleCreator {
			return nil
		}
		if requested != "" && requested != model.ContractRoleCreator {
			return newError(ErrConflict, "نمی‌توان نقش سازنده قرارداد را تغییر داد", "the creator role cannot be changed")
		}
		return nil
	}
}

func optionalRole(raw string) (model.ContractRole, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	role, err := model.ParseContractRole(raw)
	if err != nil {
		return "", invalidRole(raw)
	}
	return role, nil
}

func associationError(err error) error {
	var classified *Error
	switch {
	case errors.As(err, &classified):
		return classified
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound("ارتباط کاربر با قرارداد یافت نشد", "contract user association not found")
	default:
		return fmt.Errorf("contract user association: %w", err)
	}
}
