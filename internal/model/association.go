package model

import (
	"errors"
	"strings"
	"time"
)

type ContractRole string

const (
	ContractRoleCreator      ContractRole = "creator"
	ContractRoleCollaborator ContractRole = "collaborator"
	ContractRoleAgent        ContractRole = "agent"
	ContractRoleObserver     ContractRole = "observer"
)

const DefaultCreatorDescription = "سازنده قرارداد"

var ErrUnknownRole = errors.New("unknown contract role")

func (r ContractRole) Valid() bool {
	switch r {
	case ContractRoleCreator, ContractRoleCollaborator, ContractRoleAgent, ContractRoleObserver:
		return true
	}
	return false
}

// ParseContractRole treats an empty value as collaborator.
func ParseContractRole(raw string) (ContractRole, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ContractRoleCollaborator, nil
	}
	role := ContractRole(raw)
	if !role.Valid() {
		return "", ErrUnknownRole
	}
	return role, nil
}

// ContractUser links a user to a contract. There is at most one row per
// (contract, user) pair.
type ContractUser struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	ContractID  uint         `gorm:"not null;uniqueIndex:uq_contract_users_pair,priority:1" json:"contract_id"`
	UserID      uint         `gorm:"not null;uniqueIndex:uq_contract_users_pair,priority:2;index" json:"user_id"`
	Description *string      `gorm:"type:text" json:"description"`
	Role        ContractRole `gorm:"size:32;not null" json:"role"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (ContractUser) TableName() string { return "contract_users" }

type AssociatedUser struct {
	UserID      uint         `json:"user_id"`
	Role        ContractRole `json:"role"`
	Description *string      `json:"description"`
	Name        string       `json:"name,omitempty"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
