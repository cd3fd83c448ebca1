package model

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusExpired   ContractStatus = "expired"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusCompleted ContractStatus = "completed"
)

var ErrUnknownStatus = errors.New("unknown contract status")

// Spellings written by the previous back office. Rows still carrying them are
// rewritten by the migrations; the parser accepts them from old clients.
var legacyContractStatuses = map[string]ContractStatus{
	"فعال":      ContractStatusActive,
	"منقضی":     ContractStatusExpired,
	"لغو شده":   ContractStatusCancelled,
	"تکمیل شده": ContractStatusCompleted,
}

func (s ContractStatus) Valid() bool {
	switch s {
	case ContractStatusActive, ContractStatusExpired, ContractStatusCancelled, ContractStatusCompleted:
		return true
	}
	return false
}

func ParseContractStatus(raw string) (ContractStatus, error) {
	raw = strings.TrimSpace(raw)
	if status := ContractStatus(strings.ToLower(raw)); status.Valid() {
		return status, nil
	}
	if status, ok := legacyContractStatuses[raw]; ok {
		return status, nil
	}
	return "", ErrUnknownStatus
}

// LegacyContractStatuses returns a copy of the legacy spelling mapping.
func LegacyContractStatuses() map[string]ContractStatus {
	out := make(map[string]ContractStatus, len(legacyContractStatuses))
	for k, v := range legacyContractStatuses {
		out[k] = v
	}
	return out
}

const DefaultPaymentMethod = "نقدی"

// Attachment is one staged file referenced from a contract. The JSON names
// match what the front-end already reads.
type Attachment struct {
	OriginalName string `json:"originalname"`
	FileName     string `json:"filename"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
}

type Contract struct {
	ID             uint                            `gorm:"primaryKey" json:"id"`
	ContractNumber string                          `gorm:"size:64;not null;uniqueIndex:uq_contracts_number" json:"contract_number"`
	UserID         uint                            `gorm:"not null;index" json:"user_id"`
	CustomerID     uint                            `gorm:"not null;index" json:"customer_id"`
	EstateID       uint                            `gorm:"not null;index" json:"estate_id"`
	ContractType   string                          `gorm:"size:64;not null" json:"contract_type"`
	ContractDate   time.Time                       `gorm:"type:date;not null" json:"contract_date"`
	Amount         float64                         `gorm:"not null" json:"amount"`
	DurationMonths *int                            `json:"duration_months"`
	PaymentMethod  string                          `gorm:"size:64" json:"payment_method"`
	Commission     float64                         `gorm:"not null;default:0" json:"commission"`
	Notes          string                          `gorm:"type:text" json:"notes"`
	Status         ContractStatus                  `gorm:"size:32;not null;index" json:"status"`
	Attachments    datatypes.JSONSlice[Attachment] `json:"attachments"`
	CreatedAt      time.Time                       `json:"created_at"`
	UpdatedAt      time.Time                       `json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }

// ContractView is a contract joined with the display fields the front-end
// shows next to it.
type ContractView struct {
	Contract

	AgentName     string  `json:"agent_name"`
	AgentPhone    string  `json:"agent_phone"`
	CustomerName  string  `json:"customer_name"`
	CustomerPhone string  `json:"customer_phone"`
	EstateProject string  `json:"estate_project"`
	EstateBlock   string  `json:"estate_block"`
	EstateFloor   int     `json:"estate_floor"`
	EstateArea    float64 `json:"estate_area"`
	EstateRooms   int     `json:"estate_rooms"`
	EstateType    string  `json:"estate_type"`
	EstatePrice   float64 `json:"estate_price"`

	AssociatedUsers []AssociatedUser `gorm:"-" json:"associated_users"`
}

type ContractFilter struct {
	// VisibleTo limits the result to contracts the user created or is
	// associated with. Zero means no restriction.
	VisibleTo uint
	Status    ContractStatus
}

type ContractStats struct {
	TotalContracts     int64      `json:"total_contracts"`
	TotalAmount        float64    `json:"total_amount"`
	AverageAmount      float64    `json:"average_amount"`
	TotalCommission    float64    `json:"total_commission"`
	ActiveContracts    int64      `json:"active_contracts"`
	ExpiredContracts   int64      `json:"expired_contracts"`
	ThisMonth          int64      `json:"this_month"`
	LatestContractDate *time.Time `json:"latest_contract_date"`
}
