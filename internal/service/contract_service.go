package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/model"
	"github.com/nurpe/brokerage/internal/repository"
)

type ContractStore interface {
	HasActiveContract(ctx context.Context, estateID uint) (bool, error)
	CreateWithAssociations(ctx context.Context, contract *model.Contract, associations []model.ContractUser) error
	Get(ctx context.Context, id uint) (*model.Contract, error)
	GetView(ctx context.Context, id uint) (*model.ContractView, error)
	ListViews(ctx context.Context, filter model.ContractFilter) ([]model.ContractView, error)
	Update(ctx context.Context, contract *model.Contract) error
	Delete(ctx context.Context, id uint) error
	Stats(ctx context.Context, ownerID uint, monthStart, monthEnd time.Time) (*model.ContractStats, error)
	ListAssociations(ctx context.Context, contractID uint) ([]model.AssociatedUser, error)
	IsAssociated(ctx context.Context, contractID, userID uint) (bool, error)
	UpsertAssociation(ctx context.Context, row model.ContractUser, guard repository.AssociationGuard) (bool, error)
	UpdateAssociation(ctx context.Context, contractID, userID uint, description *string, role *model.ContractRole, guard repository.AssociationGuard) error
	RemoveAssociation(ctx context.Context, contractID, userID uint, guard repository.AssociationGuard) error
}

type LookupStore interface {
	GetCustomer(ctx context.Context, id uint) (*model.Customer, error)
	GetEstate(ctx context.Context, id uint) (*model.Estate, error)
	ExistingUserIDs(ctx context.Context, ids []uint) ([]uint, error)
	ListCustomerOptions(ctx context.Context) ([]model.CustomerOption, error)
	ListAvailableEstates(ctx context.Context) ([]model.EstateOption, error)
}

// AttachmentRemover deletes staged files by the path recorded on the contract.
type AttachmentRemover interface {
	Delete(ctx context.Context, path string) error
}

type WorkflowMetrics interface {
	ContractCreated()
	ContractRejected(reason string)
	CleanupFailed()
}

type nopMetrics struct{}

func (nopMetrics) ContractCreated()        {}
func (nopMetrics) ContractRejected(string) {}
func (nopMetrics) CleanupFailed()          {}

type ContractService struct {
	contracts ContractStore
	lookups   LookupStore
	files     AttachmentRemover
	metrics   WorkflowMetrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewContractService(contracts ContractStore, lookups LookupStore, files AttachmentRemover, metrics WorkflowMetrics, log zerolog.Logger) *ContractService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &ContractService{
		contracts: contracts,
		lookups:   lookups,
		files:     files,
		metrics:   metrics,
		log:       log.With().Str("component", "contracts").Logger(),
		now:       time.Now,
	}
}

// CreateContractInput carries the raw form values of a create request. The
// attachments have already been staged.
type CreateContractInput struct {
	CustomerID         string
	EstateID           string
	ContractType       string
	ContractDate       string
	Amount             string
	DurationMonths     string
	PaymentMethod      string
	Commission         string
	Notes              string
	CreatorDescription string
	Users              string
	Attachments        []model.Attachment
}

type UpdateContractInput struct {
	ContractType   *string
	ContractDate   *string
	Amount         *string
	DurationMonths *string
	PaymentMethod  *string
	Commission     *string
	Status         *string
	Notes          *string
	Attachments    []model.Attachment
}

// Create validates the request, writes the contract with its creator and
// collaborator rows in one transaction and returns the stored view. Staged
// attachments are deleted when the contract is rejected; after a failed
// write they are left for the orphan sweep.
func (s *ContractService) Create(ctx context.Context, principal model.Principal, input CreateContractInput) (*model.ContractView, error) {
	contract, associations, err := s.prepareCreate(ctx, principal, input)
	if err != nil {
		s.reject(ctx, err, input.Attachments)
		return nil, err
	}

	err = s.contracts.CreateWithAssociations(ctx, contract, associations)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrActiveContractExists):
		err = activeContractConflict(contract.EstateID)
		s.reject(ctx, err, input.Attachments)
		return nil, err
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = estateNotFound(contract.EstateID)
		s.reject(ctx, err, input.Attachments)
		return nil, err
	default:
		s.metrics.ContractRejected("transaction")
		s.log.Error().Err(err).
			Str("contract_number", contract.ContractNumber).
			Int("attachments", len(input.Attachments)).
			Msg("contract write rolled back")
		return nil, wrapError(ErrTransaction, "خطا در ایجاد قرارداد", "failed to create contract", err)
	}

	s.metrics.ContractCreated()
	s.log.Info().
		Uint("contract_id", contract.ID).
		Str("contract_number", contract.ContractNumber).
		Uint("user_id", principal.UserID).
		Int("collaborators", len(associations)-1).
		Msg("contract created")

	view, err := s.contracts.GetView(ctx, contract.ID)
	if err != nil {
		return nil, fmt.Errorf("load created contract %d: %w", contract.ID, err)
	}
	s.checkDataQuality(view)
	return view, nil
}

func (s *ContractService) prepareCreate(ctx context.Context, principal model.Principal, input CreateContractInput) (*model.Contract, []model.ContractUser, error) {
	if blank(input.CustomerID) || blank(input.EstateID) || blank(input.ContractType) || blank(input.ContractDate) || blank(input.Amount) {
		return nil, nil, invalid("لطفا تمامی فیلدهای الزامی را پر کنید",
			"customer_id, estate_id, contract_type, contract_date and amount are required")
	}
	customerID, err := parseID(input.CustomerID, "customer_id")
	if err != nil {
		return nil, nil, err
	}
	estateID, err := parseID(input.EstateID, "estate_id")
	if err != nil {
		return nil, nil, err
	}
	contractDate, err := parseContractDate(input.ContractDate)
	if err != nil {
		return nil, nil, err
	}
	amount, err := parseAmount(input.Amount, "amount", false)
	if err != nil {
		return nil, nil, err
	}
	commission := 0.0
	if !blank(input.Commission) {
		if commission, err = parseAmount(input.Commission, "commission", true); err != nil {
			return nil, nil, err
		}
	}
	var duration *int
	if !blank(input.DurationMonths) {
		if duration, err = parseDuration(input.DurationMonths); err != nil {
			return nil, nil, err
		}
	}
	collaborators, err := parseCollaborators(input.Users)
	if err != nil {
		return nil, nil, err
	}
	collaborators, err = normalizeCollaborators(principal.UserID, collaborators)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.lookups.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound("مشتری یافت نشد", fmt.Sprintf("customer %d not found", customerID))
		}
		return nil, nil, err
	}
	if _, err := s.lookups.GetEstate(ctx, estateID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, estateNotFound(estateID)
		}
		return nil, nil, err
	}
	active, err := s.contracts.HasActiveContract(ctx, estateID)
	if err != nil {
		return nil, nil, err
	}
	if active {
		return nil, nil, activeContractConflict(estateID)
	}
	if err := s.requireUsers(ctx, collaborators); err != nil {
		return nil, nil, err
	}

	paymentMethod := strings.TrimSpace(input.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = model.DefaultPaymentMethod
	}
	contract := &model.Contract{
		ContractNumber: newContractNumber(s.now()),
		UserID:         principal.UserID,
		CustomerID:     customerID,
		EstateID:       estateID,
		ContractType:   strings.TrimSpace(input.ContractType),
		ContractDate:   contractDate,
		Amount:         amount,
		DurationMonths: duration,
		PaymentMethod:  paymentMethod,
		Commission:     commission,
		Notes:          strings.TrimSpace(input.Notes),
		Status:         model.ContractStatusActive,
		Attachments:    append([]model.Attachment{}, input.Attachments...),
	}

	creatorDescription := strings.TrimSpace(input.CreatorDescription)
	if creatorDescription == "" {
		creatorDescription = model.DefaultCreatorDescription
	}
	associations := make([]model.ContractUser, 0, len(collaborators)+1)
	associations = append(associations, model.ContractUser{
		UserID:      principal.UserID,
		Description: &creatorDescription,
		Role:        model.ContractRoleCreator,
	})
	for _, c := range collaborators {
		associations = append(associations, model.ContractUser{
			UserID:      c.UserID,
			Description: c.Description,
			Role:        c.Role,
		})
	}
	return contract, associations, nil
}

func (s *ContractService) requireUsers(ctx context.Context, collaborators []CollaboratorInput) error {
	if len(collaborators) == 0 {
		return nil
	}
	ids := make([]uint, len(collaborators))
	for i, c := range collaborators {
		ids[i] = c.UserID
	}
	found, err := s.lookups.ExistingUserIDs(ctx, ids)
	if err != nil {
		return err
	}
	known := make(map[uint]struct{}, len(found))
	for _, id := range found {
		known[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return userNotFound(id)
		}
	}
	return nil
}

// List returns every contract to admins and, to everyone else, the
// contracts they created or are associated with.
func (s *ContractService) List(ctx context.Context, principal model.Principal, status string) ([]model.ContractView, error) {
	filter := model.ContractFilter{}
	if !principal.IsAdmin {
		filter.VisibleTo = principal.UserID
	}
	if !blank(status) {
		parsed, err := model.ParseContractStatus(status)
		if err != nil {
			return nil, invalidStatus()
		}
		filter.Status = parsed
	}

	views, err := s.contracts.ListViews(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range views {
		s.checkDataQuality(&views[i])
	}
	return views, nil
}

func (s *ContractService) Get(ctx context.Context, principal model.Principal, id uint) (*model.ContractView, error) {
	view, err := s.contracts.GetView(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contractNotFound(id)
		}
		return nil, err
	}
	if err := s.authorizeRead(ctx, principal, &view.Contract); err != nil {
		return nil, err
	}
	s.checkDataQuality(view)
	return view, nil
}

func (s *ContractService) Update(ctx context.Context, principal model.Principal, id uint, input UpdateContractInput) (*model.ContractView, error) {
	contract, err := s.applyUpdate(ctx, principal, id, input)
	if err != nil {
		s.reject(ctx, err, input.Attachments)
		return nil, err
	}

	if err := s.contracts.Update(ctx, contract); err != nil {
		switch {
		case errors.Is(err, repository.ErrActiveContractExists):
			err = activeContractConflict(contract.EstateID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			err = contractNotFound(id)
		default:
			s.log.Error().Err(err).Uint("contract_id", id).Msg("contract update rolled back")
			return nil, wrapError(ErrTransaction, "خطا در به‌روزرسانی قرارداد", "failed to update contract", err)
		}
		s.reject(ctx, err, input.Attachments)
		return nil, err
	}

	view, err := s.contracts.GetView(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load updated contract %d: %w", id, err)
	}
	s.checkDataQuality(view)
	return view, nil
}

func (s *ContractService) applyUpdate(ctx context.Context, principal model.Principal, id uint, input UpdateContractInput) (*model.Contract, error) {
	contract, err := s.manageableContract(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	if v, ok := present(input.ContractType); ok {
		contract.ContractType = v
	}
	if v, ok := present(input.ContractDate); ok {
		if contract.ContractDate, err = parseContractDate(v); err != nil {
			return nil, err
		}
	}
	if v, ok := present(input.Amount); ok {
		if contract.Amount, err = parseAmount(v, "amount", false); err != nil {
			return nil, err
		}
	}
	if v, ok := present(input.DurationMonths); ok {
		if contract.DurationMonths, err = parseDuration(v); err != nil {
			return nil, err
		}
	}
	if v, ok := present(input.PaymentMethod); ok {
		contract.PaymentMethod = v
	}
	if v, ok := present(input.Commission); ok {
		if contract.Commission, err = parseAmount(v, "commission", true); err != nil {
			return nil, err
		}
	}
	if v, ok := present(input.Status); ok {
		if contract.Status, err = model.ParseContractStatus(v); err != nil {
			return nil, invalidStatus()
		}
	}
	if input.Notes != nil {
		contract.Notes = strings.TrimSpace(*input.Notes)
	}
	contract.Attachments = append(contract.Attachments, input.Attachments...)
	return contract, nil
}

// Delete removes a contract and its association rows, then its files.
func (s *ContractService) Delete(ctx context.Context, principal model.Principal, id uint) error {
	if !principal.IsAdmin {
		return newError(ErrPermissionDenied, "دسترسی ادمین مورد نیاز است", "admin access required")
	}
	contract, err := s.contracts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return contractNotFound(id)
		}
		return err
	}
	if err := s.contracts.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return contractNotFound(id)
		}
		return wrapError(ErrTransaction, "خطا در حذف قرارداد", "failed to delete contract", err)
	}
	s.log.Info().Uint("contract_id", id).Uint("user_id", principal.UserID).Msg("contract deleted")
	s.discard(ctx, contract.Attachments)
	return nil
}

// Stats covers all contracts for admins and the caller's own otherwise.
func (s *ContractService) Stats(ctx context.Context, principal model.Principal) (*model.ContractStats, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	ownerID := principal.UserID
	if principal.IsAdmin {
		ownerID = 0
	}
	return s.contracts.Stats(ctx, ownerID, monthStart, monthStart.AddDate(0, 1, 0))
}

func (s *ContractService) CustomerOptions(ctx context.Context, principal model.Principal) ([]model.CustomerOption, error) {
	if !principal.IsAdmin {
		return nil, newError(ErrPermissionDenied, "دسترسی ادمین مورد نیاز است", "admin access required")
	}
	return s.lookups.ListCustomerOptions(ctx)
}

// AvailableEstates lists estates that can take a new active contract.
func (s *ContractService) AvailableEstates(ctx context.Context, principal model.Principal) ([]model.EstateOption, error) {
	if !principal.IsAdmin {
		return nil, newError(ErrPermissionDenied, "دسترسی ادمین مورد نیاز است", "admin access required")
	}
	return s.lookups.ListAvailableEstates(ctx)
}

func (s *ContractService) manageableContract(ctx context.Context, principal model.Principal, id uint) (*model.Contract, error) {
	contract, err := s.contracts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contractNotFound(id)
		}
		return nil, err
	}
	if !principal.CanManage(contract.UserID) {
		return nil, denied()
	}
	return contract, nil
}

func (s *ContractService) authorizeRead(ctx context.Context, principal model.Principal, contract *model.Contract) error {
	if principal.CanManage(contract.UserID) {
		return nil
	}
	associated, err := s.contracts.IsAssociated(ctx, contract.ID, principal.UserID)
	if err != nil {
		return err
	}
	if !associated {
		return denied()
	}
	return nil
}

func (s *ContractService) reject(ctx context.Context, reason error, attachments []model.Attachment) {
	s.metrics.ContractRejected(rejectionReason(reason))
	s.discard(ctx, attachments)
}

// discard deletes staged files best effort. Failures are logged and never
// change the caller's result.
func (s *ContractService) discard(ctx context.Context, attachments []model.Attachment) {
	ctx = context.WithoutCancel(ctx)
	for _, attachment := range attachments {
		if err := s.files.Delete(ctx, attachment.Path); err != nil {
			s.metrics.CleanupFailed()
			s.log.Warn().Err(err).Str("path", attachment.Path).Msg("failed to delete staged attachment")
		}
	}
}

func (s *ContractService) checkDataQuality(view *model.ContractView) {
	if !view.Status.Valid() {
		s.log.Error().
			Bool("data_quality", true).
			Uint("contract_id", view.ID).
			Str("status", string(view.Status)).
			Msg("contract status outside the known set")
	}
	for _, user := range view.AssociatedUsers {
		if !user.Role.Valid() {
			s.log.Error().
				Bool("data_quality", true).
				Uint("contract_id", view.ID).
				Uint("user_id", user.UserID).
				Str("role", string(user.Role)).
				Msg("contract user role outside the known set")
		}
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPermissionDenied):
		return "forbidden"
	default:
		return "error"
	}
}

func newContractNumber(now time.Time) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("CON-%d-%s", now.UnixMilli(), token)
}

func contractNotFound(id uint) *Error {
	return notFound("قرارداد یافت نشد", fmt.Sprintf("contract %d not found", id))
}

func estateNotFound(id uint) *Error {
	return notFound("ملک یافت نشد", fmt.Sprintf("estate %d not found", id))
}

func userNotFound(id uint) *Error {
	return notFound("کاربر یافت نشد", fmt.Sprintf("user %d not found", id))
}

func activeContractConflict(estateID uint) *Error {
	return newError(ErrConflict, "این ملک قبلاً دارای قرارداد فعال است",
		fmt.Sprintf("estate %d already has an active contract", estateID))
}

func invalidStatus() *Error {
	return invalid("وضعیت قرارداد نامعتبر است", "status must be one of active, expired, cancelled, completed")
}

func blank(v string) bool {
	return strings.TrimSpace(v) == ""
}

func present(v *string) (string, bool) {
	if v == nil || blank(*v) {
		return "", false
	}
	return strings.TrimSpace(*v), true
}

func parseID(raw, field string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, invalid("شناسه نامعتبر است", fmt.Sprintf("%s must be a positive integer", field))
	}
	return uint(id), nil
}

func parseAmount(raw, field string, allowZero bool) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || (!allowZero && value == 0) {
		return 0, invalid("مبلغ باید عدد مثبت باشد", fmt.Sprintf("%s must be a positive number", field))
	}
	return value, nil
}

func parseDuration(raw string) (*int, error) {
	months, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || months < 0 {
		return nil, invalid("مدت قرارداد نامعتبر است", "duration_months must be a non-negative integer")
	}
	return &months, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006/01/02",
}

func parseContractDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return dateOnly(parsed), nil
		}
	}
	return time.Time{}, invalid("تاریخ قرارداد نامعتبر است", "contract_date is not a valid date")
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
