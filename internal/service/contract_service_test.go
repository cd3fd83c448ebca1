package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/db/dbtest"
	"github.com/nurpe/brokerage/internal/model"
	"github.com/nurpe/brokerage/internal/repository"
)

type fakeFiles struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeFiles) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	return f.err
}

func (f *fakeFiles) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeMetrics struct {
	created        int
	rejected       []string
	cleanupFailure int
}

func (m *fakeMetrics) ContractCreated()               { m.created++ }
func (m *fakeMetrics) ContractRejected(reason string) { m.rejected = append(m.rejected, reason) }
func (m *fakeMetrics) CleanupFailed()                 { m.cleanupFailure++ }

// failingStore lets the transactional write fail after every precondition
// has passed.
type failingStore struct {
	*repository.ContractRepository
	err error
}

func (s failingStore) CreateWithAssociations(context.Context, *model.Contract, []model.ContractUser) error {
	return s.err
}

type fixture struct {
	db        *gorm.DB
	contracts *repository.ContractRepository
	lookups   *repository.LookupRepository
	files     *fakeFiles
	metrics   *fakeMetrics
	service   *ContractService

	creator  model.User
	helper   model.User
	admin    model.User
	outsider model.User
	customer model.Customer
	estate   model.Estate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.Open(t)
	f := &fixture{
		db:        database,
		contracts: repository.NewContractRepository(database),
		lookups:   repository.NewLookupRepository(database),
		files:     &fakeFiles{},
		metrics:   &fakeMetrics{},
		creator:   model.User{Name: "sara", PhoneNumber: "0912", Password: "x", Approved: true},
		helper:    model.User{Name: "reza", PhoneNumber: "0935", Password: "x", Approved: true},
		admin:     model.User{Name: "admin", Password: "x", Approved: true, IsAdmin: true},
		outsider:  model.User{Name: "nima", Password: "x", Approved: true},
	}
	for _, u := range []*model.User{&f.creator, &f.helper, &f.admin, &f.outsider} {
		require.NoError(t, database.Create(u).Error)
	}
	f.customer = model.Customer{UserID: f.creator.ID, Name: "Ali", Contact: "0911"}
	require.NoError(t, database.Create(&f.customer).Error)
	f.estate = model.Estate{UserID: f.creator.ID, Project: "Niavaran", Block: "B", Floor: 3, Area: 120, Rooms: 2, EstateType: "apartment", Price: 9e9}
	require.NoError(t, database.Create(&f.estate).Error)

	f.service = NewContractService(f.contracts, f.lookups, f.files, f.metrics, zerolog.Nop())
	return f
}

func (f *fixture) principal(u model.User) model.Principal {
	return model.Principal{UserID: u.ID, Name: u.Name, IsAdmin: u.IsAdmin}
}

func (f *fixture) input() CreateContractInput {
	return CreateContractInput{
		CustomerID:   fmt.Sprint(f.customer.ID),
		EstateID:     fmt.Sprint(f.estate.ID),
		ContractType: "rent",
		ContractDate: "2024-01-01",
		Amount:       "50000000",
	}
}

func staged(names ...string) []model.Attachment {
	out := make([]model.Attachment, len(names))
	for i, name := range names {
		out[i] = model.Attachment{
			OriginalName: name,
			FileName:     "contract_1_ab_" + name,
			Path:         "/uploads/contracts/contract_1_ab_" + name,
			Size:         10,
			MimeType:     "application/pdf",
		}
	}
	return out
}

func paths(attachments []model.Attachment) []string {
	out := make([]string, len(attachments))
	for i, a := range attachments {
		out[i] = a.Path
	}
	return out
}

func (f *fixture) countContracts(t *testing.T, estateID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Contract{}).Where("estate_id = ?", estateID).Count(&n).Error)
	return n
}

func (f *fixture) create(t *testing.T) *model.ContractView {
	t.Helper()
	view, err := f.service.Create(context.Background(), f.principal(f.creator), f.input())
	require.NoError(t, err)
	return view
}

func TestCreateContractAddsCreatorAssociation(t *testing.T) {
	f := newFixture(t)

	view := f.create(t)

	assert.True(t, strings.HasPrefix(view.ContractNumber, "CON-"), view.ContractNumber)
	assert.Equal(t, model.ContractStatusActive, view.Status)
	assert.Equal(t, model.DefaultPaymentMethod, view.PaymentMethod)
	assert.Equal(t, "Ali", view.CustomerName)
	assert.Equal(t, "Niavaran", view.EstateProject)
	require.Len(t, view.AssociatedUsers, 1)
	assert.Equal(t, f.creator.ID, view.AssociatedUsers[0].UserID)
	assert.Equal(t, model.ContractRoleCreator, view.AssociatedUsers[0].Role)
	require.NotNil(t, view.AssociatedUsers[0].Description)
	assert.Equal(t, model.DefaultCreatorDescription, *view.AssociatedUsers[0].Description)
	assert.Equal(t, 1, f.metrics.created)
}

func TestCreateSecondActiveContractConflicts(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	input := f.input()
	input.Attachments = staged("deed.pdf")
	_, err := f.service.Create(context.Background(), f.principal(f.creator), input)

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(1), f.countContracts(t, f.estate.ID))
	assert.Equal(t, paths(input.Attachments), f.files.Deleted())
	assert.Equal(t, []string{"conflict"}, f.metrics.rejected)
}

func TestCreatePreconditionFailuresDeleteStagedFiles(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, in *CreateContractInput)
		kind   error
	}{
		{name: "missing amount", mutate: func(_ *fixture, in *CreateContractInput) { in.Amount = "" }, kind: ErrInvalidInput},
		{name: "missing contract type", mutate: func(_ *fixture, in *CreateContractInput) { in.ContractType = "  " }, kind: ErrInvalidInput},
		{name: "invalid date", mutate: func(_ *fixture, in *CreateContractInput) { in.ContractDate = "not-a-date" }, kind: ErrInvalidInput},
		{name: "negative amount", mutate: func(_ *fixture, in *CreateContractInput) { in.Amount = "-5" }, kind: ErrInvalidInput},
		{name: "NaN amount", mutate: func(_ *fixture, in *CreateContractInput) { in.Amount = "NaN" }, kind: ErrInvalidInput},
		{name: "infinite amount", mutate: func(_ *fixture, in *CreateContractInput) { in.Amount = "Inf" }, kind: ErrInvalidInput},
		{name: "negative infinite amount", mutate: func(_ *fixture, in *CreateContractInput) { in.Amount = "-Inf" }, kind: ErrInvalidInput},
		{name: "NaN commission", mutate: func(_ *fixture, in *CreateContractInput) { in.Commission = "NaN" }, kind: ErrInvalidInput},
		{name: "infinite commission", mutate: func(_ *fixture, in *CreateContractInput) { in.Commission = "+Inf" }, kind: ErrInvalidInput},
		{name: "negative infinite commission", mutate: func(_ *fixture, in *CreateContractInput) { in.Commission = "-Inf" }, kind: ErrInvalidInput},
		{name: "bad customer id", mutate: func(_ *fixture, in *CreateContractInput) { in.CustomerID = "abc" }, kind: ErrInvalidInput},
		{name: "users not an array", mutate: func(_ *fixture, in *CreateContractInput) { in.Users = `{"user_id": 2}` }, kind: ErrInvalidInput},
		{name: "unknown role", mutate: func(f *fixture, in *CreateContractInput) {
			in.Users = fmt.Sprintf(`[{"user_id": %d, "role": "owner"}]`, f.helper.ID)
		}, kind: ErrInvalidInput},
		{name: "creator role for collaborator", mutate: func(f *fixture, in *CreateContractInput) {
			in.Users = fmt.Sprintf(`[{"user_id": %d, "role": "creator"}]`, f.helper.ID)
		}, kind: ErrInvalidInput},
		{name: "missing customer", mutate: func(_ *fixture, in *CreateContractInput) { in.CustomerID = "999" }, kind: ErrNotFound},
		{name: "missing estate", mutate: func(_ *fixture, in *CreateContractInput) { in.EstateID = "999" }, kind: ErrNotFound},
		{name: "missing collaborator", mutate: func(_ *fixture, in *CreateContractInput) { in.Users = `[999]` }, kind: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			input := f.input()
			input.Attachments = staged("a.pdf", "b.pdf")
			tt.mutate(f, &input)

			_, err := f.service.Create(context.Background(), f.principal(f.creator), input)

			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, paths(input.Attachments), f.files.Deleted())
			assert.Equal(t, int64(0), f.countContracts(t, f.estate.ID))
		})
	}
}

func TestCreateCleanupFailureKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	f.files.err = errors.New("disk gone")

	input := f.input()
	input.ContractDate = "not-a-date"
	input.Attachments = staged("a.pdf")
	_, err := f.service.Create(context.Background(), f.principal(f.creator), input)

	assert.ErrorIs(t, err, ErrInvalidInput)
	message, detail, ok := Describe(err)
	require.True(t, ok)
	assert.Equal(t, "تاریخ قرارداد نامعتبر است", message)
	assert.Equal(t, "contract_date is not a valid date", detail)
	assert.Equal(t, 1, f.metrics.cleanupFailure)
}

func TestCreateTransactionFailureKeepsFiles(t *testing.T) {
	f := newFixture(t)
	f.service = NewContractService(failingStore{ContractRepository: f.contracts, err: errors.New("connection reset")},
		f.lookups, f.files, f.metrics, zerolog.Nop())

	input := f.input()
	input.Attachments = staged("a.pdf")
	_, err := f.service.Create(context.Background(), f.principal(f.creator), input)

	assert.ErrorIs(t, err, ErrTransaction)
	assert.Empty(t, f.files.Deleted())
	assert.Equal(t, []string{"transaction"}, f.metrics.rejected)
}

func TestCreateNormalizesCollaborators(t *testing.T) {
	f := newFixture(t)
	input := f.input()
	input.Users = fmt.Sprintf(`[%d, %d, "%d", {"id": %d, "role": "agent", "description": "broker"}, {"user_id": %d, "description": "first"}]`,
		f.creator.ID, f.helper.ID, f.helper.ID, f.admin.ID, f.outsider.ID)

	view, err := f.service.Create(context.Background(), f.principal(f.creator), input)
	require.NoError(t, err)

	roles := map[uint]model.ContractRole{}
	for _, u := range view.AssociatedUsers {
		_, dup := roles[u.UserID]
		assert.False(t, dup, "user %d listed twice", u.UserID)
		roles[u.UserID] = u.Role
	}
	assert.Equal(t, map[uint]model.ContractRole{
		f.creator.ID:  model.ContractRoleCreator,
		f.helper.ID:   model.ContractRoleCollaborator,
		f.admin.ID:    model.ContractRoleAgent,
		f.outsider.ID: model.ContractRoleCollaborator,
	}, roles)
}

func TestNormalizeCollaboratorsKeepsLastDescriptor(t *testing.T) {
	first, last := "first", "last"
	out, err := normalizeCollaborators(1, []CollaboratorInput{
		{UserID: 2, Description: &first, Role: model.ContractRoleCollaborator},
		{UserID: 1, Role: model.ContractRoleCreator},
		{UserID: 3, Role: model.ContractRoleObserver},
		{UserID: 2, Description: &last, Role: model.ContractRoleAgent},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint(2), out[0].UserID)
	assert.Equal(t, "last", *out[0].Description)
	assert.Equal(t, model.ContractRoleAgent, out[0].Role)
	assert.Equal(t, uint(3), out[1].UserID)
}

func TestCreatedContractRoundTrip(t *testing.T) {
	f := newFixture(t)
	input := f.input()
	input.Attachments = staged("deed.pdf", "plan.pdf")
	input.DurationMonths = "12"
	input.Commission = "1500000"

	created, err := f.service.Create(context.Background(), f.principal(f.creator), input)
	require.NoError(t, err)

	fetched, err := f.service.Get(context.Background(), f.principal(f.creator), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.CustomerName, fetched.CustomerName)
	assert.Equal(t, created.EstateProject, fetched.EstateProject)
	assert.Equal(t, created.EstateArea, fetched.EstateArea)
	assert.Equal(t, []model.Attachment(input.Attachments), []model.Attachment(fetched.Attachments))
	require.NotNil(t, fetched.DurationMonths)
	assert.Equal(t, 12, *fetched.DurationMonths)
	assert.Equal(t, 1500000.0, fetched.Commission)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), fetched.ContractDate.UTC())
}

func TestGetAccessRules(t *testing.T) {
	f := newFixture(t)
	input := f.input()
	input.Users = fmt.Sprintf(`[%d]`, f.helper.ID)
	view, err := f.service.Create(context.Background(), f.principal(f.creator), input)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = f.service.Get(ctx, f.principal(f.helper), view.ID)
	assert.NoError(t, err)
	_, err = f.service.Get(ctx, f.principal(f.admin), view.ID)
	assert.NoError(t, err)
	_, err = f.service.Get(ctx, f.principal(f.outsider), view.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.service.Get(ctx, f.principal(f.creator), view.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := f.service.List(ctx, f.principal(f.outsider), "")
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = f.service.List(ctx, f.principal(f.helper), "active")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = f.service.List(ctx, f.principal(f.admin), "pending")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)

	status := "منقضی"
	amount := "70000000"
	updated, err := f.service.Update(ctx, f.principal(f.creator), first.ID, UpdateContractInput{
		Status:      &status,
		Amount:      &amount,
		Attachments: staged("extra.pdf"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContractStatusExpired, updated.Status)
	assert.Equal(t, 70000000.0, updated.Amount)
	assert.Len(t, updated.Attachments, 1)

	second := f.create(t)

	active := "active"
	extra := staged("late.pdf")
	_, err = f.service.Update(ctx, f.principal(f.creator), first.ID, UpdateContractInput{Status: &active, Attachments: extra})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, paths(extra), f.files.Deleted())

	_, err = f.service.Update(ctx, f.principal(f.helper), second.ID, UpdateContractInput{Status: &status})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	bogus := "pending"
	_, err = f.service.Update(ctx, f.principal(f.creator), second.ID, UpdateContractInput{Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalidInput)

	badDate := "31/31/2024"
	_, err = f.service.Update(ctx, f.principal(f.admin), second.ID, UpdateContractInput{ContractDate: &badDate})
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, raw := range []string{"NaN", "Inf", "-Inf"} {
		value := raw
		_, err = f.service.Update(ctx, f.principal(f.admin), second.ID, UpdateContractInput{Amount: &value})
		assert.ErrorIs(t, err, ErrInvalidInput, "amount %s", raw)
		_, err = f.service.Update(ctx, f.principal(f.admin), second.ID, UpdateContractInput{Commission: &value})
		assert.ErrorIs(t, err, ErrInvalidInput, "commission %s", raw)
	}
	stored, err := f.service.Get(ctx, f.principal(f.admin), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 50000000.0, stored.Amount)
}

func TestDeleteContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := f.input()
	input.Attachments = staged("deed.pdf")
	view, err := f.service.Create(ctx, f.principal(f.creator), input)
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.Delete(ctx, f.principal(f.creator), view.ID), ErrPermissionDenied)
	require.NoError(t, f.service.Delete(ctx, f.principal(f.admin), view.ID))
	assert.Equal(t, paths(input.Attachments), f.files.Deleted())
	assert.ErrorIs(t, f.service.Delete(ctx, f.principal(f.admin), view.ID), ErrNotFound)

	var associations int64
	require.NoError(t, f.db.Model(&model.ContractUser{}).Where("contract_id = ?", view.ID).Count(&associations).Error)
	assert.Zero(t, associations)
}

func TestStatsScope(t *testing.T) {
	f := newFixture(t)
	f.service.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }
	f.create(t)

	stats, err := f.service.Stats(context.Background(), f.principal(f.creator))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalContracts)
	assert.Equal(t, int64(1), stats.ThisMonth)

	stats, err = f.service.Stats(context.Background(), f.principal(f.helper))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalContracts)

	stats, err = f.service.Stats(context.Background(), f.principal(f.admin))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalContracts)
}

func TestLookupsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CustomerOptions(ctx, f.principal(f.creator))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	estates, err := f.service.AvailableEstates(ctx, f.principal(f.admin))
	require.NoError(t, err)
	assert.Len(t, estates, 1)

	f.create(t)
	estates, err = f.service.AvailableEstates(ctx, f.principal(f.admin))
	require.NoError(t, err)
	assert.Empty(t, estates)
}
