package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/brokerage/internal/model"
)

func TestAddUserUpsertsInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t)

	note := "handles the keys"
	created, err := f.service.AddUser(ctx, f.principal(f.creator), view.ID, AddUserInput{UserID: f.helper.ID, Description: &note})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.service.AddUser(ctx, f.principal(f.creator), view.ID, AddUserInput{UserID: f.helper.ID, Role: "agent"})
	require.NoError(t, err)
	assert.False(t, created)

	users, err := f.service.ListUsers(ctx, f.principal(f.helper), view.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, f.helper.ID, users[1].UserID)
	assert.Equal(t, model.ContractRoleAgent, users[1].Role)
	assert.Equal(t, "reza", users[1].Name)
}

func TestAddUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t)

	_, err := f.service.AddUser(ctx, f.principal(f.creator), view.ID, AddUserInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.service.AddUser(ctx, f.principal(f.creator), view.ID, AddUserInput{UserID: f.helper.ID, Role: "owner"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.service.AddUser(ctx, f.principal(f.creator), view.ID, AddUserInput{UserID: f.helper.ID, Role: "creator"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.service.AddUser(ctx, f.principal(f.creator), view.ID, AddUserInput{UserID: 999})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.AddUser(ctx, f.principal(f.helper), view.ID, AddUserInput{UserID: f.outsider.ID})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.service.AddUser(ctx, f.principal(f.creator), view.ID+100, AddUserInput{UserID: f.helper.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatorAssociationIsProtected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t)

	for _, actor := range []model.User{f.creator, f.admin} {
		t.Run(actor.Name, func(t *testing.T) {
			err := f.service.RemoveUser(ctx, f.principal(actor), view.ID, f.creator.ID)
			assert.ErrorIs(t, err, ErrConflict)

			err = f.service.UpdateUser(ctx, f.principal(actor), view.ID, f.creator.ID, UpdateUserInput{Role: "collaborator"})
			assert.ErrorIs(t, err, ErrConflict)

			_, err = f.service.AddUser(ctx, f.principal(actor), view.ID, AddUserInput{UserID: f.creator.ID, Role: "observer"})
			assert.ErrorIs(t, err, ErrConflict)
		})
	}

	desc := "lead"
	require.NoError(t, f.service.UpdateUser(ctx, f.principal(f.creator), view.ID, f.creator.ID, UpdateUserInput{Description: &desc}))

	users, err := f.service.ListUsers(ctx, f.principal(f.creator), view.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, model.ContractRoleCreator, users[0].Role)
	assert.Equal(t, "lead", *users[0].Description)
}

func TestUpdateAndRemoveCollaborator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := f.input()
	input.Users = fmt.Sprintf(`[%d]`, f.helper.ID)
	view, err := f.service.Create(ctx, f.principal(f.creator), input)
	require.NoError(t, err)

	require.NoError(t, f.service.UpdateUser(ctx, f.principal(f.creator), view.ID, f.helper.ID, UpdateUserInput{Role: "observer"}))
	assert.ErrorIs(t, f.service.UpdateUser(ctx, f.principal(f.creator), view.ID, f.helper.ID, UpdateUserInput{Role: "creator"}), ErrInvalidInput)
	assert.ErrorIs(t, f.service.UpdateUser(ctx, f.principal(f.creator), view.ID, f.outsider.ID, UpdateUserInput{}), ErrNotFound)

	assert.ErrorIs(t, f.service.RemoveUser(ctx, f.principal(f.helper), view.ID, f.helper.ID), ErrPermissionDenied)
	require.NoError(t, f.service.RemoveUser(ctx, f.principal(f.creator), view.ID, f.helper.ID))
	assert.ErrorIs(t, f.service.RemoveUser(ctx, f.principal(f.creator), view.ID, f.helper.ID), ErrNotFound)

	_, err = f.service.Get(ctx, f.principal(f.helper), view.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
