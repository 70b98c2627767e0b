package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"backend/internal/model"
	"backend/pkg/apperr"
)

type fakeAuthenticator struct {
	accounts map[string]string // username:password -> employeeID
}

func (a *fakeAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	if employeeID, ok := a.accounts[username+":"+password]; ok {
		return employeeID, nil
	}
	return "", apperr.Unauthorized("invalid credentials")
}

func TestLoginProvisionsAccountFromDirectory(t *testing.T) {
	users := newFakeUserRepo()
	dir := newFakeDirectory(
		model.Employee{EmployeeID: "E001", DisplayName: "Somsak", Title: "Officer", Email: "e001@example.com"},
		model.Employee{EmployeeID: "M001", DisplayName: "Manager", Title: "Department Manager", Email: "m001@example.com"},
	)
	auth := &fakeAuthenticator{accounts: map[string]string{
		"somsak:pw":  "E001",
		"manager:pw": "M001",
	}}
	svc := NewUserService(users, dir, auth, true)

	user, tokens, err := svc.Login(context.Background(), LoginDTO{Username: "somsak", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "E001", user.EmployeeID)
	assert.Equal(t, "Somsak", user.DisplayName)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	// Manager-pattern title provisions the MANAGER role.
	manager, _, err := svc.Login(context.Background(), LoginDTO{Username: "manager", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, manager.Role)

	// Second login reuses the provisioned account.
	again, _, err := svc.Login(context.Background(), LoginDTO{Username: "somsak", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestLoginRejectsBadLDAPCredentials(t *testing.T) {
	users := newFakeUserRepo()
	dir := newFakeDirectory()
	auth := &fakeAuthenticator{accounts: map[string]string{}}
	svc := NewUserService(users, dir, auth, true)

	_, _, err := svc.Login(context.Background(), LoginDTO{Username: "somsak", Password: "wrong"})
	require.Error(t, err)
	appErr := apperr.From(err)
	assert.Equal(t, apperr.CodeUnauthorized, appErr.Code)
}

func TestLoginLocalBcryptFallback(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	dev := &model.User{
		ID:         uuid.New(),
		EmployeeID: "D001",
		Username:   "dev",
		Email:      "dev@example.com",
		Role:       model.RoleDev,
		Password:   string(hash),
	}
	users := newFakeUserRepo(dev)
	svc := NewUserService(users, newFakeDirectory(), nil, false)

	user, _, err := svc.Login(context.Background(), LoginDTO{Username: "dev", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleDev, user.Role)

	_, _, err = svc.Login(context.Background(), LoginDTO{Username: "dev", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.From(err).Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	dev := &model.User{ID: uuid.New(), EmployeeID: "D001", Username: "dev", Password: string(hash)}
	users := newFakeUserRepo(dev)
	svc := NewUserService(users, newFakeDirectory(), nil, false)

	_, tokens, err := svc.Login(context.Background(), LoginDTO{Username: "dev", Password: "pw"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The consumed token is single use.
	_, err = svc.Refresh(context.Background(), tokens.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.From(err).Code)
}

func TestCreateUser(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewUserService(users, newFakeDirectory(), nil, false)

	created, err := svc.Create(context.Background(), CreateUserDTO{
		EmployeeID:  "D001",
		Username:    "dev",
		Password:    "s3cret",
		DisplayName: "Dev Account",
		Email:       "dev@example.com",
		Role:        model.RoleDev,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleDev, created.Role)

	// The stored password is a bcrypt hash, so the account can log in locally.
	_, _, err = svc.Login(context.Background(), LoginDTO{Username: "dev", Password: "s3cret"})
	require.NoError(t, err)

	// Duplicate usernames are rejected.
	_, err = svc.Create(context.Background(), CreateUserDTO{
		EmployeeID:  "D002",
		Username:    "dev",
		DisplayName: "Other",
		Email:       "other@example.com",
		Role:        model.RoleUser,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.From(err).Code)

	_, err = svc.Create(context.Background(), CreateUserDTO{
		EmployeeID:  "D003",
		Username:    "odd",
		DisplayName: "Odd",
		Email:       "odd@example.com",
		Role:        "SUPERUSER",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationFailed, apperr.From(err).Code)
}

func TestUpdateUserRole(t *testing.T) {
	u := &model.User{ID: uuid.New(), EmployeeID: "E001", Username: "e001", Role: model.RoleUser}
	users := newFakeUserRepo(u)
	svc := NewUserService(users, newFakeDirectory(), nil, false)

	role := model.RoleAdmin
	updated, err := svc.Update(context.Background(), u.ID.String(), UpdateUserDTO{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, updated.Role)

	bad := "SUPERUSER"
	_, err = svc.Update(context.Background(), u.ID.String(), UpdateUserDTO{Role: &bad})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationFailed, apperr.From(err).Code)
}
