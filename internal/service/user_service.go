package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"backend/internal/directory"
	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperr"
	"backend/pkg/logger"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// Directory titles that mark an account as a manager when it is first
// provisioned. Kept in sync with the approver title patterns.
var managerTitleKeywords = []string{"manager", "head of", "director", "supervisor"}

// --- DTOs ---

type LoginDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type UserResponse struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

type UpdateUserDTO struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	Role        *string `json:"role"`
}

type CreateUserDTO struct {
	EmployeeID  string `json:"employee_id" binding:"required"`
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Role        string `json:"role" binding:"required"`
}

// --- Interface ---

type UserService interface {
	Login(ctx context.Context, req LoginDTO) (UserResponse, TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	GetMe(ctx context.Context, userID string) (UserResponse, error)

	List(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	Get(ctx context.Context, id string) (UserResponse, error)
	Create(ctx context.Context, req CreateUserDTO) (UserResponse, error)
	Update(ctx context.Context, id string, req UpdateUserDTO) (UserResponse, error)
	Delete(ctx context.Context, id string) error
}

type userService struct {
	userRepo      repository.UserRepository
	directoryRepo repository.DirectoryRepository
	authenticator directory.Authenticator
	ldapEnabled   bool
	now           func() time.Time
}

// NewUserService wires credential verification and account provisioning.
// authenticator may be nil when LDAP is disabled; local bcrypt passwords are
// then the only way in.
func NewUserService(
	userRepo repository.UserRepository,
	directoryRepo repository.DirectoryRepository,
	authenticator directory.Authenticator,
	ldapEnabled bool,
) UserService {
	return &userService{
		userRepo:      userRepo,
		directoryRepo: directoryRepo,
		authenticator: authenticator,
		ldapEnabled:   ldapEnabled,
		now:           time.Now,
	}
}

// --- Implementation ---

func (s *userService) Login(ctx context.Context, req LoginDTO) (UserResponse, TokenPair, error) {
	var user *model.User
	var err error

	if s.ldapEnabled && s.authenticator != nil {
		user, err = s.loginLDAP(ctx, req)
	} else {
		user, err = s.loginLocal(ctx, req)
	}
	if err != nil {
		return UserResponse{}, TokenPair{}, err
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.userRepo.Update(ctx, user); err != nil {
		logger.Warn("failed to record last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return UserResponse{}, TokenPair{}, err
	}
	return toUserResponse(*user), pair, nil
}

// loginLDAP verifies credentials against the directory service and provisions
// a local account on first login.
func (s *userService) loginLDAP(ctx context.Context, req LoginDTO) (*model.User, error) {
	employeeID, err := s.authenticator.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByEmployeeID(ctx, employeeID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("load user", err)
	}

	emp, err := s.directoryRepo.FindByEmployeeID(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	role := model.RoleUser
	if hasManagerTitle(emp.Title) {
		role = model.RoleManager
	}

	user = &model.User{
		EmployeeID:  emp.EmployeeID,
		Username:    req.Username,
		DisplayName: emp.DisplayName,
		Email:       emp.Email,
		Role:        role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, apperr.Internal("provision user", err)
	}
	logger.Info("provisioned account from directory",
		zap.String("employee_id", emp.EmployeeID),
		zap.String("role", role),
	)
	return user, nil
}

// loginLocal checks a bcrypt hash stored on the account. Used when LDAP is
// disabled and for DEV accounts.
func (s *userService) loginLocal(ctx context.Context, req LoginDTO) (*model.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	if user.Password == "" {
		return nil, apperr.Unauthorized("account has no local password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}
	return user, nil
}

func (s *userService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, apperr.Unauthorized("refresh token is missing")
	}

	stored, err := s.userRepo.GetRefreshToken(ctx, refreshToken)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenPair{}, apperr.Unauthorized("invalid refresh token")
	}
	if err != nil {
		return TokenPair{}, apperr.Internal("load refresh token", err)
	}
	if s.now().After(stored.ExpiresAt) {
		_ = s.userRepo.DeleteRefreshToken(ctx, refreshToken)
		return TokenPair{}, apperr.Unauthorized("refresh token expired")
	}

	user, err := s.userRepo.GetByID(ctx, stored.UserID.String())
	if err != nil {
		return TokenPair{}, apperr.Unauthorized("account no longer exists")
	}

	// Rotate: the old token is single use.
	if err := s.userRepo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return TokenPair{}, apperr.Internal("rotate refresh token", err)
	}
	return s.issueTokens(ctx, user)
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.userRepo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return apperr.Internal("delete refresh token", err)
	}
	return nil
}

func (s *userService) GetMe(ctx context.Context, userID string) (UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserResponse{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return UserResponse{}, apperr.Internal("load user", err)
	}
	return toUserResponse(*user), nil
}

func (s *userService) List(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	users, total, err := s.userRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, apperr.Internal("list users", err)
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out, total, nil
}

func (s *userService) Get(ctx context.Context, id string) (UserResponse, error) {
	return s.GetMe(ctx, id)
}

// Create provisions an account by hand, bypassing the directory. Intended for
// DEV accounts and local setups where LDAP is disabled.
func (s *userService) Create(ctx context.Context, req CreateUserDTO) (UserResponse, error) {
	switch req.Role {
	case model.RoleUser, model.RoleManager, model.RoleAdmin, model.RoleDev:
	default:
		return UserResponse{}, apperr.Validation("invalid role")
	}
	if _, err := s.userRepo.GetByUsername(ctx, req.Username); err == nil {
		return UserResponse{}, apperr.Conflict(apperr.CodeConflict, "username already taken")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return UserResponse{}, apperr.Internal("check username", err)
	}

	user := &model.User{
		EmployeeID:  req.EmployeeID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        req.Role,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return UserResponse{}, apperr.Internal("hash password", err)
		}
		user.Password = string(hash)
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return UserResponse{}, apperr.Internal("create user", err)
	}
	return toUserResponse(*user), nil
}

func (s *userService) Update(ctx context.Context, id string, req UpdateUserDTO) (UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserResponse{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return UserResponse{}, apperr.Internal("load user", err)
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		switch *req.Role {
		case model.RoleUser, model.RoleManager, model.RoleAdmin, model.RoleDev:
			user.Role = *req.Role
		default:
			return UserResponse{}, apperr.Validation("invalid role")
		}
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return UserResponse{}, apperr.Internal("update user", err)
	}
	return toUserResponse(*user), nil
}

func (s *userService) Delete(ctx context.Context, id string) error {
	if _, err := s.userRepo.GetByID(ctx, id); errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("user not found")
	} else if err != nil {
		return apperr.Internal("load user", err)
	}
	if err := s.userRepo.Delete(ctx, id); err != nil {
		return apperr.Internal("delete user", err)
	}
	return nil
}

// --- Helpers ---

func (s *userService) issueTokens(ctx context.Context, user *model.User) (TokenPair, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(accessTokenTTL).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(middleware.GetJWTSecret())
	if err != nil {
		return TokenPair{}, apperr.Internal("sign access token", err)
	}

	refresh := &model.RefreshToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(refreshTokenTTL),
	}
	if err := s.userRepo.CreateRefreshToken(ctx, refresh); err != nil {
		return TokenPair{}, apperr.Internal("store refresh token", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh.Token}, nil
}

func hasManagerTitle(title string) bool {
	lowered := strings.ToLower(title)
	for _, kw := range managerTitleKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func toUserResponse(u model.User) UserResponse {
	resp := UserResponse{
		ID:          u.ID.String(),
		EmployeeID:  u.EmployeeID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        u.Role,
	}
	if u.LastLoginAt != nil {
		resp.LastLoginAt = u.LastLoginAt.Format(time.RFC3339)
	}
	return resp
}
