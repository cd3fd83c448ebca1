package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/nurpe/brokerage/internal/auth"
	"github.com/nurpe/brokerage/internal/model"
)

type UserStore interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
	GetByName(ctx context.Context, name string) (*model.User, error)
}

type AuthService struct {
	users  UserStore
	tokens *auth.TokenManager
	log    zerolog.Logger
}

func NewAuthService(users UserStore, tokens *auth.TokenManager, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

func invalidCredentials() *Error {
	return invalid("نام کاربری یا رمز عبور اشتباه است", "invalid credentials")
}

func pendingApproval() *Error {
	return newError(ErrPermissionDenied, "حساب شما در انتظار تایید مدیر است",
		"account pending approval, please wait for admin approval")
}

func (s *AuthService) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return nil, invalid("نام کاربری و رمز عبور الزامی است", "name and password are required")
	}

	user, err := s.users.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalidCredentials()
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.log.Warn().Str("name", name).Msg("login with wrong password")
		return nil, invalidCredentials()
	}
	if !user.Approved {
		return nil, pendingApproval()
	}

	token, expiresAt, err := s.tokens.Issue(auth.Subject{
		UserID:   user.ID,
		Name:     user.Name,
		IsAdmin:  user.IsAdmin,
		Approved: user.Approved,
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: *user}, nil
}

// Authenticate resolves a bearer token to a principal. Admin and approval
// state come from the users table, not from the token.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string) (model.Principal, error) {
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return model.Principal{}, wrapError(ErrUnauthorized, "احراز هویت نامعتبر است", "invalid or expired token", err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return model.Principal{}, wrapError(ErrUnauthorized, "احراز هویت نامعتبر است", "invalid token subject", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Principal{}, newError(ErrUnauthorized, "کاربر یافت نشد", "token user no longer exists")
		}
		return model.Principal{}, err
	}
	if !user.Approved {
		return model.Principal{}, pendingApproval()
	}
	return model.Principal{UserID: user.ID, Name: user.Name, IsAdmin: user.IsAdmin}, nil
}

func (s *AuthService) Me(ctx context.Context, principal model.Principal) (*model.User, error) {
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userNotFound(principal.UserID)
		}
		return nil, err
	}
	return user, nil
}

// HashPassword is used by seeding and tests.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
