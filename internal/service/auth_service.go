package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/evetabi/betledger/internal/config"
	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/telegram"
)

// OperatorSubject is the JWT subject of back-office operator tokens.
const OperatorSubject = "operator"

// initDataMaxAge bounds how old a Telegram launch payload may be.
const initDataMaxAge = 24 * time.Hour

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// LoginResponse is returned on successful login.
type LoginResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// TokenPair holds both tokens returned by generateTokenPair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"` // "access" or "refresh"
}

// UserID returns the Telegram user id in Subject, or 0 for operator tokens.
func (c *AppClaims) UserID() int64 {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService logs users in from Telegram Mini App init data, issues
// operator tokens for the back office and validates JWTs.
type AuthService struct {
	store           repository.Store
	jwt             config.JWTConfig
	botToken        string
	operatorKeyHash string
	now             func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(store repository.Store, cfg *config.Config) *AuthService {
	return &AuthService{
		store:           store,
		jwt:             cfg.JWT,
		botToken:        cfg.Payment.TelegramToken,
		operatorKeyHash: cfg.Admin.OperatorKeyHash,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Telegram login
// ──────────────────────────────────────────────────────────────────────────────

// LoginTelegram verifies the init data signature, refreshes the user's
// profile and returns a fresh token pair.
func (s *AuthService) LoginTelegram(ctx context.Context, initData string) (*LoginResponse, error) {
	if s.botToken == "" {
		return nil, fmt.Errorf("auth_service.LoginTelegram: %w", domain.ErrInvalidCredentials)
	}
	tu, err := telegram.ValidateInitData(initData, s.botToken, initDataMaxAge, s.now())
	if err != nil {
		return nil, fmt.Errorf("auth_service.LoginTelegram: %w: %v", domain.ErrInvalidCredentials, err)
	}

	now := s.now()
	user, err := s.store.UpsertUser(ctx, &domain.User{
		ID:           tu.ID,
		Username:     tu.Username,
		FirstName:    tu.FirstName,
		LastName:     tu.LastName,
		LanguageCode: tu.LanguageCode,
		Role:         domain.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("auth_service.LoginTelegram: upsert: %w", err)
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}

	pair, err := s.generateTokenPair(strconv.FormatInt(user.ID, 10), string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("auth_service.LoginTelegram: tokens: %w", err)
	}
	return &LoginResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Operator login
// ──────────────────────────────────────────────────────────────────────────────

// OperatorLogin checks key against the configured bcrypt hash and returns an
// admin access token valid for JWT.AdminTTL.
func (s *AuthService) OperatorLogin(key string) (string, time.Time, error) {
	if s.operatorKeyHash == "" || key == "" {
		return "", time.Time{}, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.operatorKeyHash), []byte(key)); err != nil {
		return "", time.Time{}, domain.ErrInvalidCredentials
	}
	exp := s.now().Add(s.jwt.AdminTTL)
	tok, err := s.sign(OperatorSubject, string(domain.RoleAdmin), "access", exp)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth_service.OperatorLogin: %w", err)
	}
	return tok, exp, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RefreshToken
// ──────────────────────────────────────────────────────────────────────────────

// RefreshToken validates a refresh token and issues a new token pair.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	claims, err := s.parseToken(refreshToken)
	if err != nil {
		return "", "", err
	}
	if claims.TokenType != "refresh" {
		return "", "", domain.ErrTokenInvalid
	}
	userID := claims.UserID()
	if userID == 0 {
		return "", "", domain.ErrTokenInvalid
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", "", domain.ErrUserNotFound
	}
	if !user.IsActive {
		return "", "", domain.ErrUserInactive
	}

	pair, err := s.generateTokenPair(claims.Subject, string(user.Role))
	if err != nil {
		return "", "", fmt.Errorf("auth_service.RefreshToken: %w", err)
	}
	return pair.AccessToken, pair.RefreshToken, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Token helpers
// ──────────────────────────────────────────────────────────────────────────────

// generateTokenPair creates a signed access token (AccessTTL) and a signed
// refresh token (RefreshTTL) for the given subject.
func (s *AuthService) generateTokenPair(subject, role string) (TokenPair, error) {
	now := s.now()
	access, err := s.sign(subject, role, "access", now.Add(s.jwt.AccessTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(subject, "", "refresh", now.Add(s.jwt.RefreshTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) sign(subject, role, typ string, exp time.Time) (string, error) {
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:      role,
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwt.AccessSecret))
}

// parseToken validates the token signature, algorithm, and expiry.
func (s *AuthService) parseToken(tokenString string) (*AppClaims, error) {
	secret := []byte(s.jwt.AccessSecret)
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

// ParseAccessToken is exported for use by the JWT middleware.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "access" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
