// Package auth implements the admin bearer-token web layer's operator
// authentication: JWT access/refresh token issuance and validation plus
// bcrypt password handling. It is kept intentionally minimal - directory
// Users never authenticate against this service, Operators only exist to
// gate the outward HTTP surface in cmd/api.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/savegress/optimizer/backend/internal/models"
	"github.com/savegress/optimizer/backend/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrOperatorExists     = errors.New("auth: operator with this email already exists")
	ErrOperatorNotFound   = errors.New("auth: operator not found")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrResetTokenExpired  = errors.New("auth: password reset token has expired")
	ErrResetTokenUsed     = errors.New("auth: password reset token has already been used")
)

// Service issues and validates Operator sessions.
type Service struct {
	operators         *repository.OperatorRepository
	jwtSecret         []byte
	accessTokenTTL    time.Duration
	refreshTokenTTL   time.Duration
}

func New(operators *repository.OperatorRepository, jwtSecret string, accessTokenTTL, refreshTokenTTL time.Duration) *Service {
	return &Service{
		operators:       operators,
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// TokenPair holds an access/refresh token issued together.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Claims holds the JWT claims carried by an access token.
type Claims struct {
	OperatorID string `json:"operator_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// OperatorUUID parses OperatorID into a uuid.UUID.
func (c *Claims) OperatorUUID() (uuid.UUID, error) {
	return uuid.Parse(c.OperatorID)
}

// CreateOperator provisions a new Operator account, used by the
// admin bootstrap path rather than public self-service signup - there is
// no "Register" HTTP operation on the router.
func (s *Service) CreateOperator(ctx context.Context, email, password, name, role string) (*models.Operator, error) {
	if _, err := s.operators.GetByEmail(ctx, email); err == nil {
		return nil, ErrOperatorExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("auth: check existing operator: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	now := time.Now().UTC()
	op := &models.Operator{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.operators.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("auth: create operator: %w", err)
	}
	return op, nil
}

// Login authenticates an Operator by email/password and issues a fresh
// token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Operator, *TokenPair, error) {
	op, err := s.operators.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("auth: lookup operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.operators.UpdateLastLogin(ctx, op.ID, now); err != nil {
		return nil, nil, fmt.Errorf("auth: update last login: %w", err)
	}
	op.LastLoginAt = &now

	tokens, err := s.issueTokenPair(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	return op, tokens, nil
}

// RefreshToken exchanges a still-valid refresh token for a new token pair,
// revoking the one it consumed - refresh tokens are single-use.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	rt, err := s.operators.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("auth: lookup refresh token: %w", err)
	}
	if rt.RevokedAt != nil || time.Now().After(rt.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	op, err := s.operators.GetByID(ctx, rt.OperatorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("auth: lookup operator: %w", err)
	}

	if err := s.operators.RevokeRefreshToken(ctx, refreshToken, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("auth: revoke refresh token: %w", err)
	}

	return s.issueTokenPair(ctx, op)
}

// ValidateToken parses and verifies an access token, rejecting anything
// not signed with our own HMAC secret.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) issueTokenPair(ctx context.Context, op *models.Operator) (*TokenPair, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.accessTokenTTL)

	claims := &Claims{
		OperatorID: op.ID.String(),
		Email:      op.Email,
		Role:       op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}

	refreshToken := uuid.New().String() + uuid.New().String()
	rt := &models.RefreshToken{
		ID:         uuid.New(),
		OperatorID: op.ID,
		Token:      refreshToken,
		ExpiresAt:  now.Add(s.refreshTokenTTL),
		CreatedAt:  now,
	}
	if err := s.operators.CreateRefreshToken(ctx, rt); err != nil {
		return nil, fmt.Errorf("auth: store refresh token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
}

// RequestPasswordReset issues a single-use reset token for the operator
// owning email, bcrypt-hashed at rest so a leaked password_resets table
// yields nothing replayable. It never reveals whether the email matched an
// account.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	op, err := s.operators.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("auth: lookup operator: %w", err)
	}

	token := uuid.New().String() + uuid.New().String()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash reset token: %w", err)
	}

	now := time.Now().UTC()
	reset := &models.PasswordReset{
		ID:         uuid.New(),
		OperatorID: op.ID,
		TokenHash:  string(hash),
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
	}
	if err := s.operators.CreatePasswordReset(ctx, reset); err != nil {
		return "", fmt.Errorf("auth: store reset token: %w", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token issued by RequestPasswordReset,
// replacing the operator's password and revoking every outstanding
// refresh token so existing sessions can't outlive the credential change.
func (s *Service) ResetPassword(ctx context.Context, operatorID uuid.UUID, token, newPassword string) error {
	reset, err := s.operators.GetPasswordReset(ctx, operatorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("auth: lookup reset token: %w", err)
	}
	if reset.UsedAt != nil {
		return ErrResetTokenUsed
	}
	now := time.Now().UTC()
	if now.After(reset.ExpiresAt) {
		return ErrResetTokenExpired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(reset.TokenHash), []byte(token)); err != nil {
		return ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash new password: %w", err)
	}
	if err := s.operators.UpdatePassword(ctx, operatorID, string(hash), now); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if err := s.operators.MarkPasswordResetUsed(ctx, reset.ID, now); err != nil {
		return fmt.Errorf("auth: mark reset used: %w", err)
	}
	return s.operators.RevokeAllRefreshTokens(ctx, operatorID, now)
}
