package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/savegress/optimizer/backend/internal/models"
)

// NOTE: Login/RefreshToken/ResetPassword exercise
// repository.OperatorRepository, which needs a live Postgres pool. These
// tests cover the business logic that doesn't require database access.

func TestServiceValidateToken(t *testing.T) {
	svc := &Service{jwtSecret: []byte("test-secret-key")}
	operatorID := uuid.New()

	tests := []struct {
		name          string
		setupToken    func() string
		expectedError error
		expectedEmail string
	}{
		{
			name: "valid token",
			setupToken: func() string {
				claims := &Claims{
					OperatorID: operatorID.String(),
					Email:      "ops@example.com",
					Role:       models.OperatorRoleOperator,
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
						IssuedAt:  jwt.NewNumericDate(time.Now()),
					},
				}
				tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.jwtSecret)
				return tokenString
			},
			expectedEmail: "ops@example.com",
		},
		{
			name: "expired token",
			setupToken: func() string {
				claims := &Claims{
					OperatorID: operatorID.String(),
					Email:      "ops@example.com",
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
						IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
					},
				}
				tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.jwtSecret)
				return tokenString
			},
			expectedError: ErrInvalidToken,
		},
		{
			name: "invalid signature",
			setupToken: func() string {
				claims := &Claims{
					OperatorID: operatorID.String(),
					Email:      "ops@example.com",
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
						IssuedAt:  jwt.NewNumericDate(time.Now()),
					},
				}
				tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
				return tokenString
			},
			expectedError: ErrInvalidToken,
		},
		{
			name:          "malformed token",
			setupToken:    func() string { return "not.a.valid.jwt" },
			expectedError: ErrInvalidToken,
		},
		{
			name:          "empty token",
			setupToken:    func() string { return "" },
			expectedError: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(tt.setupToken())
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, claims)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedEmail, claims.Email)
			assert.Equal(t, operatorID.String(), claims.OperatorID)
		})
	}
}

func TestClaimsOperatorUUID(t *testing.T) {
	valid := uuid.New()
	claims := &Claims{OperatorID: valid.String()}
	got, err := claims.OperatorUUID()
	assert.NoError(t, err)
	assert.Equal(t, valid, got)

	bad := &Claims{OperatorID: "not-a-uuid"}
	_, err = bad.OperatorUUID()
	assert.Error(t, err)
}
