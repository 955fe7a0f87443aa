package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier resolves a credential to the identity it was issued for.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// Claims holds JWT claims including user ID, display name and role.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
	now         func() time.Time
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
		now:         time.Now,
	}
}

// Generate creates a new JWT for the identity.
func (s *JWTService) Generate(id models.Identity) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: id.UserID,
		Name:   id.Name,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify implements Verifier. Any problem with the credential is an AuthFailure.
func (s *JWTService) Verify(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, apperr.ErrAuthFailure
	}
	claims, err := s.Validate(tokenString)
	if err != nil {
		return models.Identity{}, apperr.ErrAuthFailure
	}
	role := models.Role(claims.Role)
	if claims.UserID == uuid.Nil || !role.Valid() {
		return models.Identity{}, apperr.ErrAuthFailure
	}
	return models.Identity{UserID: claims.UserID, Name: claims.Name, Role: role}, nil
}
