// Package auth issues and verifies operator tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password; the two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Operator is a back-office account allowed to publish and report events.
type Operator struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
}

// OperatorStore looks operators up by email. It returns (nil, nil) when no
// operator matches.
type OperatorStore interface {
	OperatorByEmail(ctx context.Context, email string) (*Operator, error)
}

type Service struct {
	secret    string
	ttl       time.Duration
	operators OperatorStore
	now       func() time.Time
}

type Claims struct {
	OperatorID int64 `json:"operatorId"`
	jwt.RegisteredClaims
}

func NewService(secret string, ttl time.Duration, operators OperatorStore) *Service {
	return &Service{secret: secret, ttl: ttl, operators: operators, now: time.Now}
}

func (s *Service) Sign(operatorID int64) (string, error) {
	now := s.now()
	claims := Claims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

func (s *Service) Verify(_ context.Context, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.OperatorID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Login checks the password against the stored bcrypt hash and returns a
// signed token for the operator.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Operator, error) {
	if s.operators == nil {
		return "", nil, ErrInvalidCredentials
	}

	op, err := s.operators.OperatorByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", nil, fmt.Errorf("lookup operator: %w", err)
	}
	if op == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.Sign(op.ID)
	if err != nil {
		return "", nil, err
	}
	return token, op, nil
}

// HashPassword produces the hash stored in operators.password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
