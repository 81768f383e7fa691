package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const TokenTTL = 12 * time.Hour

var ErrInvalidCredentials = errors.New("invalid login or password")

// AuthService checks the single configured operator account and issues
// bearer tokens for the operator API.
type AuthService struct {
	login        string
	passwordHash []byte
	secret       []byte
	now          func() time.Time
}

func NewAuthService(login, passwordHash, secret string) *AuthService {
	return &AuthService{
		login:        login,
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		now:          time.Now,
	}
}

func (s *AuthService) Authenticate(login, password string) error {
	if subtle.ConstantTimeCompare([]byte(login), []byte(s.login)) != 1 {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *AuthService) IssueToken(login string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": login,
		"exp": jwt.NewNumericDate(s.now().Add(TokenTTL)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// HashPassword produces a value suitable for OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
