package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService issues and validates the bearer tokens that identify an owner.
type TokenService interface {
	// ValidateToken returns the owner id carried in the token's user_id claim.
	ValidateToken(tokenString string) (string, error)
	IssueToken(ownerID string, ttl time.Duration) (string, error)
}

type tokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates an HS256 TokenService.
func NewTokenService(secret string) TokenService {
	return &tokenService{secret: []byte(secret), now: time.Now}
}

func (s *tokenService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	ownerID, ok := claims["user_id"].(string)
	if !ok || ownerID == "" {
		return "", ErrInvalidToken
	}
	return ownerID, nil
}

func (s *tokenService) IssueToken(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": ownerID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
