package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt для API-токена
const DefaultCost = 12

// MaxTokenLength - ограничение bcrypt
const MaxTokenLength = 72

// HashToken хеширует API-токен. В конфиг кладётся только хеш.
func HashToken(token string) (string, error) {
	return HashTokenWithCost(token, DefaultCost)
}

// HashTokenWithCost хеширует с указанной стоимостью, cost зажимается в [MinCost, MaxCost]
func HashTokenWithCost(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сверяет токен с хешем
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// TokenMatches - обёртка VerifyToken для условий
func TokenMatches(token, hash string) bool {
	return VerifyToken(token, hash) == nil
}
