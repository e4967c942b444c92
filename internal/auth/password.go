package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/mattjoyce/devbench/internal/devbench"
)

// MinPasswordLength is enforced when passwords are set.
const MinPasswordLength = 8

// UserGetter is the slice of the store Login needs.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*devbench.User, error)
}

// Compared against when the user does not exist so both paths cost a bcrypt round.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("devbench-dummy-password"), bcrypt.DefaultCost)
	return h
})

func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login verifies credentials and returns the user.
func Login(ctx context.Context, users UserGetter, username, password string) (*devbench.User, error) {
	u, err := users.GetUser(ctx, username)
	if errors.Is(err, devbench.ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		return nil, err
	}
	if u.IsDisabled {
		return nil, ErrUserDisabled
	}
	return u, nil
}
