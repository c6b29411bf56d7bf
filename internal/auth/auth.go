// Package auth implements the admin password gate of the shell.
package auth

import (
	"crypto/subtle"
	"fmt"
	"os"

	"github.com/xtxerr/viewtally/internal/errors"
)

// Gate checks a password against a configured secret.
type Gate struct {
	secret []byte
}

// NewGate creates a gate for secret. An empty secret is rejected.
func NewGate(secret string) (*Gate, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty admin password: %w", errors.ErrInvalidConfig)
	}
	return &Gate{secret: []byte(secret)}, nil
}

// FromEnv creates a gate whose secret is the value of the named variable.
func FromEnv(name string) (*Gate, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("%s not set: %w", name, errors.ErrInvalidConfig)
	}
	return NewGate(v)
}

// Check compares given with the secret in constant time.
func (g *Gate) Check(given string) error {
	if subtle.ConstantTimeCompare([]byte(given), g.secret) != 1 {
		return errors.ErrNotAuthorized
	}
	return nil
}
