// Package store persists OAuth credentials between process restarts.
//
// A Credential is always written whole: access and refresh tokens rotate
// together, so partial updates would leave the record unusable.
package store

import (
	"context"
	"errors"

	"github.com/plumelab/chirpd/internal/config"
)

// ErrNotFound is returned by Load when no credential has been saved for
// the requested user.
var ErrNotFound = errors.New("credential not found")

// Credential is the durable token record for one authenticated user.
type Credential struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// Store is the credential persistence interface. Implementations replace
// the stored record on Save, never merge fields.
type Store interface {
	// Load returns the credential for userID, or ErrNotFound.
	Load(ctx context.Context, userID string) (*Credential, error)

	// Save replaces the stored credential for cred.UserID.
	Save(ctx context.Context, cred *Credential) error

	// Delete removes the credential for userID. Deleting an absent
	// credential is not an error.
	Delete(ctx context.Context, userID string) error
}

// New builds the Store selected by the configuration.
func New(cfg *config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		return NewMemoryStore(), nil
	case config.StoreBackendFile:
		return NewFileStore(cfg.Path), nil
	case config.StoreBackendSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, errors.New("unsupported store backend: " + string(cfg.Backend))
	}
}
