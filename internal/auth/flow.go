// Package auth drives the authorization-code flow: it issues authorization
// URLs with fresh PKCE material and validates the provider callback before
// handing the code to the token exchange.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plumelab/chirpd/internal/logger"
	"github.com/plumelab/chirpd/internal/pkce"
	"github.com/plumelab/chirpd/internal/store"
	"go.uber.org/zap"
)

// DefaultPendingTTL bounds how long an authorization URL stays redeemable.
const DefaultPendingTTL = time.Hour

var (
	// ErrNoPendingAuth means no authorization is awaiting a callback for
	// this session: it was never started, already consumed, or expired.
	ErrNoPendingAuth = errors.New("no pending authorization")

	// ErrCsrfMismatch means the callback state does not match the stored
	// one. The flow is aborted, never retried.
	ErrCsrfMismatch = errors.New("state mismatch")

	// ErrMissingCode means the callback carried no authorization code.
	ErrMissingCode = errors.New("missing authorization code")
)

// Exchanger is the token-exchange side of the provider client.
type Exchanger interface {
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*store.Credential, error)
}

// PendingAuthorization is the transient verifier/state pair created when an
// authorization URL is issued. It is consumed exactly once by the callback.
type PendingAuthorization struct {
	ID           string
	CodeVerifier string
	State        string
	CreatedAt    time.Time
}

// Flow tracks pending authorizations in memory; they do not survive a
// restart, which is the intended single-use semantics.
type Flow struct {
	client  Exchanger
	ttl     time.Duration
	mu      sync.Mutex
	pending map[string]*PendingAuthorization
}

// NewFlow creates a Flow over the given exchanger.
func NewFlow(client Exchanger) *Flow {
	return &Flow{
		client:  client,
		ttl:     DefaultPendingTTL,
		pending: make(map[string]*PendingAuthorization),
	}
}

// Begin issues a fresh authorization URL and registers the pending
// verifier/state pair under a new session ID.
func (f *Flow) Begin() (authURL, sessionID, state string) {
	verifier := pkce.NewVerifier()
	challenge := pkce.ChallengeS256(verifier)
	state = pkce.NewState()

	p := &PendingAuthorization{
		ID:           uuid.NewString(),
		CodeVerifier: verifier,
		State:        state,
		CreatedAt:    time.Now(),
	}

	f.mu.Lock()
	f.pending[p.ID] = p
	f.mu.Unlock()

	authURL = f.client.AuthCodeURL(state, challenge)
	logger.Debug("authorization started", zap.String("session_id", p.ID))
	return authURL, p.ID, state
}

// Complete consumes the pending authorization for sessionID and redeems the
// code. The pending record is gone after this call whether or not it
// succeeds; a failed callback requires starting over.
func (f *Flow) Complete(ctx context.Context, sessionID, code, state string) (*store.Credential, error) {
	p := f.take(sessionID)
	if p == nil {
		return nil, ErrNoPendingAuth
	}
	if state == "" || state != p.State {
		logger.Warn("callback state mismatch", zap.String("session_id", sessionID))
		return nil, ErrCsrfMismatch
	}
	if code == "" {
		return nil, ErrMissingCode
	}

	return f.client.Exchange(ctx, code, p.CodeVerifier)
}

// take removes and returns the pending authorization, nil if absent or
// expired.
func (f *Flow) take(sessionID string) *PendingAuthorization {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[sessionID]
	if !ok {
		return nil
	}
	delete(f.pending, sessionID)

	if time.Since(p.CreatedAt) > f.ttl {
		return nil
	}
	return p
}
