// Package dispatch wraps every provider-facing action with credential
// loading, expiry detection and a single refresh-and-retry.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/plumelab/chirpd/internal/logger"
	"github.com/plumelab/chirpd/internal/store"
	"github.com/plumelab/chirpd/internal/twitter"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotAuthenticated means no usable credential exists for the requested
// user; the user must run the authorization flow (again).
var ErrNotAuthenticated = errors.New("user not authenticated")

// ActionError is a provider failure unrelated to authentication. It is
// surfaced to the caller and never retried.
type ActionError struct {
	Err error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action failed: %v", e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Refresher is the token-refresh side of the provider client.
type Refresher interface {
	Refresh(ctx context.Context, cred *store.Credential) (*store.Credential, error)
}

// Action is one provider call executed with a current access token.
type Action func(ctx context.Context, accessToken string) error

// Dispatcher is the single path through which authenticated provider calls
// run. Refreshes are deduplicated per user: two calls that both observe an
// expired token trigger one refresh, not two competing ones.
type Dispatcher struct {
	store     store.Store
	refresher Refresher
	group     singleflight.Group
}

// NewDispatcher creates a Dispatcher over the given store and refresher.
func NewDispatcher(st store.Store, refresher Refresher) *Dispatcher {
	return &Dispatcher{store: st, refresher: refresher}
}

// Do loads the user's credential, runs the action, and on a token
// rejection refreshes once and retries once. Tokens are never held across
// calls; the retry re-loads from the store.
func (d *Dispatcher) Do(ctx context.Context, userID string, action Action) error {
	cred, err := d.store.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAuthenticated
		}
		return fmt.Errorf("load credential: %w", err)
	}

	err = action(ctx, cred.AccessToken)
	if err == nil {
		return nil
	}
	if !errors.Is(err, twitter.ErrUnauthorized) {
		return &ActionError{Err: err}
	}

	logger.Info("access token rejected, refreshing", zap.String("user_id", userID))

	if err := d.refresh(ctx, userID, cred.AccessToken); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	// Re-load rather than trusting any cached copy: the refresh may have
	// been satisfied by a concurrent caller's flight.
	fresh, err := d.store.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	if err := action(ctx, fresh.AccessToken); err != nil {
		return &ActionError{Err: err}
	}
	return nil
}

// refresh rotates the token pair, collapsing concurrent attempts for the
// same user into one provider call.
func (d *Dispatcher) refresh(ctx context.Context, userID, rejectedToken string) error {
	_, err, _ := d.group.Do(userID, func() (interface{}, error) {
		cur, err := d.store.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		// Another flight already rotated the pair; nothing to do.
		if cur.AccessToken != rejectedToken {
			return cur, nil
		}
		return d.refresher.Refresh(ctx, cur)
	})
	return err
}
