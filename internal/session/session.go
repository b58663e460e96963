// Package session wraps remote calls with a bounded re-authentication retry.
//
// A call failing with remote.ErrSessionExpired triggers exactly one
// re-authentication followed by exactly one retry. Errors from the retry, and
// any other error from the first attempt, are returned unchanged.
package session

import (
	"context"
	"fmt"

	"github.com/septivank/utility-sync-worker/internal/metrics"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Authenticator re-establishes a remote session
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Session owns the re-authentication state of one account scope
type Session struct {
	scope  string
	auth   Authenticator
	logger *zap.Logger
	group  singleflight.Group
}

// New creates a session for the given scope (usually an account code)
func New(scope string, auth Authenticator, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		scope:  scope,
		auth:   auth,
		logger: logger.With(zap.String("session_scope", scope)),
	}
}

// Scope returns the scope the session was created for
func (s *Session) Scope() string {
	return s.scope
}

// Do runs op with the bounded retry rule
func (s *Session) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op, re-authenticating and retrying once on session expiry
func Execute[T any](ctx context.Context, s *Session, op func(ctx context.Context) (T, error)) (T, error) {
	result, err := op(ctx)
	if err == nil || !remote.IsSessionExpired(err) {
		return result, err
	}

	s.logger.Info("remote session expired, re-authenticating")
	if authErr := s.reauthenticate(ctx); authErr != nil {
		var zero T
		return zero, authErr
	}

	return op(ctx)
}

// reauthenticate collapses concurrent re-authentications of this session
// into a single remote call
func (s *Session) reauthenticate(ctx context.Context) error {
	_, err, _ := s.group.Do("authenticate", func() (any, error) {
		err := s.auth.Authenticate(ctx)
		metrics.RecordReauthentication(s.scope, err == nil)
		return nil, err
	})
	if err != nil {
		s.logger.Warn("re-authentication failed", zap.Error(err))
		return fmt.Errorf("re-authenticate: %w", err)
	}
	return nil
}
