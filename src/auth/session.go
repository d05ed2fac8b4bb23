package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Session ties the token store to the refresh routine and the unauthorized
// callback. Concurrent refreshes collapse into one request.
type Session struct {
	store     Store
	refresher *Refresher
	redirect  func(path string)
	logger    zerolog.Logger
	flight    singleflight.Group
	now       func() time.Time
}

// NewSession creates a Session. redirect may be nil.
func NewSession(store Store, refresher *Refresher, redirect func(path string), logger zerolog.Logger) *Session {
	return &Session{
		store:     store,
		refresher: refresher,
		redirect:  redirect,
		logger:    logger.With().Str("component", "session").Logger(),
		now:       time.Now,
	}
}

// Store returns the backing token store.
func (s *Session) Store() Store {
	return s.store
}

// expiryLeeway is how close to its exp claim a token is treated as expired.
const expiryLeeway = 30 * time.Second

// AccessToken returns the stored access token, or "". A token about to
// expire is refreshed first; when that fails the stored token is returned
// and the server decides.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	token, _ := s.store.Get(KeyAccessToken)
	if token == "" || !Expired(token, s.now(), expiryLeeway) {
		return token, nil
	}
	fresh, err := s.Refresh(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("proactive refresh failed")
	}
	if fresh == "" {
		return token, nil
	}
	return fresh, nil
}

// Token is AccessToken without a context, for the realtime pre-connect hook.
func (s *Session) Token() string {
	token, _ := s.store.Get(KeyAccessToken)
	return token
}

// Refresh obtains a new access token. Callers arriving while a refresh is
// in flight share its result.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	if s.refresher == nil {
		return "", nil
	}
	v, err, shared := s.flight.Do("refresh", func() (any, error) {
		return s.refresher.Refresh(ctx)
	})
	if shared {
		s.logger.Debug().Msg("joined in-flight refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Unauthorized clears the access token and sends the user to the login page.
func (s *Session) Unauthorized() {
	if err := s.store.Delete(KeyAccessToken); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear access token")
	}
	s.logger.Info().Msg("session unauthorized")
	if s.redirect != nil {
		s.redirect(LoginPath)
	}
}

// Login stores a fresh token pair.
func (s *Session) Login(token, refreshToken string) error {
	if err := s.store.Set(KeyAccessToken, token); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	return s.store.Set(KeyRefreshToken, refreshToken)
}

// Logout removes both tokens.
func (s *Session) Logout() error {
	if err := s.store.Delete(KeyAccessToken); err != nil {
		return err
	}
	return s.store.Delete(KeyRefreshToken)
}

// Authenticated reports whether a well-formed, unexpired token is stored.
func (s *Session) Authenticated() bool {
	token := s.Token()
	if token == "" {
		return false
	}
	exp, err := TokenExpiry(token)
	if err != nil {
		return false
	}
	return s.now().Before(exp)
}
