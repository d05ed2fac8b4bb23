package auth

import (
	"net/http"
	"strings"
	"sync"

	"github.com/orchestra-mcp/livecache/config"
	"github.com/orchestra-mcp/livecache/src/apiclient"
	"github.com/rs/zerolog"
)

// Navigation targets.
const (
	LoginPath     = "/login"
	ForbiddenPath = "/forbidden"
)

// Guard applies the 401/403 navigation policy to terminal API errors.
type Guard struct {
	Behavior              string // config.ForbiddenLogin or config.ForbiddenForbidden
	ClearTokenOnForbidden bool
	Store                 Store
	Redirect              func(path string)
	CurrentPath           func() string

	logger     zerolog.Logger
	mu         sync.Mutex
	redirected bool
}

// NewGuard creates a Guard from the auth configuration.
func NewGuard(cfg config.AuthConfig, store Store, redirect func(string), logger zerolog.Logger) *Guard {
	return &Guard{
		Behavior:              cfg.ForbiddenBehavior,
		ClearTokenOnForbidden: cfg.ClearTokenOnForbidden,
		Store:                 store,
		Redirect:              redirect,
		logger:                logger.With().Str("component", "guard").Logger(),
	}
}

// Handle is an apiclient.ErrorHook.
func (g *Guard) Handle(req *apiclient.Request, err *apiclient.Error) {
	if isAuthCall(req.Path) || isAuthCall(err.URL) {
		return
	}

	switch err.StatusCode {
	case http.StatusUnauthorized:
		g.clearToken()
		g.Navigate(LoginPath + "?reason=expired")
	case http.StatusForbidden:
		if g.Behavior == config.ForbiddenForbidden {
			if g.ClearTokenOnForbidden {
				g.clearToken()
			}
			g.Navigate(ForbiddenPath)
			return
		}
		g.clearToken()
		g.Navigate(LoginPath + "?reason=forbidden")
	}
}

// Reset re-arms the one-shot redirect.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.redirected = false
}

func (g *Guard) clearToken() {
	if g.Store == nil {
		return
	}
	if err := g.Store.Delete(KeyAccessToken); err != nil {
		g.logger.Error().Err(err).Msg("failed to clear access token")
	}
}

// Navigate redirects to target unless the current page is public or a
// redirect already happened since the last Reset.
func (g *Guard) Navigate(target string) {
	if g.Redirect == nil {
		return
	}
	current := "/"
	if g.CurrentPath != nil {
		current = g.CurrentPath()
	}
	if isPublicPath(current) {
		return
	}

	g.mu.Lock()
	if g.redirected {
		g.mu.Unlock()
		return
	}
	g.redirected = true
	g.mu.Unlock()

	g.logger.Info().Str("target", target).Msg("redirecting")
	g.Redirect(target)
}

func isPublicPath(path string) bool {
	return strings.HasPrefix(path, LoginPath) || strings.HasPrefix(path, ForbiddenPath)
}

func isAuthCall(target string) bool {
	if i := strings.Index(target, "://"); i >= 0 {
		rest := target[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			target = rest[j:]
		} else {
			target = "/"
		}
	}
	return strings.HasPrefix("/"+strings.TrimLeft(target, "/"), "/api/auth")
}
