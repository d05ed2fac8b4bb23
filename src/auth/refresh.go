package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Refresher exchanges the stored refresh token for a new access token.
// It talks to the endpoint directly so a 401 on refresh cannot recurse
// into another refresh.
type Refresher struct {
	endpoint string
	store    Store
	http     *http.Client
	logger   zerolog.Logger
}

// NewRefresher creates a Refresher posting to endpoint.
func NewRefresher(endpoint string, store Store, httpClient *http.Client, logger zerolog.Logger) *Refresher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Refresher{
		endpoint: endpoint,
		store:    store,
		http:     httpClient,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// Refresh returns the new access token, or "" when no refresh token is
// stored or the server rejects it.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	refresh, ok := r.store.Get(KeyRefreshToken)
	if !ok || refresh == "" {
		return "", nil
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refresh})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn().Int("status", resp.StatusCode).Msg("refresh rejected")
		return "", nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}
	var out refreshResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Token == "" {
		return "", nil
	}

	if err := r.store.Set(KeyAccessToken, out.Token); err != nil {
		return "", err
	}
	if out.RefreshToken != "" {
		if err := r.store.Set(KeyRefreshToken, out.RefreshToken); err != nil {
			return "", err
		}
	}
	r.logger.Debug().Msg("access token refreshed")
	return out.Token, nil
}
