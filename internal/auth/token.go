// Package auth exchanges a seller account's refresh credential for a
// short-lived access token.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"listing_sync/internal/domain"
)

const maxErrorBody = 512

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// TokenManager refreshes access tokens. It keeps no token cache: every call
// goes to the token endpoint, so a token never outlives the run that asked
// for it and never crosses accounts. Safe for concurrent use.
type TokenManager struct {
	oauth      oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewTokenManager(cfg Config, httpClient *http.Client, logger *slog.Logger) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &TokenManager{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		logger:     logger.With("component", "token_manager"),
	}
}

func (m *TokenManager) Refresh(ctx context.Context, account domain.Account) (domain.AccessToken, error) {
	if strings.TrimSpace(account.RefreshCredential) == "" {
		return domain.AccessToken{}, &domain.AuthError{
			AccountID: account.ID,
			Reason:    domain.AuthMissingCredential,
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshCredential})

	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			m.logger.Warn("token refresh rejected",
				"account_id", account.ID,
				"status", retrieveErr.Response.StatusCode,
				"error_code", retrieveErr.ErrorCode,
			)
			return domain.AccessToken{}, &domain.AuthError{
				AccountID: account.ID,
				Reason:    domain.AuthRefreshRejected,
				Status:    retrieveErr.Response.StatusCode,
				Body:      truncate(string(retrieveErr.Body), maxErrorBody),
				Err:       err,
			}
		}
		return domain.AccessToken{}, &domain.AuthError{
			AccountID: account.ID,
			Reason:    domain.AuthRefreshFailed,
			Err:       err,
		}
	}

	m.logger.Debug("access token refreshed", "account_id", account.ID, "expires_at", tok.Expiry)

	return domain.AccessToken{
		Value:     tok.AccessToken,
		AccountID: account.ID,
		ExpiresAt: tok.Expiry,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
