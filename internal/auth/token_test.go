package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"listing_sync/internal/domain"
)

type TokenManagerTestSuite struct {
	suite.Suite
	server   *httptest.Server
	calls    atomic.Int32
	lastForm url.Values
	status   int
	body     string
	manager  *TokenManager
}

func (s *TokenManagerTestSuite) SetupTest() {
	s.calls.Store(0)
	s.status = http.StatusOK
	s.body = `{"access_token":"v^1.1#access","token_type":"User Access Token","expires_in":7200}`

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		_ = r.ParseForm()
		s.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.body)
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.manager = NewTokenManager(Config{
		TokenURL:     s.server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		Timeout:      5 * time.Second,
	}, nil, logger)
}

func (s *TokenManagerTestSuite) TearDownTest() {
	s.server.Close()
}

func TestTokenManagerTestSuite(t *testing.T) {
	suite.Run(t, new(TokenManagerTestSuite))
}

func (s *TokenManagerTestSuite) TestRefresh_MissingCredentialMakesNoCall() {
	for _, cred := range []string{"", "   "} {
		_, err := s.manager.Refresh(context.Background(), domain.Account{ID: "acc-1", RefreshCredential: cred})

		var authErr *domain.AuthError
		s.Require().True(errors.As(err, &authErr))
		s.Equal(domain.AuthMissingCredential, authErr.Reason)
		s.Equal("acc-1", authErr.AccountID)
	}
	s.Equal(int32(0), s.calls.Load())
}

func (s *TokenManagerTestSuite) TestRefresh_Success() {
	tok, err := s.manager.Refresh(context.Background(), domain.Account{ID: "acc-1", RefreshCredential: "refresh-1"})

	s.Require().NoError(err)
	s.Equal("v^1.1#access", tok.Value)
	s.Equal("acc-1", tok.AccountID)
	s.False(tok.ExpiresAt.IsZero())
	s.Equal(int32(1), s.calls.Load())
	s.Equal("refresh_token", s.lastForm.Get("grant_type"))
	s.Equal("refresh-1", s.lastForm.Get("refresh_token"))
}

func (s *TokenManagerTestSuite) TestRefresh_NoReuseAcrossCalls() {
	acc := domain.Account{ID: "acc-1", RefreshCredential: "refresh-1"}

	_, err := s.manager.Refresh(context.Background(), acc)
	s.Require().NoError(err)
	_, err = s.manager.Refresh(context.Background(), acc)
	s.Require().NoError(err)
	_, err = s.manager.Refresh(context.Background(), domain.Account{ID: "acc-2", RefreshCredential: "refresh-2"})
	s.Require().NoError(err)

	s.Equal(int32(3), s.calls.Load())
	s.Equal("refresh-2", s.lastForm.Get("refresh_token"))
}

func (s *TokenManagerTestSuite) TestRefresh_Rejected() {
	s.status = http.StatusBadRequest
	s.body = `{"error":"invalid_grant","error_description":"the provided authorization refresh token is invalid"}`

	_, err := s.manager.Refresh(context.Background(), domain.Account{ID: "acc-1", RefreshCredential: "stale"})

	var authErr *domain.AuthError
	s.Require().True(errors.As(err, &authErr))
	s.Equal(domain.AuthRefreshRejected, authErr.Reason)
	s.Equal(http.StatusBadRequest, authErr.Status)
	s.Contains(authErr.Body, "invalid_grant")
	s.False(authErr.Retryable())
	s.Equal(int32(1), s.calls.Load())
}

func (s *TokenManagerTestSuite) TestRefresh_ServerErrorIsRetryable() {
	s.status = http.StatusServiceUnavailable
	s.body = `{"error":"temporarily_unavailable"}`

	_, err := s.manager.Refresh(context.Background(), domain.Account{ID: "acc-1", RefreshCredential: "refresh-1"})

	var authErr *domain.AuthError
	s.Require().True(errors.As(err, &authErr))
	s.Equal(domain.AuthRefreshRejected, authErr.Reason)
	s.True(authErr.Retryable())
}

func (s *TokenManagerTestSuite) TestRefresh_Unreachable() {
	s.server.Close()

	_, err := s.manager.Refresh(context.Background(), domain.Account{ID: "acc-1", RefreshCredential: "refresh-1"})

	var authErr *domain.AuthError
	s.Require().True(errors.As(err, &authErr))
	s.Equal(domain.AuthRefreshFailed, authErr.Reason)
}
