package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	uid      string
	err      error
	verified string
}

func (s *stubVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	s.verified = token
	if s.err != nil {
		return "", s.err
	}
	return s.uid, nil
}

func runAuthenticate(verifier TokenVerifier, header string) (echo.Context, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat-sessions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	handler := NewAuthMiddleware(verifier).Authenticate(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return c, handler(c)
}

func TestAuthenticateVerifiesThroughClientAndSetsUID(t *testing.T) {
	verifier := &stubVerifier{uid: "user-123"}

	c, err := runAuthenticate(verifier, "Bearer id-token")

	require.NoError(t, err)
	assert.Equal(t, "id-token", verifier.verified)
	assert.Equal(t, "user-123", c.Get("uid"))
}

func TestAuthenticateRequiresHeader(t *testing.T) {
	_, err := runAuthenticate(&stubVerifier{uid: "user-123"}, "")

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestAuthenticateRejectsMalformedHeader(t *testing.T) {
	_, err := runAuthenticate(&stubVerifier{uid: "user-123"}, "Token id-token")

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("token expired")}

	c, err := runAuthenticate(verifier, "Bearer stale-token")

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
	assert.Nil(t, c.Get("uid"))
}
