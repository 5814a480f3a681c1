package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/common"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(issuedAt)
	issuer := NewTokenIssuer("super-secret", time.Hour, clk)

	tok, err := issuer.Issue("user-123", "ada@example.com")
	require.NoError(t, err)

	claims, err := issuer.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims.UserID)
	require.Equal(t, "ada@example.com", claims.Email)
	require.True(t, issuedAt.Equal(claims.IssuedAt.Time))
	require.True(t, issuedAt.Add(time.Hour).Equal(claims.ExpiresAt.Time))
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(issuedAt)
	issuer := NewTokenIssuer("secret", time.Minute, clk)

	tok, err := issuer.Issue("u1", "u1@example.com")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = issuer.Verify(tok)
	require.ErrorIs(t, err, common.ErrExpiredToken)
}

func TestVerify_NoExpiryPolicy(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(issuedAt)
	issuer := NewTokenIssuer("secret", 0, clk)

	tok, err := issuer.Issue("u1", "u1@example.com")
	require.NoError(t, err)

	clk.Advance(10 * 365 * 24 * time.Hour)
	claims, err := issuer.Verify(tok)
	require.NoError(t, err)
	require.Nil(t, claims.ExpiresAt)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(issuedAt)

	tok, err := NewTokenIssuer("right-secret", time.Hour, clk).Issue("u2", "u2@example.com")
	require.NoError(t, err)

	_, err = NewTokenIssuer("wrong-secret", time.Hour, clk).Verify(tok)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()
	issuer := NewTokenIssuer("k", time.Hour, clock.NewFixed(issuedAt))

	_, err := issuer.Verify("not.a.jwt")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestJWTMiddleware(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(issuedAt)
	issuer := NewTokenIssuer("k", time.Hour, clk)
	tok, err := issuer.Issue("u1", "u1@example.com")
	require.NoError(t, err)

	var seen *Claims
	h := JWTMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, `{"error":"User is not logged in."}`},
		{"wrong scheme", "Basic " + tok, http.StatusUnauthorized, `{"error":"User is not logged in."}`},
		{"garbage", "Bearer abc", http.StatusUnauthorized, `{"error":"User is not logged in."}`},
		{"valid", "Bearer " + tok, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/user/get_data", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, tc.status, rec.Code, tc.name)
		if tc.body != "" {
			require.JSONEq(t, tc.body, rec.Body.String(), tc.name)
		}
	}
	require.NotNil(t, seen)
	require.Equal(t, "u1", seen.UserID)

	clk.Advance(2 * time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/user/get_data", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"Session expired."}`, rec.Body.String())
}

func TestBearerToken_WebsocketQueryFallback(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/user/ws?token=abc", nil)
	_, ok := bearerToken(req)
	require.False(t, ok, "query token only counts on an upgrade")

	req.Header.Set("Upgrade", "websocket")
	tok, ok := bearerToken(req)
	require.True(t, ok)
	require.Equal(t, "abc", tok)
}
