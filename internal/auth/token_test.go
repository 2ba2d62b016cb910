package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("user-1", secret, time.Now(), time.Hour)
	require.NoError(t, err)

	id, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("user-1", secret, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", secret, time.Now(), time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, []byte("other"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "user-1"})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = ParseToken(signed, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_MissingUserID(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = ParseToken(signed, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie"})
	assert.Equal(t, "cookie", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	empty := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(empty))
}
