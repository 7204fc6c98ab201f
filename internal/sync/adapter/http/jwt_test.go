package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_Verify(t *testing.T) {
	v := NewTokenVerifier("secret", "publisher")
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	valid, err := v.Sign(jwt.RegisteredClaims{Subject: "functions", ExpiresAt: future})
	require.NoError(t, err)
	expired, err := v.Sign(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	require.NoError(t, err)
	otherIssuer, err := v.Sign(jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: future})
	require.NoError(t, err)
	otherSecret, err := NewTokenVerifier("other", "publisher").Sign(jwt.RegisteredClaims{ExpiresAt: future})
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: "publisher"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := v.Verify(valid)
	require.NoError(t, err)
	assert.Equal(t, "functions", claims.Subject)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, ErrTokenExpired},
		{"wrong issuer", otherIssuer, ErrTokenInvalid},
		{"wrong secret", otherSecret, ErrTokenSignatureInvalid},
		{"alg none", noneAlg, ErrTokenSignatureInvalid},
		{"garbage", "not-a-token", ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTMiddleware(t *testing.T) {
	v := NewTokenVerifier("secret", "")
	app := fiber.New()
	app.Use(JWTMiddleware(v))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(Subject(c)) })

	token, err := v.Sign(jwt.RegisteredClaims{Subject: "svc"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, fiber.StatusOK},
		{"lowercase scheme", "bearer " + token, fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", fiber.StatusUnauthorized},
		{"tampered", "Bearer " + token + "x", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestJWTMiddleware_DisabledWithoutSecret(t *testing.T) {
	assert.Nil(t, NewTokenVerifier("", "issuer"))

	app := fiber.New()
	app.Use(JWTMiddleware(nil))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
