package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintSessionToken(t *testing.T, secret, email string, verified bool) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "user_" + email,
		"iss":            testJWTIssuer,
		"email":          email,
		"email_verified": verified,
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authedRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)
	app := fiber.New()
	app.Get("/private", s.AuthRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-token", http.StatusUnauthorized},
		{"wrong secret", mintSessionToken(t, "other-secret", "user@example.com", true), http.StatusUnauthorized},
		{"valid token", mintSessionToken(t, testJWTSecret, "user@example.com", true), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(authedRequest(http.MethodGet, "/private", tt.token))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAdminRequired(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)
	app := fiber.New()
	app.Get("/admin", s.AuthRequired(), s.AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"non-admin session", mintSessionToken(t, testJWTSecret, "user@example.com", true), http.StatusForbidden},
		{"unverified admin email", mintSessionToken(t, testJWTSecret, "admin@example.com", false), http.StatusForbidden},
		{"admin session", mintSessionToken(t, testJWTSecret, "admin@example.com", true), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(authedRequest(http.MethodGet, "/admin", tt.token))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)
	app := fiber.New()
	app.Get("/open", s.OptionalAuth(), func(c *fiber.Ctx) error {
		if claims := sessionClaims(c); claims != nil {
			return c.JSON(fiber.Map{"subject": claims.UserID})
		}
		return c.JSON(fiber.Map{"subject": ""})
	})

	t.Run("no token stays anonymous", func(t *testing.T) {
		resp, err := app.Test(authedRequest(http.MethodGet, "/open", ""))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Subject string `json:"subject"`
		}
		decodeBody(t, resp, &body)
		assert.Empty(t, body.Subject)
	})

	t.Run("invalid token is ignored, not rejected", func(t *testing.T) {
		resp, err := app.Test(authedRequest(http.MethodGet, "/open", "garbage"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("valid token attaches the session", func(t *testing.T) {
		token := mintSessionToken(t, testJWTSecret, "user@example.com", true)
		resp, err := app.Test(authedRequest(http.MethodGet, "/open", token))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Subject string `json:"subject"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, "user_user@example.com", body.Subject)
	})
}

func TestParsePagination(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	var got Pagination
	app.Get("/", func(c *fiber.Ctx) error {
		got = parsePagination(c, 20)
		return c.SendStatus(fiber.StatusOK)
	})

	tests := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Limit: 20, Offset: 0}},
		{"?limit=5&offset=10", Pagination{Limit: 5, Offset: 10}},
		{"?limit=0", Pagination{Limit: 20, Offset: 0}},
		{"?limit=500", Pagination{Limit: 100, Offset: 0}},
		{"?offset=-3", Pagination{Limit: 20, Offset: 0}},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, tt.want, got, "query %q", tt.query)
	}
}
