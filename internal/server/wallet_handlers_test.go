package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyGrantHandler(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)
	app := fiber.New()
	app.Post("/daily", s.DailyGrant)
	app.Post("/daily-auth", withClaims(&identity.SessionClaims{UserID: "u1"}, s.DailyGrant))

	t.Run("no identity is 401", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/daily", fiber.Map{}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("anonymous id awards once per window", func(t *testing.T) {
		var body struct {
			Balance int64 `json:"balance"`
			Awarded bool  `json:"awarded"`
		}

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/daily", fiber.Map{
			"anonSubjectId": "anon_1",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &body)
		assert.True(t, body.Awarded)
		assert.Equal(t, int64(50), body.Balance)

		resp, err = app.Test(jsonRequest(t, http.MethodPost, "/daily", fiber.Map{
			"anonSubjectId": "anon_1",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &body)
		assert.False(t, body.Awarded)
		assert.Equal(t, int64(50), body.Balance)
	})

	t.Run("session wins over anonymous id", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/daily-auth", fiber.Map{
			"anonSubjectId": "anon_other",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var wallet models.Wallet
		require.NoError(t, s.db.Where("user_id = ? AND user_type = ?", "u1", models.SubjectAuthenticated).
			First(&wallet).Error)
		assert.Equal(t, int64(50), wallet.Balance)
	})
}

func TestPurchaseHandler(t *testing.T) {
	t.Parallel()
	s, db := setupTestServer(t)
	app := fiber.New()
	app.Post("/daily", s.DailyGrant)
	app.Post("/purchase", s.Purchase)

	seedWallet := func(t *testing.T, id string, balance int64) {
		t.Helper()
		require.NoError(t, db.Create(&models.Wallet{
			UserID: id, UserType: models.SubjectAnonymous, Balance: balance,
		}).Error)
	}

	t.Run("success returns the new balance", func(t *testing.T) {
		seedWallet(t, "anon_rich", 150)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/purchase", fiber.Map{
			"anonSubjectId": "anon_rich",
			"feature":       "glow_badge",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Success    bool  `json:"success"`
			NewBalance int64 `json:"newBalance"`
		}
		decodeBody(t, resp, &body)
		assert.True(t, body.Success)
		assert.Equal(t, int64(50), body.NewBalance)
	})

	t.Run("insufficient funds reports the shortfall", func(t *testing.T) {
		seedWallet(t, "anon_poor", 30)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/purchase", fiber.Map{
			"anonSubjectId": "anon_poor",
			"feature":       "glow_badge",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body struct {
			Error          string `json:"error"`
			TokensNeeded   int64  `json:"tokensNeeded"`
			CurrentBalance int64  `json:"currentBalance"`
			Required       int64  `json:"required"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, "insufficient_funds", body.Error)
		assert.Equal(t, int64(70), body.TokensNeeded)
		assert.Equal(t, int64(30), body.CurrentBalance)
		assert.Equal(t, int64(100), body.Required)
	})

	t.Run("already owned", func(t *testing.T) {
		seedWallet(t, "anon_owner", 500)

		for i, want := range []int{http.StatusOK, http.StatusBadRequest} {
			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/purchase", fiber.Map{
				"anonSubjectId": "anon_owner",
				"feature":       "vault_archive",
			}))
			require.NoError(t, err)
			require.Equal(t, want, resp.StatusCode, "attempt %d", i+1)
		}

		var wallet models.Wallet
		require.NoError(t, db.Where("user_id = ?", "anon_owner").First(&wallet).Error)
		assert.Equal(t, int64(460), wallet.Balance, "the failed repeat must not charge")
	})

	t.Run("unknown feature is 400", func(t *testing.T) {
		seedWallet(t, "anon_curious", 500)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/purchase", fiber.Map{
			"anonSubjectId": "anon_curious",
			"feature":       "time_machine",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no wallet is 404", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/purchase", fiber.Map{
			"anonSubjectId": "anon_ghost",
			"feature":       "glow_badge",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestBalanceHandler(t *testing.T) {
	t.Parallel()
	s, db := setupTestServer(t)
	app := fiber.New()
	app.Get("/balance", s.Balance)

	t.Run("absent wallet is zero", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/balance?anonSubjectId=anon_new", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var info service.BalanceInfo
		decodeBody(t, resp, &info)
		assert.Equal(t, int64(0), info.Balance)
		assert.Empty(t, info.Entitlements)
	})

	t.Run("lists balance and entitlements", func(t *testing.T) {
		require.NoError(t, db.Create(&models.Wallet{
			UserID: "anon_owner", UserType: models.SubjectAnonymous, Balance: 60,
		}).Error)
		require.NoError(t, db.Create(&models.Entitlement{
			SubjectType: models.SubjectAnonymous, SubjectID: "anon_owner", Feature: "glow_badge",
		}).Error)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/balance?anonSubjectId=anon_owner", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var info service.BalanceInfo
		decodeBody(t, resp, &info)
		assert.Equal(t, int64(60), info.Balance)
		assert.Equal(t, []string{"glow_badge"}, info.Entitlements)
	})
}

func TestCatalogHandler(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)
	app := fiber.New()
	app.Get("/catalog", s.Catalog)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/catalog", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Features []struct {
			Name string `json:"name"`
			Cost int64  `json:"cost"`
		} `json:"features"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Features, 2)
	assert.Equal(t, "glow_badge", body.Features[0].Name)
	assert.Equal(t, int64(100), body.Features[0].Cost)
}
