package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"murmur/internal/models"
)

// DailyGrant credits the caller's daily tokens if their grant window has
// elapsed, creating the wallet on first contact. Safe to call repeatedly: at
// most one award per window regardless of retries.
func (s *Server) DailyGrant(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req struct {
		AnonSubjectID string `json:"anonSubjectId"`
	}
	_ = c.BodyParser(&req)

	subject, err := s.requestSubject(c, req.AnonSubjectID)
	if err != nil {
		return respondServiceError(c, err)
	}

	balance, awarded, err := s.wallets.EnsureDailyGrant(ctx, subject)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"balance": balance,
		"awarded": awarded,
	})
}

// Purchase spends tokens to grant the caller a catalog feature.
func (s *Server) Purchase(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req struct {
		AnonSubjectID string `json:"anonSubjectId"`
		Feature       string `json:"feature"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	subject, err := s.requestSubject(c, req.AnonSubjectID)
	if err != nil {
		return respondServiceError(c, err)
	}

	newBalance, err := s.wallets.Purchase(ctx, subject, req.Feature)
	if err != nil {
		var insufficient *models.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":          "insufficient_funds",
				"tokensNeeded":   insufficient.Needed,
				"currentBalance": insufficient.Current,
				"required":       insufficient.Required,
			})
		}
		if models.IsCode(err, "ALREADY_OWNED") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "already_owned",
			})
		}
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"newBalance": newBalance,
	})
}

// Balance returns the caller's token balance and owned features. A caller
// with no wallet yet sees a zero balance rather than an error.
func (s *Server) Balance(c *fiber.Ctx) error {
	ctx := c.UserContext()

	subject, err := s.requestSubject(c, c.Query("anonSubjectId"))
	if err != nil {
		return respondServiceError(c, err)
	}

	info, err := s.wallets.Balance(ctx, subject)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(info)
}

// Catalog lists the purchasable features and their token costs.
func (s *Server) Catalog(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"features": s.wallets.CatalogFeatures()})
}
