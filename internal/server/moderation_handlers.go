package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"murmur/internal/models"
	"murmur/internal/service"
)

// ApplyRestriction places a ban or terminate on a subject.
func (s *Server) ApplyRestriction(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req struct {
		SubjectType string     `json:"subjectType"`
		SubjectID   string     `json:"subjectId"`
		Action      string     `json:"action"`
		Reason      string     `json:"reason"`
		ExpiresAt   *time.Time `json:"expiresAt"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	rec, err := s.moderation.Apply(ctx, s.actor(c), service.ApplyInput{
		SubjectType: models.SubjectType(req.SubjectType),
		SubjectID:   req.SubjectID,
		Action:      models.RestrictionAction(req.Action),
		Reason:      req.Reason,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	s.publishModerationEvent(ctx, string(rec.Action),
		models.Subject{ID: rec.SubjectID, Type: rec.SubjectType}, rec.ExpiresAt)

	return c.JSON(fiber.Map{"success": true})
}

// RevokeRestriction lifts restrictions, either a single record by id or every
// active record for a subject.
func (s *Server) RevokeRestriction(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req struct {
		SuspensionID *uint  `json:"suspensionId"`
		SubjectType  string `json:"subjectType"`
		SubjectID    string `json:"subjectId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	in := service.RevokeInput{
		RestrictionID: req.SuspensionID,
		SubjectType:   models.SubjectType(req.SubjectType),
		SubjectID:     req.SubjectID,
	}
	if err := s.moderation.Revoke(ctx, s.actor(c), in); err != nil {
		return respondServiceError(c, err)
	}

	if req.SubjectID != "" {
		s.publishModerationEvent(ctx, "revoke",
			models.Subject{ID: req.SubjectID, Type: models.SubjectType(req.SubjectType)}, nil)
	}

	return c.JSON(fiber.Map{"success": true})
}

// ListRestrictions returns a subject's restriction history, newest first.
func (s *Server) ListRestrictions(c *fiber.Ctx) error {
	ctx := c.UserContext()

	subject := models.Subject{
		ID:   c.Query("subjectId"),
		Type: models.SubjectType(c.Query("subjectType")),
	}
	if subject.ID == "" || !subject.Type.Valid() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("subjectType and subjectId query parameters are required"))
	}

	p := parsePagination(c, 20)
	recs, err := s.moderation.ListRestrictions(ctx, subject, p.Limit, p.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"restrictions": recs})
}

// ListAudit returns the moderation audit trail, newest first.
func (s *Server) ListAudit(c *fiber.Ctx) error {
	ctx := c.UserContext()

	p := parsePagination(c, 50)
	entries, err := s.moderation.ListAudit(ctx, p.Limit, p.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"audit": entries})
}

// BanIP permanently bans an originating address. Banning an address twice
// succeeds without duplicating the record.
func (s *Server) BanIP(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req struct {
		IPAddress string `json:"ipAddress"`
		Reason    string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.moderation.BanIP(ctx, s.actor(c), req.IPAddress, req.Reason); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListIPBans returns the IP ban set, newest first.
func (s *Server) ListIPBans(c *fiber.Ctx) error {
	ctx := c.UserContext()

	p := parsePagination(c, 50)
	bans, err := s.moderation.ListIPBans(ctx, p.Limit, p.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"ipBans": bans})
}
