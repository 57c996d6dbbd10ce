package server

import (
	"context"
	"log/slog"
	"time"

	"murmur/internal/models"
	"murmur/internal/notifications"
	"murmur/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const maxPaginationLimit = 100

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{
		Limit:  limit,
		Offset: offset,
	}
}

// requestSubject resolves the caller's canonical subject from the session
// claims stored by auth middleware and a client-supplied anonymous id.
func (s *Server) requestSubject(c *fiber.Ctx, anonID string) (models.Subject, error) {
	return s.resolver.Resolve(sessionClaims(c), anonID)
}

// actor identifies the admin caller for audit entries. AdminRequired
// guarantees claims are present on these routes.
func (s *Server) actor(c *fiber.Ctx) service.Actor {
	claims := sessionClaims(c)
	if claims == nil {
		return service.Actor{}
	}
	return service.Actor{ID: claims.UserID, Email: claims.Email}
}

// respondServiceError maps application error codes onto HTTP statuses.
func respondServiceError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case models.IsCode(err, "VALIDATION_ERROR"), models.IsCode(err, "ALREADY_OWNED"):
		status = fiber.StatusBadRequest
	case models.IsNotFound(err):
		status = fiber.StatusNotFound
	case models.IsCode(err, "AUTHENTICATION_REQUIRED"), models.IsCode(err, "UNAUTHORIZED"):
		status = fiber.StatusUnauthorized
	case models.IsCode(err, "FORBIDDEN"):
		status = fiber.StatusForbidden
	}
	return models.RespondWithError(c, status, err)
}

// publishModerationEvent pushes a moderation state change to subscribers.
// Delivery is best-effort; a publish failure never fails the mutation.
func (s *Server) publishModerationEvent(ctx context.Context, action string, subject models.Subject, expiresAt *time.Time) {
	if s.notifier == nil {
		return
	}
	if !s.featureFlags.Enabled("moderation_events", subject.ID) {
		return
	}
	event := notifications.Event{
		Action:      action,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		ExpiresAt:   expiresAt,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.notifier.PublishSubject(ctx, event); err != nil {
		slog.WarnContext(ctx, "moderation event publish failed",
			"action", action, "subject_type", subject.Type, "subject_id", subject.ID, "err", err)
	}
}
