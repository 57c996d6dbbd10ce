package server

import (
	"github.com/gofiber/fiber/v2"

	"murmur/internal/service"
)

// Decide evaluates the caller's identity slots and returns the effective
// restriction. The endpoint never errors: a malformed body is treated as an
// empty one and internal failures degrade to the unrestricted default, so a
// backend outage can never lock callers out.
func (s *Server) Decide(c *fiber.Ctx) error {
	var req struct {
		AnonSubjectID string `json:"anonSubjectId"`
	}
	// Tolerate an absent or malformed body; the session and IP slots still apply.
	_ = c.BodyParser(&req)

	in := service.DecideInput{
		AnonSubjectID: req.AnonSubjectID,
		IP:            c.IP(),
	}
	if claims := sessionClaims(c); claims != nil {
		in.AuthSubjectID = claims.UserID
	}

	decision := s.moderation.Decide(c.UserContext(), in)
	return c.JSON(decision)
}
