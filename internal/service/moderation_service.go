// Package service implements the moderation engine and token ledger business logic.
package service

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"murmur/internal/models"
	"murmur/internal/observability"
	"murmur/internal/repository"
	"murmur/internal/validation"
)

// Actor identifies the administrator performing a moderation action, for the
// audit trail.
type Actor struct {
	ID    string
	Email string
}

// ApplyInput describes a restriction to place on a subject.
type ApplyInput struct {
	SubjectType models.SubjectType
	SubjectID   string
	Action      models.RestrictionAction
	Reason      string
	ExpiresAt   *time.Time
}

// RevokeInput revokes either one restriction by id or every active restriction
// for a subject.
type RevokeInput struct {
	RestrictionID *uint
	SubjectType   models.SubjectType
	SubjectID     string
}

// DecideInput carries the identity slots evaluated for a decision. Slots are
// checked in order: authenticated subject, anonymous subject, source IP.
type DecideInput struct {
	AuthSubjectID string
	AnonSubjectID string
	IP            string
}

// ModerationService applies and revokes restrictions and computes the single
// effective restriction for a caller at query time.
type ModerationService struct {
	restrictions repository.RestrictionRepository
	audit        repository.AuditRepository
	now          func() time.Time
}

// NewModerationService returns a new ModerationService.
func NewModerationService(restrictions repository.RestrictionRepository, audit repository.AuditRepository) *ModerationService {
	return &ModerationService{
		restrictions: restrictions,
		audit:        audit,
		now:          time.Now,
	}
}

// Apply inserts a new active restriction for the subject. Prior records are
// left untouched; they keep participating in precedence resolution until
// individually revoked or time-expired.
func (s *ModerationService) Apply(ctx context.Context, actor Actor, in ApplyInput) (*models.Restriction, error) {
	if !in.SubjectType.Valid() {
		return nil, models.NewValidationError("subjectType must be authenticated or anonymous")
	}
	subjectID := strings.TrimSpace(in.SubjectID)
	if err := validation.ValidateSubjectID(subjectID); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if !in.Action.Valid() {
		return nil, models.NewValidationError("action must be ban or terminate")
	}
	if in.Action == models.RestrictionTerminate && in.ExpiresAt == nil {
		return nil, models.NewValidationError("expiresAt is required for terminate")
	}

	rec := &models.Restriction{
		SubjectType: in.SubjectType,
		SubjectID:   subjectID,
		Action:      in.Action,
		Reason:      strings.TrimSpace(in.Reason),
		CreatedBy:   actor.ID,
		ExpiresAt:   in.ExpiresAt,
		Active:      true,
	}
	if err := s.restrictions.Create(ctx, rec); err != nil {
		return nil, err
	}
	observability.RestrictionWrites.WithLabelValues(string(in.Action)).Inc()

	meta := map[string]any{
		"restriction_id": rec.ID,
		"reason":         rec.Reason,
	}
	if rec.ExpiresAt != nil {
		meta["expires_at"] = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	s.appendAudit(ctx, actor, strings.ToUpper(string(in.Action)), models.Subject{ID: rec.SubjectID, Type: rec.SubjectType}, meta)

	return rec, nil
}

// Revoke deactivates restriction records. With a restriction id exactly that
// record is deactivated (404 if it does not exist); otherwise every
// currently-active record for the subject. The audit action is UNSUSPEND
// regardless of which action is being revoked.
func (s *ModerationService) Revoke(ctx context.Context, actor Actor, in RevokeInput) error {
	if in.RestrictionID != nil {
		rec, err := s.restrictions.GetByID(ctx, *in.RestrictionID)
		if err != nil {
			return err
		}
		// Revoking an already-inactive record is a no-op success.
		if _, err := s.restrictions.Deactivate(ctx, rec.ID); err != nil {
			return err
		}
		observability.RestrictionWrites.WithLabelValues("unsuspend").Inc()
		s.appendAudit(ctx, actor, models.AuditActionUnsuspend,
			models.Subject{ID: rec.SubjectID, Type: rec.SubjectType},
			map[string]any{"restriction_id": rec.ID})
		return nil
	}

	if !in.SubjectType.Valid() {
		return models.NewValidationError("subjectType must be authenticated or anonymous")
	}
	subjectID := strings.TrimSpace(in.SubjectID)
	if err := validation.ValidateSubjectID(subjectID); err != nil {
		return models.NewValidationError(err.Error())
	}

	subject := models.Subject{ID: subjectID, Type: in.SubjectType}
	revoked, err := s.restrictions.DeactivateForSubject(ctx, subject)
	if err != nil {
		return err
	}
	observability.RestrictionWrites.WithLabelValues("unsuspend").Inc()
	s.appendAudit(ctx, actor, models.AuditActionUnsuspend, subject,
		map[string]any{"revoked_count": revoked})
	return nil
}

// Decide evaluates the caller's identity slots in precedence order and derives
// the single effective restriction. The read path never fails: any internal
// error degrades to the unrestricted default, because an outage must not
// itself become a denial of service.
func (s *ModerationService) Decide(ctx context.Context, in DecideInput) models.Decision {
	now := s.now()

	if in.AuthSubjectID != "" {
		subject := models.Subject{ID: in.AuthSubjectID, Type: models.SubjectAuthenticated}
		if decision, found, ok := s.decideSubject(ctx, subject, now); !ok {
			return failOpen()
		} else if found {
			return recordOutcome(decision)
		}
	}

	if in.AnonSubjectID != "" {
		subject := models.Subject{ID: in.AnonSubjectID, Type: models.SubjectAnonymous}
		if decision, found, ok := s.decideSubject(ctx, subject, now); !ok {
			return failOpen()
		} else if found {
			return recordOutcome(decision)
		}
	}

	if in.IP != "" {
		banned, err := s.restrictions.IsIPBanned(ctx, in.IP)
		if err != nil {
			slog.WarnContext(ctx, "ip ban lookup failed, failing open", "ip", in.IP, "err", err)
			return failOpen()
		}
		if banned {
			observability.DecisionOutcomes.WithLabelValues("ip_banned").Inc()
			return models.Decision{Banned: true}
		}
	}

	observability.DecisionOutcomes.WithLabelValues("clear").Inc()
	return models.Decision{}
}

// decideSubject resolves one identity slot. found reports whether an effective
// restriction exists for the slot; ok is false on storage failure.
func (s *ModerationService) decideSubject(ctx context.Context, subject models.Subject, now time.Time) (models.Decision, bool, bool) {
	recs, err := s.restrictions.ActiveForSubject(ctx, subject)
	if err != nil {
		slog.WarnContext(ctx, "restriction lookup failed, failing open",
			"subject_type", subject.Type, "subject_id", subject.ID, "err", err)
		return models.Decision{}, false, false
	}
	decision, found := ResolveEffective(recs, now)
	return decision, found, true
}

// ResolveEffective derives the decision for one subject's restriction records
// at the given instant. Ban dominates terminate even when both are active.
// Expired terminate records are excluded here without ever being written back;
// with several effective terminates the newest record's expiry wins (records
// arrive newest first).
func ResolveEffective(recs []models.Restriction, now time.Time) (models.Decision, bool) {
	var terminate *models.Restriction
	for i := range recs {
		if !recs[i].EffectiveAt(now) {
			continue
		}
		if recs[i].Action == models.RestrictionBan {
			return models.Decision{Banned: true}, true
		}
		if terminate == nil {
			terminate = &recs[i]
		}
	}
	if terminate != nil {
		return models.Decision{TerminatedUntil: terminate.ExpiresAt}, true
	}
	return models.Decision{}, false
}

// BanIP permanently bans an originating address. Banning an already-banned
// address succeeds without duplicating the record.
func (s *ModerationService) BanIP(ctx context.Context, actor Actor, ip, reason string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return models.NewValidationError("ipAddress is required")
	}
	if net.ParseIP(ip) == nil {
		return models.NewValidationError("ipAddress is not a valid IP address")
	}

	ban := &models.IPBan{
		IPAddress:   ip,
		Reason:      strings.TrimSpace(reason),
		BannedBy:    actor.ID,
		IsPermanent: true,
	}
	if err := s.restrictions.CreateIPBan(ctx, ban); err != nil {
		return err
	}
	observability.RestrictionWrites.WithLabelValues("ip_ban").Inc()
	s.appendAudit(ctx, actor, models.AuditActionIPBan, models.Subject{},
		map[string]any{"ip_address": ip, "reason": ban.Reason})
	return nil
}

// ListRestrictions returns a subject's restriction history, newest first.
func (s *ModerationService) ListRestrictions(ctx context.Context, subject models.Subject, limit, offset int) ([]models.Restriction, error) {
	return s.restrictions.ListForSubject(ctx, subject, limit, offset)
}

// ListIPBans returns the IP ban set, newest first.
func (s *ModerationService) ListIPBans(ctx context.Context, limit, offset int) ([]models.IPBan, error) {
	return s.restrictions.ListIPBans(ctx, limit, offset)
}

// ListAudit returns the audit trail, newest first.
func (s *ModerationService) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	return s.audit.List(ctx, limit, offset)
}

// appendAudit records a restriction mutation. The trail is advisory, not
// authoritative: a failed append must not undo a restriction that is already
// in force, so the divergence is logged and counted instead.
func (s *ModerationService) appendAudit(ctx context.Context, actor Actor, action string, subject models.Subject, meta map[string]any) {
	entry := &models.AuditEntry{
		ActorID:     actor.ID,
		ActorEmail:  actor.Email,
		Action:      action,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
	}
	entry.SetMeta(meta)
	if err := s.audit.Append(ctx, entry); err != nil {
		observability.AuditDivergences.Inc()
		slog.WarnContext(ctx, "restriction recorded but audit append failed",
			"action", action, "subject_type", subject.Type, "subject_id", subject.ID, "err", err)
	}
}

func failOpen() models.Decision {
	observability.DecisionOutcomes.WithLabelValues("fail_open").Inc()
	return models.Decision{}
}

func recordOutcome(d models.Decision) models.Decision {
	if d.Banned {
		observability.DecisionOutcomes.WithLabelValues("banned").Inc()
	} else {
		observability.DecisionOutcomes.WithLabelValues("suspended").Inc()
	}
	return d
}
