package service

import (
	"context"
	"testing"
	"time"

	"murmur/internal/models"
	"murmur/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModerationService(restrictions *testutil.RestrictionRepoStub, audit *testutil.AuditRepoStub) *ModerationService {
	return NewModerationService(restrictions, audit)
}

func TestApply_ValidatesInput(t *testing.T) {
	t.Parallel()
	svc := newTestModerationService(testutil.NewRestrictionRepoStub(), testutil.NewAuditRepoStub())
	ctx := context.Background()
	actor := Actor{ID: "admin1", Email: "admin@example.com"}

	tests := []struct {
		name string
		in   ApplyInput
	}{
		{"bad subject type", ApplyInput{SubjectType: "robot", SubjectID: "u1", Action: models.RestrictionBan}},
		{"empty subject id", ApplyInput{SubjectType: models.SubjectAuthenticated, SubjectID: "  ", Action: models.RestrictionBan}},
		{"bad action", ApplyInput{SubjectType: models.SubjectAuthenticated, SubjectID: "u1", Action: "shadowban"}},
		{"terminate without expiry", ApplyInput{SubjectType: models.SubjectAuthenticated, SubjectID: "u1", Action: models.RestrictionTerminate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, actor, tt.in)
			require.Error(t, err)
			assert.True(t, models.IsCode(err, "VALIDATION_ERROR"))
		})
	}
}

func TestApply_WritesRestrictionAndAudit(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	audit := testutil.NewAuditRepoStub()
	svc := newTestModerationService(restrictions, audit)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	rec, err := svc.Apply(ctx, Actor{ID: "admin1", Email: "admin@example.com"}, ApplyInput{
		SubjectType: models.SubjectAnonymous,
		SubjectID:   "anon_1",
		Action:      models.RestrictionTerminate,
		Reason:      "spam",
		ExpiresAt:   &expires,
	})
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.NotZero(t, rec.ID)

	entries := audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "TERMINATE", entries[0].Action)
	assert.Equal(t, "admin1", entries[0].ActorID)
	assert.Equal(t, "admin@example.com", entries[0].ActorEmail)
	meta := entries[0].MetaMap()
	assert.Equal(t, "spam", meta["reason"])
}

func TestApply_AuditFailureDoesNotFailMutation(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	audit := testutil.NewAuditRepoStub()
	audit.FailAppend = true
	svc := newTestModerationService(restrictions, audit)

	_, err := svc.Apply(context.Background(), Actor{ID: "admin1"}, ApplyInput{
		SubjectType: models.SubjectAuthenticated,
		SubjectID:   "u1",
		Action:      models.RestrictionBan,
	})
	require.NoError(t, err)

	recs, err := restrictions.ActiveForSubject(context.Background(),
		models.Subject{ID: "u1", Type: models.SubjectAuthenticated})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDecide_BanDominatesTerminate(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()
	actor := Actor{ID: "admin1"}

	expires := time.Now().Add(time.Hour)
	_, err := svc.Apply(ctx, actor, ApplyInput{
		SubjectType: models.SubjectAuthenticated, SubjectID: "u1",
		Action: models.RestrictionTerminate, ExpiresAt: &expires,
	})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, actor, ApplyInput{
		SubjectType: models.SubjectAuthenticated, SubjectID: "u1",
		Action: models.RestrictionBan,
	})
	require.NoError(t, err)

	decision := svc.Decide(ctx, DecideInput{AuthSubjectID: "u1"})
	assert.True(t, decision.Banned)
	assert.Nil(t, decision.TerminatedUntil)
}

func TestDecide_ExpiryIsReadTimeOnly(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()
	subject := models.Subject{ID: "u1", Type: models.SubjectAuthenticated}

	expires := time.Now().Add(time.Hour)
	_, err := svc.Apply(ctx, Actor{ID: "admin1"}, ApplyInput{
		SubjectType: subject.Type, SubjectID: subject.ID,
		Action: models.RestrictionTerminate, ExpiresAt: &expires,
	})
	require.NoError(t, err)

	// Before expiry the suspension is reported with its expiry.
	decision := svc.Decide(ctx, DecideInput{AuthSubjectID: subject.ID})
	assert.False(t, decision.Banned)
	require.NotNil(t, decision.TerminatedUntil)
	assert.WithinDuration(t, expires, *decision.TerminatedUntil, time.Second)

	// After expiry the subject is clear, and the record stays active.
	svc.now = func() time.Time { return expires.Add(time.Minute) }
	decision = svc.Decide(ctx, DecideInput{AuthSubjectID: subject.ID})
	assert.False(t, decision.Banned)
	assert.Nil(t, decision.TerminatedUntil)

	recs, err := restrictions.ActiveForSubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Active, "expiry must never be written back to the record")
}

func TestDecide_SlotPrecedence(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()

	_, err := svc.Apply(ctx, Actor{ID: "admin1"}, ApplyInput{
		SubjectType: models.SubjectAnonymous, SubjectID: "anon_1",
		Action: models.RestrictionBan,
	})
	require.NoError(t, err)

	// The anonymous slot is only consulted when the authenticated slot is clear.
	decision := svc.Decide(ctx, DecideInput{AuthSubjectID: "u1", AnonSubjectID: "anon_1"})
	assert.True(t, decision.Banned)

	decision = svc.Decide(ctx, DecideInput{AuthSubjectID: "u1"})
	assert.False(t, decision.Banned)
	assert.Nil(t, decision.TerminatedUntil)
}

func TestDecide_IPBan(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()

	require.NoError(t, svc.BanIP(ctx, Actor{ID: "admin1"}, "203.0.113.7", "abuse"))

	decision := svc.Decide(ctx, DecideInput{IP: "203.0.113.7"})
	assert.True(t, decision.Banned)

	decision = svc.Decide(ctx, DecideInput{IP: "203.0.113.8"})
	assert.False(t, decision.Banned)
}

func TestDecide_FailsOpenOnStorageError(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()

	_, err := svc.Apply(ctx, Actor{ID: "admin1"}, ApplyInput{
		SubjectType: models.SubjectAuthenticated, SubjectID: "u1",
		Action: models.RestrictionBan,
	})
	require.NoError(t, err)

	restrictions.FailLookups = true
	decision := svc.Decide(ctx, DecideInput{AuthSubjectID: "u1", IP: "203.0.113.7"})
	assert.False(t, decision.Banned)
	assert.Nil(t, decision.TerminatedUntil)
}

func TestRevoke_BySubjectClearsEverything(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	audit := testutil.NewAuditRepoStub()
	svc := newTestModerationService(restrictions, audit)
	ctx := context.Background()
	actor := Actor{ID: "admin1"}

	expires := time.Now().Add(time.Hour)
	for _, in := range []ApplyInput{
		{SubjectType: models.SubjectAuthenticated, SubjectID: "u1", Action: models.RestrictionBan},
		{SubjectType: models.SubjectAuthenticated, SubjectID: "u1", Action: models.RestrictionTerminate, ExpiresAt: &expires},
	} {
		_, err := svc.Apply(ctx, actor, in)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Revoke(ctx, actor, RevokeInput{
		SubjectType: models.SubjectAuthenticated, SubjectID: "u1",
	}))

	decision := svc.Decide(ctx, DecideInput{AuthSubjectID: "u1"})
	assert.False(t, decision.Banned)
	assert.Nil(t, decision.TerminatedUntil)

	entries := audit.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, models.AuditActionUnsuspend, entries[2].Action)
}

func TestRevoke_ByID(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()
	actor := Actor{ID: "admin1"}

	rec, err := svc.Apply(ctx, actor, ApplyInput{
		SubjectType: models.SubjectAuthenticated, SubjectID: "u1",
		Action: models.RestrictionBan,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, actor, RevokeInput{RestrictionID: &rec.ID}))
	decision := svc.Decide(ctx, DecideInput{AuthSubjectID: "u1"})
	assert.False(t, decision.Banned)

	// Revoking an already-inactive record is a no-op success.
	require.NoError(t, svc.Revoke(ctx, actor, RevokeInput{RestrictionID: &rec.ID}))

	unknown := uint(9999)
	err = svc.Revoke(ctx, actor, RevokeInput{RestrictionID: &unknown})
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestResolveEffective_NewestTerminateWins(t *testing.T) {
	t.Parallel()
	now := time.Now()
	older := now.Add(30 * time.Minute)
	newer := now.Add(2 * time.Hour)
	recs := []models.Restriction{
		// Newest first, as the repository returns them.
		{ID: 2, Action: models.RestrictionTerminate, Active: true, ExpiresAt: &newer, CreatedAt: now},
		{ID: 1, Action: models.RestrictionTerminate, Active: true, ExpiresAt: &older, CreatedAt: now.Add(-time.Hour)},
	}

	decision, found := ResolveEffective(recs, now)
	require.True(t, found)
	require.NotNil(t, decision.TerminatedUntil)
	assert.Equal(t, newer, *decision.TerminatedUntil)
}

func TestResolveEffective_SkipsInactiveAndExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	past := now.Add(-time.Hour)
	recs := []models.Restriction{
		{ID: 2, Action: models.RestrictionBan, Active: false},
		{ID: 1, Action: models.RestrictionTerminate, Active: true, ExpiresAt: &past},
	}

	_, found := ResolveEffective(recs, now)
	assert.False(t, found)
}

func TestBanIP_Validation(t *testing.T) {
	t.Parallel()
	svc := newTestModerationService(testutil.NewRestrictionRepoStub(), testutil.NewAuditRepoStub())
	ctx := context.Background()
	actor := Actor{ID: "admin1"}

	assert.Error(t, svc.BanIP(ctx, actor, "", "x"))
	assert.Error(t, svc.BanIP(ctx, actor, "not-an-ip", "x"))
	assert.NoError(t, svc.BanIP(ctx, actor, "2001:db8::1", "x"))
}

func TestBanIP_Idempotent(t *testing.T) {
	t.Parallel()
	restrictions := testutil.NewRestrictionRepoStub()
	svc := newTestModerationService(restrictions, testutil.NewAuditRepoStub())
	ctx := context.Background()

	require.NoError(t, svc.BanIP(ctx, Actor{ID: "admin1"}, "203.0.113.7", "abuse"))
	require.NoError(t, svc.BanIP(ctx, Actor{ID: "admin2"}, "203.0.113.7", "again"))

	bans, err := svc.ListIPBans(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, bans, 1)
}
