package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"murmur/internal/models"
	"murmur/internal/repository"
)

// RestrictionRepoStub is an in-memory restriction repository for tests.
// FailLookups makes every read return a storage error, for fail-open tests.
type RestrictionRepoStub struct {
	mu           sync.Mutex
	restrictions []*models.Restriction
	ipBans       map[string]*models.IPBan
	nextID       uint

	FailLookups bool
}

// NewRestrictionRepoStub creates an empty in-memory restriction repository stub.
func NewRestrictionRepoStub() *RestrictionRepoStub {
	return &RestrictionRepoStub{
		ipBans: make(map[string]*models.IPBan),
		nextID: 1,
	}
}

func (s *RestrictionRepoStub) lookupErr() error {
	if s.FailLookups {
		return models.NewInternalError(errors.New("store unavailable"))
	}
	return nil
}

func (s *RestrictionRepoStub) Create(_ context.Context, rec *models.Restriction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	copied := *rec
	s.restrictions = append(s.restrictions, &copied)
	return nil
}

func (s *RestrictionRepoStub) GetByID(_ context.Context, id uint) (*models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lookupErr(); err != nil {
		return nil, err
	}
	for _, rec := range s.restrictions {
		if rec.ID == id {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, models.NewNotFoundError("Restriction", id)
}

func (s *RestrictionRepoStub) ActiveForSubject(_ context.Context, subject models.Subject) ([]models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lookupErr(); err != nil {
		return nil, err
	}
	var out []models.Restriction
	for _, rec := range s.restrictions {
		if rec.Active && rec.SubjectType == subject.Type && rec.SubjectID == subject.ID {
			out = append(out, *rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RestrictionRepoStub) ListForSubject(_ context.Context, subject models.Subject, limit, offset int) ([]models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lookupErr(); err != nil {
		return nil, err
	}
	var out []models.Restriction
	for _, rec := range s.restrictions {
		if rec.SubjectType == subject.Type && rec.SubjectID == subject.ID {
			out = append(out, *rec)
		}
	}
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func (s *RestrictionRepoStub) Deactivate(_ context.Context, id uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.restrictions {
		if rec.ID == id && rec.Active {
			rec.Active = false
			return 1, nil
		}
	}
	return 0, nil
}

func (s *RestrictionRepoStub) DeactivateForSubject(_ context.Context, subject models.Subject) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.restrictions {
		if rec.Active && rec.SubjectType == subject.Type && rec.SubjectID == subject.ID {
			rec.Active = false
			n++
		}
	}
	return n, nil
}

func (s *RestrictionRepoStub) CreateIPBan(_ context.Context, ban *models.IPBan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ipBans[ban.IPAddress]; exists {
		return nil
	}
	copied := *ban
	s.ipBans[ban.IPAddress] = &copied
	return nil
}

func (s *RestrictionRepoStub) IsIPBanned(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lookupErr(); err != nil {
		return false, err
	}
	_, banned := s.ipBans[ip]
	return banned, nil
}

func (s *RestrictionRepoStub) ListIPBans(_ context.Context, limit, offset int) ([]models.IPBan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lookupErr(); err != nil {
		return nil, err
	}
	out := make([]models.IPBan, 0, len(s.ipBans))
	for _, ban := range s.ipBans {
		out = append(out, *ban)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return page(out, limit, offset), nil
}

// AuditRepoStub is an in-memory append-only audit repository for tests.
type AuditRepoStub struct {
	mu      sync.Mutex
	entries []models.AuditEntry

	FailAppend bool
}

// NewAuditRepoStub creates an empty in-memory audit repository stub.
func NewAuditRepoStub() *AuditRepoStub {
	return &AuditRepoStub{}
}

func (s *AuditRepoStub) Append(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend {
		return models.NewInternalError(errors.New("audit store unavailable"))
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *AuditRepoStub) List(_ context.Context, limit, offset int) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return page(out, limit, offset), nil
}

func (s *AuditRepoStub) ListForSubject(_ context.Context, subject models.Subject, limit, offset int) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range s.entries {
		if e.SubjectType == subject.Type && e.SubjectID == subject.ID {
			out = append(out, e)
		}
	}
	return page(out, limit, offset), nil
}

// Entries returns a snapshot of the appended audit entries.
func (s *AuditRepoStub) Entries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func sortNewestFirst(recs []models.Restriction) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ repository.RestrictionRepository = (*RestrictionRepoStub)(nil)
	_ repository.AuditRepository       = (*AuditRepoStub)(nil)
)
