// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"murmur/internal/identity"
	"murmur/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumSubjects     int
	NumRestrictions int
	NumIPBans       int
	ShouldClean     bool
}

// Seeder populates the database with fake subjects, wallets and restrictions.
type Seeder struct {
	db   *gorm.DB
	rand *rand.Rand
}

// NewSeeder creates a new Seeder bound to the provided Gorm DB.
func NewSeeder(db *gorm.DB) *Seeder {
	gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{
		db:   db,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ClearAll wipes every seeded table. Development only.
func (s *Seeder) ClearAll() error {
	tables := []string{"audit_entries", "entitlements", "wallets", "ip_bans", "restrictions"}
	for _, table := range tables {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	log.Println("Cleared all seeded tables")
	return nil
}

// Subjects generates a mix of authenticated and anonymous subjects with
// wallets, some already awarded today and some due for a grant.
func (s *Seeder) Subjects(n int) ([]models.Subject, error) {
	subjects := make([]models.Subject, 0, n)
	for i := 0; i < n; i++ {
		subject := s.randomSubject()

		var lastAwarded *time.Time
		switch s.rand.Intn(3) {
		case 0:
			// Awarded within the current window.
			t := time.Now().Add(-time.Duration(s.rand.Intn(23)) * time.Hour)
			lastAwarded = &t
		case 1:
			// Due for a grant.
			t := time.Now().Add(-time.Duration(24+s.rand.Intn(72)) * time.Hour)
			lastAwarded = &t
		}

		wallet := models.Wallet{
			UserID:        subject.ID,
			UserType:      subject.Type,
			Balance:       int64(s.rand.Intn(12)) * 50,
			LastAwardedAt: lastAwarded,
		}
		if err := s.db.Create(&wallet).Error; err != nil {
			return nil, fmt.Errorf("seed wallet: %w", err)
		}
		subjects = append(subjects, subject)
	}
	log.Printf("Seeded %d subjects with wallets", len(subjects))
	return subjects, nil
}

// Restrictions places random bans and terminates on a sample of the given
// subjects, including a few expired and revoked records so the history views
// have something to show.
func (s *Seeder) Restrictions(subjects []models.Subject, n int) error {
	if len(subjects) == 0 {
		return nil
	}
	admin := "admin_" + gofakeit.Username()
	for i := 0; i < n; i++ {
		subject := subjects[s.rand.Intn(len(subjects))]

		rec := models.Restriction{
			SubjectType: subject.Type,
			SubjectID:   subject.ID,
			Action:      models.RestrictionTerminate,
			Reason:      gofakeit.Sentence(6),
			CreatedBy:   admin,
			Active:      true,
		}
		switch s.rand.Intn(4) {
		case 0:
			rec.Action = models.RestrictionBan
		case 1:
			// Active terminate still in the future.
			t := time.Now().Add(time.Duration(1+s.rand.Intn(48)) * time.Hour)
			rec.ExpiresAt = &t
		case 2:
			// Expired terminate; the row stays active on purpose.
			t := time.Now().Add(-time.Duration(1+s.rand.Intn(48)) * time.Hour)
			rec.ExpiresAt = &t
		case 3:
			t := time.Now().Add(time.Duration(1+s.rand.Intn(48)) * time.Hour)
			rec.ExpiresAt = &t
			rec.Active = false
		}

		if err := s.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("seed restriction: %w", err)
		}

		entry := models.AuditEntry{
			ActorID:     admin,
			ActorEmail:  gofakeit.Email(),
			Action:      "TERMINATE",
			SubjectType: subject.Type,
			SubjectID:   subject.ID,
		}
		if rec.Action == models.RestrictionBan {
			entry.Action = "BAN"
		}
		entry.SetMeta(map[string]any{"restriction_id": rec.ID, "reason": rec.Reason})
		if err := s.db.Create(&entry).Error; err != nil {
			return fmt.Errorf("seed audit entry: %w", err)
		}
	}
	log.Printf("Seeded %d restrictions with audit entries", n)
	return nil
}

// IPBans creates a handful of banned addresses.
func (s *Seeder) IPBans(n int) error {
	admin := "admin_" + gofakeit.Username()
	for i := 0; i < n; i++ {
		ban := models.IPBan{
			IPAddress:   gofakeit.IPv4Address(),
			Reason:      gofakeit.Sentence(5),
			BannedBy:    admin,
			IsPermanent: true,
		}
		if err := s.db.Create(&ban).Error; err != nil {
			return fmt.Errorf("seed ip ban: %w", err)
		}
	}
	log.Printf("Seeded %d ip bans", n)
	return nil
}

func (s *Seeder) randomSubject() models.Subject {
	if s.rand.Intn(2) == 0 {
		return models.Subject{
			ID:   "user_" + gofakeit.UUID(),
			Type: models.SubjectAuthenticated,
		}
	}
	return models.Subject{
		ID:   identity.NewAnonID(),
		Type: models.SubjectAnonymous,
	}
}
