// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"murmur/internal/models"
	"murmur/internal/repository"
)

// WalletRepoStub is an in-memory wallet repository for tests. Failure hooks
// let tests inject storage errors at specific steps.
type WalletRepoStub struct {
	mu           sync.Mutex
	wallets      map[models.Subject]*models.Wallet
	entitlements map[models.Subject]map[string]bool

	// FailGrantEntitlement makes GrantEntitlement return a storage error.
	FailGrantEntitlement bool
	// FailCredit makes the compensating Credit fail too.
	FailCredit bool
	// DebitResult, when set, overrides DebitIfSufficient's outcome.
	DebitResult *bool
}

// NewWalletRepoStub creates an empty in-memory wallet repository stub.
func NewWalletRepoStub() *WalletRepoStub {
	return &WalletRepoStub{
		wallets:      make(map[models.Subject]*models.Wallet),
		entitlements: make(map[models.Subject]map[string]bool),
	}
}

// Seed installs a wallet directly, bypassing the Create path.
func (s *WalletRepoStub) Seed(subject models.Subject, balance int64, lastAwardedAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[subject] = &models.Wallet{
		UserID:        subject.ID,
		UserType:      subject.Type,
		Balance:       balance,
		LastAwardedAt: lastAwardedAt,
	}
}

// Balance returns the stored balance for assertions.
func (s *WalletRepoStub) Balance(subject models.Subject) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[subject]; ok {
		return w.Balance
	}
	return 0
}

func (s *WalletRepoStub) Get(_ context.Context, subject models.Subject) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[subject]
	if !ok {
		return nil, models.NewNotFoundError("Wallet", subject.ID)
	}
	copied := *w
	return &copied, nil
}

func (s *WalletRepoStub) Create(_ context.Context, wallet *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject := models.Subject{ID: wallet.UserID, Type: wallet.UserType}
	if _, exists := s.wallets[subject]; exists {
		return repository.ErrWalletExists
	}
	copied := *wallet
	s.wallets[subject] = &copied
	return nil
}

func (s *WalletRepoStub) CreditIfElapsed(_ context.Context, subject models.Subject, amount int64, now time.Time, minElapsed time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[subject]
	if !ok {
		return false, nil
	}
	if w.LastAwardedAt != nil && now.Sub(*w.LastAwardedAt) < minElapsed {
		return false, nil
	}
	w.Balance += amount
	awarded := now
	w.LastAwardedAt = &awarded
	return true, nil
}

func (s *WalletRepoStub) DebitIfSufficient(_ context.Context, subject models.Subject, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DebitResult != nil {
		if *s.DebitResult {
			if w, ok := s.wallets[subject]; ok {
				w.Balance -= amount
			}
		}
		return *s.DebitResult, nil
	}
	w, ok := s.wallets[subject]
	if !ok || w.Balance < amount {
		return false, nil
	}
	w.Balance -= amount
	return true, nil
}

func (s *WalletRepoStub) Credit(_ context.Context, subject models.Subject, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCredit {
		return models.NewInternalError(errors.New("credit failed"))
	}
	if w, ok := s.wallets[subject]; ok {
		w.Balance += amount
	}
	return nil
}

func (s *WalletRepoStub) HasEntitlement(_ context.Context, subject models.Subject, feature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entitlements[subject][feature], nil
}

func (s *WalletRepoStub) GrantEntitlement(_ context.Context, subject models.Subject, feature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGrantEntitlement {
		return models.NewInternalError(errors.New("entitlement write failed"))
	}
	if s.entitlements[subject][feature] {
		return repository.ErrEntitlementExists
	}
	if s.entitlements[subject] == nil {
		s.entitlements[subject] = make(map[string]bool)
	}
	s.entitlements[subject][feature] = true
	return nil
}

func (s *WalletRepoStub) ListEntitlements(_ context.Context, subject models.Subject) ([]models.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Entitlement
	for feature, owned := range s.entitlements[subject] {
		if owned {
			out = append(out, models.Entitlement{
				SubjectType: subject.Type,
				SubjectID:   subject.ID,
				Feature:     feature,
			})
		}
	}
	return out, nil
}

var _ repository.WalletRepository = (*WalletRepoStub)(nil)
