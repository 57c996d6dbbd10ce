package repository

import (
	"context"
	"errors"
	"time"

	"murmur/internal/cache"
	"murmur/internal/models"

	"gorm.io/gorm"
)

// ErrWalletExists is returned by Create when a wallet for the subject already
// exists; callers racing on first-grant creation retry with a credit instead.
var ErrWalletExists = errors.New("wallet already exists")

// ErrEntitlementExists is returned by GrantEntitlement when the unique
// (subject, feature) row was inserted concurrently.
var ErrEntitlementExists = errors.New("entitlement already granted")

// WalletRepository defines persistence operations for token balances and
// entitlement flags. The store offers per-statement atomicity only, so every
// balance mutation is expressed as a single conditional UPDATE.
type WalletRepository interface {
	// Get returns the wallet for a subject, or a not-found error when none exists.
	Get(ctx context.Context, subject models.Subject) (*models.Wallet, error)
	Create(ctx context.Context, wallet *models.Wallet) error
	// CreditIfElapsed adds amount iff last_awarded_at is null or at least
	// minElapsed before now, stamping last_awarded_at = now. Reports whether
	// the credit happened.
	CreditIfElapsed(ctx context.Context, subject models.Subject, amount int64, now time.Time, minElapsed time.Duration) (bool, error)
	// DebitIfSufficient subtracts amount iff balance >= amount. Reports
	// whether the debit happened.
	DebitIfSufficient(ctx context.Context, subject models.Subject, amount int64) (bool, error)
	// Credit unconditionally adds amount. Used as the compensating write when
	// a step after a debit fails.
	Credit(ctx context.Context, subject models.Subject, amount int64) error
	HasEntitlement(ctx context.Context, subject models.Subject, feature string) (bool, error)
	GrantEntitlement(ctx context.Context, subject models.Subject, feature string) error
	ListEntitlements(ctx context.Context, subject models.Subject) ([]models.Entitlement, error)
}

type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository returns a new WalletRepository implementation.
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Get(ctx context.Context, subject models.Subject) (*models.Wallet, error) {
	var wallet models.Wallet
	err := cache.Aside(ctx, cache.WalletKey(string(subject.Type), subject.ID), &wallet, cache.WalletTTL, func() error {
		if err := r.db.WithContext(ctx).
			Where("user_id = ? AND user_type = ?", subject.ID, subject.Type).
			First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Wallet", subject.ID)
			}
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrWalletExists
		}
		return models.NewInternalError(err)
	}
	cache.InvalidateWallet(ctx, string(wallet.UserType), wallet.UserID)
	return nil
}

func (r *walletRepository) CreditIfElapsed(ctx context.Context, subject models.Subject, amount int64, now time.Time, minElapsed time.Duration) (bool, error) {
	// last_awarded_at <= now-minElapsed is exactly elapsed >= minElapsed; the
	// boundary is inclusive by contract.
	cutoff := now.Add(-minElapsed)
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND user_type = ?", subject.ID, subject.Type).
		Where("last_awarded_at IS NULL OR last_awarded_at <= ?", cutoff).
		Updates(map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", amount),
			"last_awarded_at": now,
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	if res.RowsAffected > 0 {
		cache.InvalidateWallet(ctx, string(subject.Type), subject.ID)
	}
	return res.RowsAffected > 0, nil
}

func (r *walletRepository) DebitIfSufficient(ctx context.Context, subject models.Subject, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND user_type = ? AND balance >= ?", subject.ID, subject.Type, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	if res.RowsAffected > 0 {
		cache.InvalidateWallet(ctx, string(subject.Type), subject.ID)
	}
	return res.RowsAffected > 0, nil
}

func (r *walletRepository) Credit(ctx context.Context, subject models.Subject, amount int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND user_type = ?", subject.ID, subject.Type).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	cache.InvalidateWallet(ctx, string(subject.Type), subject.ID)
	return nil
}

func (r *walletRepository) HasEntitlement(ctx context.Context, subject models.Subject, feature string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Entitlement{}).
		Where("subject_type = ? AND subject_id = ? AND feature = ?", subject.Type, subject.ID, feature).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *walletRepository) GrantEntitlement(ctx context.Context, subject models.Subject, feature string) error {
	entitlement := models.Entitlement{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Feature:     feature,
	}
	if err := r.db.WithContext(ctx).Create(&entitlement).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntitlementExists
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *walletRepository) ListEntitlements(ctx context.Context, subject models.Subject) ([]models.Entitlement, error) {
	var entitlements []models.Entitlement
	if err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.Type, subject.ID).
		Order("created_at ASC").
		Find(&entitlements).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return entitlements, nil
}
