// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"strings"

	"murmur/internal/cache"
	"murmur/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RestrictionRepository defines persistence operations for restriction records
// and the permanent IP-ban set.
type RestrictionRepository interface {
	Create(ctx context.Context, r *models.Restriction) error
	GetByID(ctx context.Context, id uint) (*models.Restriction, error)
	// ActiveForSubject returns all active=true rows for a subject, newest
	// first. Expiry filtering is the caller's concern: expiry is a read-time
	// computation, never a stored state.
	ActiveForSubject(ctx context.Context, subject models.Subject) ([]models.Restriction, error)
	ListForSubject(ctx context.Context, subject models.Subject, limit, offset int) ([]models.Restriction, error)
	// Deactivate flips active to false on one row. Returns the number of rows
	// touched so callers can distinguish a missing id.
	Deactivate(ctx context.Context, id uint) (int64, error)
	// DeactivateForSubject flips active to false on every currently-active row
	// for the subject.
	DeactivateForSubject(ctx context.Context, subject models.Subject) (int64, error)
	// CreateIPBan inserts an IP ban; banning an already-banned address is a
	// no-op success.
	CreateIPBan(ctx context.Context, ban *models.IPBan) error
	IsIPBanned(ctx context.Context, ip string) (bool, error)
	ListIPBans(ctx context.Context, limit, offset int) ([]models.IPBan, error)
}

type restrictionRepository struct {
	db *gorm.DB
}

// NewRestrictionRepository returns a new RestrictionRepository implementation.
func NewRestrictionRepository(db *gorm.DB) RestrictionRepository {
	return &restrictionRepository{db: db}
}

func (r *restrictionRepository) Create(ctx context.Context, rec *models.Restriction) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *restrictionRepository) GetByID(ctx context.Context, id uint) (*models.Restriction, error) {
	var rec models.Restriction
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Restriction", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &rec, nil
}

func (r *restrictionRepository) ActiveForSubject(ctx context.Context, subject models.Subject) ([]models.Restriction, error) {
	var recs []models.Restriction
	if err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND active = ?", subject.Type, subject.ID, true).
		Order("created_at DESC").
		Find(&recs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return recs, nil
}

func (r *restrictionRepository) ListForSubject(ctx context.Context, subject models.Subject, limit, offset int) ([]models.Restriction, error) {
	var recs []models.Restriction
	if err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.Type, subject.ID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return recs, nil
}

func (r *restrictionRepository) Deactivate(ctx context.Context, id uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Restriction{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *restrictionRepository) DeactivateForSubject(ctx context.Context, subject models.Subject) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Restriction{}).
		Where("subject_type = ? AND subject_id = ? AND active = ?", subject.Type, subject.ID, true).
		Update("active", false)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *restrictionRepository) CreateIPBan(ctx context.Context, ban *models.IPBan) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ban).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidateIPBan(ctx, ban.IPAddress)
	return nil
}

func (r *restrictionRepository) IsIPBanned(ctx context.Context, ip string) (bool, error) {
	var banned bool
	err := cache.Aside(ctx, cache.IPBanKey(ip), &banned, cache.IPBanTTL, func() error {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&models.IPBan{}).
			Where("ip_address = ?", ip).
			Count(&count).Error; err != nil {
			return models.NewInternalError(err)
		}
		banned = count > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return banned, nil
}

func (r *restrictionRepository) ListIPBans(ctx context.Context, limit, offset int) ([]models.IPBan, error) {
	var bans []models.IPBan
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&bans).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return bans, nil
}

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// PostgreSQL unique violation SQLSTATE 23505; sqlite reports
	// "UNIQUE constraint failed".
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}
