package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/models"
)

// LinkRepository est une interface qui définit les méthodes d'accès aux données
// des liens. Lookups return (nil, nil) when nothing matches.
type LinkRepository interface {
	CreateOrFind(ctx context.Context, link *models.Link) (*models.Link, bool, error)
	FindForResolution(ctx context.Context, id uint64) (*models.LinkProjection, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Link, error)
	ListActive(ctx context.Context) ([]models.Link, error)
}

// projectionColumns are the columns read on the redirect path.
var projectionColumns = []string{
	"id", "salt",
	"ios_deep_link", "ios_fallback_url",
	"android_deep_link", "android_fallback_url",
	"default_fallback_url", "webhook_url",
	"og_title", "og_description", "og_image_url",
	"is_active",
}

// GormLinkRepository est l'implémentation de LinkRepository utilisant GORM.
type GormLinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository crée et retourne une nouvelle instance de GormLinkRepository.
func NewLinkRepository(db *gorm.DB) *GormLinkRepository {
	return &GormLinkRepository{db: db}
}

// CreateOrFind inserts link unless a live row with the same fingerprint
// exists, in which case that row is returned with created=false.
//
// The insert is a single INSERT ... ON CONFLICT (fingerprint) WHERE deleted_at
// IS NULL DO NOTHING, so concurrent callers (in this process or any other)
// converge on one row without locking.
func (r *GormLinkRepository) CreateOrFind(ctx context.Context, link *models.Link) (*models.Link, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "fingerprint"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "deleted_at IS NULL"},
			}},
			DoNothing: true,
		}).
		Create(link)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to insert link: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return link, true, nil
	}

	existing, err := r.FindByFingerprint(ctx, link.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, apperrors.ConsistencyError{Fingerprint: link.Fingerprint}
	}
	return existing, false, nil
}

// FindByFingerprint returns the live link carrying fingerprint, if any.
func (r *GormLinkRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Link, error) {
	var link models.Link
	err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find link by fingerprint %s: %w", fingerprint, err)
	}
	return &link, nil
}

// FindForResolution loads the redirect projection of an active, live link.
// Ids above math.MaxInt64 cannot be stored, so they are simply not found.
func (r *GormLinkRepository) FindForResolution(ctx context.Context, id uint64) (*models.LinkProjection, error) {
	if id > math.MaxInt64 {
		return nil, nil
	}
	var proj models.LinkProjection
	result := r.db.WithContext(ctx).
		Model(&models.Link{}).
		Select(projectionColumns).
		Where("id = ? AND is_active = ?", id, true).
		Limit(1).
		Find(&proj)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find link %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &proj, nil
}

// ListActive returns every active, live link.
func (r *GormLinkRepository) ListActive(ctx context.Context) ([]models.Link, error) {
	var links []models.Link
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve active links: %w", err)
	}
	return links, nil
}
