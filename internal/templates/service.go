// Package templates serves the product template catalog used to prefill quote line items.
package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/redis"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// Repository lists stored templates.
type Repository interface {
	ListActive(ctx context.Context, companyID uuid.UUID) ([]models.ProductTemplate, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListActive(ctx context.Context, companyID uuid.UUID) ([]models.ProductTemplate, error) {
	var rows []models.ProductTemplate
	if err := r.db.WithContext(ctx).
		Where("company_id = ? AND is_active = ?", companyID, true).
		Order("name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Service returns the active catalog of a company.
type Service interface {
	ListActive(ctx context.Context, companyID uuid.UUID) ([]types.ProductTemplate, error)
}

type service struct {
	repo  Repository
	cache redis.Cache
	ttl   time.Duration
	logg  *logger.Logger
	group singleflight.Group
}

// NewService wires the catalog. cache may be nil.
func NewService(repo Repository, cache redis.Cache, ttl time.Duration, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("template repository required")
	}
	return &service{repo: repo, cache: cache, ttl: ttl, logg: logg}, nil
}

func (s *service) ListActive(ctx context.Context, companyID uuid.UUID) ([]types.ProductTemplate, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	key := redis.TemplateCacheKey(companyID.String())
	if s.cache != nil {
		var cached []types.ProductTemplate
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "template cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		rows, err := s.repo.ListActive(ctx, companyID)
		if err != nil {
			return nil, err
		}
		out := make([]types.ProductTemplate, 0, len(rows))
		for _, row := range rows {
			out = append(out, types.ProductTemplate{
				ID:          row.ID.String(),
				CompanyID:   row.CompanyID.String(),
				Name:        row.Name,
				Description: row.Description,
				UnitPrice:   row.UnitPrice,
			})
		}
		if s.cache != nil {
			if err := s.cache.SetJSON(ctx, key, out, s.ttl); err != nil && s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "template cache write failed")
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list product templates")
	}
	templates, _ := v.([]types.ProductTemplate)
	return append([]types.ProductTemplate(nil), templates...), nil
}
