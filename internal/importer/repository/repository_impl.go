package repository

import (
	"context"

	"github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/smallbiznis/receivables/pkg/db/option"
	"github.com/smallbiznis/receivables/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, batch *domain.ImportBatch) error {
	return repository.ProvideStore[domain.ImportBatch](db).Create(ctx, batch)
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]*domain.ImportBatch, error) {
	return repository.ProvideStore[domain.ImportBatch](db).Find(ctx, nil,
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", nil)),
		option.WithLimit(limit),
	)
}
