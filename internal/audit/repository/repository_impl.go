package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/pkg/db/option"
	"github.com/smallbiznis/receivables/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.ActivityLog) error {
	if entry == nil {
		return nil
	}
	return repository.ProvideStore[domain.ActivityLog](db).Create(ctx, entry)
}

// List returns newest first, fetching Limit+1 rows so the caller can tell
// whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.ActivityLog, error) {
	opts := make([]option.QueryOption, 0, 8)
	for column, value := range map[string]string{
		"action":      filter.Action,
		"target_type": filter.TargetType,
		"target_id":   filter.TargetID,
		"actor_id":    filter.ActorID,
	} {
		if value = strings.TrimSpace(value); value != "" {
			opts = append(opts, option.ApplyOperator(option.Condition{Field: column, Operator: option.EQ, Value: value}))
		}
	}
	if filter.StartAt != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: filter.StartAt.UTC()}))
	}
	if filter.EndAt != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LTE, Value: filter.EndAt.UTC()}))
	}
	if c := filter.Cursor; c != nil {
		opts = append(opts, option.Before(c.CreatedAt, c.ID.Int64()))
	}
	opts = append(opts, option.WithSortBy(option.WithQuerySortBy("created_at", "desc", nil)))
	if filter.Limit > 0 {
		opts = append(opts, option.WithLimit(filter.Limit+1))
	}
	return repository.ProvideStore[domain.ActivityLog](db).Find(ctx, nil, opts...)
}
