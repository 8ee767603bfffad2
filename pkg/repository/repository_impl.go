package repository

import (
	"context"

	"github.com/smallbiznis/receivables/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db *gorm.DB
}

// ProvideStore binds a store to db, which may be a transaction.
func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return store[T]{db: db}
}

func (s store[T]) query(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	q := s.db.WithContext(ctx).Model(new(T))
	if filter != nil {
		q = q.Where(filter)
	}
	for _, opt := range opts {
		q = opt.Apply(q)
	}
	return q
}

func (s store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	if err := s.query(ctx, filter, opts).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}
