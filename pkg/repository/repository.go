// Package repository provides a generic gorm-backed store for append-mostly
// records such as import batches.
package repository

import (
	"context"

	"github.com/smallbiznis/receivables/pkg/db/option"
)

type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	Create(ctx context.Context, resource *T) error
}
