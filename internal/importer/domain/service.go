package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Service interface {
	Preview(ctx context.Context, fileName string, rows []Row) (Manifest, error)
	Commit(ctx context.Context, fileName string, rows []Row) (Manifest, error)
	Template(ctx context.Context) ([]byte, error)
	ListBatches(ctx context.Context, limit int) ([]ImportBatch, error)
}

var (
	ErrEmptyFile         = errors.New("empty_file")
	ErrUnsupportedFormat = errors.New("unsupported_file_format")
	ErrMissingHeader     = errors.New("missing_header_row")
	ErrFileTooLarge      = errors.New("file_too_large")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *ImportBatch) error
	ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]*ImportBatch, error)
}
