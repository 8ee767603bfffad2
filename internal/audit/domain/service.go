package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/receivables/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListActivityRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListActivityResponse struct {
	pagination.PageInfo
	Activities []ActivityLog `json:"activities"`
}

// Recorder accepts activity events after a ledger change has committed.
// Recording never fails the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type Service interface {
	Recorder
	// Write persists an event synchronously.
	Write(ctx context.Context, event Event) error
	// Flush blocks until every event recorded before the call has been written.
	Flush(ctx context.Context) error
	List(ctx context.Context, req ListActivityRequest) (ListActivityResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *ActivityLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*ActivityLog, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
