package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// ActivityLog is an append-only record of a ledger change.
type ActivityLog struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Action      string            `gorm:"type:varchar(64);not null;index" json:"action"`
	Description string            `gorm:"type:text;not null;default:''" json:"description"`
	ActorType   string            `gorm:"type:varchar(32);not null" json:"actor_type"`
	ActorID     *string           `gorm:"type:varchar(128)" json:"actor_id,omitempty"`
	ActorName   string            `gorm:"type:varchar(255);not null;default:''" json:"actor_name,omitempty"`
	TargetType  string            `gorm:"type:varchar(64);not null;index:idx_activity_target" json:"target_type"`
	TargetID    *string           `gorm:"type:varchar(64);index:idx_activity_target" json:"target_id,omitempty"`
	Before      datatypes.JSONMap `gorm:"column:before_state" json:"before,omitempty"`
	After       datatypes.JSONMap `gorm:"column:after_state" json:"after,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID   *string           `gorm:"type:varchar(64)" json:"request_id,omitempty"`
	IPAddress   *string           `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent   *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (ActivityLog) TableName() string { return "activity_logs" }

// Event is what callers hand to the recorder. Actor and request metadata are
// read from the context at the time of the call.
type Event struct {
	Action      string
	Description string
	TargetType  string
	TargetID    string
	Before      map[string]any
	After       map[string]any
	Metadata    map[string]any
}

type ActivityCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *ActivityCursor
	Limit      int
}
