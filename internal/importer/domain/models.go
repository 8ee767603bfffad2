// Package domain holds the import batch model and the row contracts shared by
// spreadsheet sources, the normalizer and the import service.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusPartial   BatchStatus = "PARTIAL"
	BatchStatusFailed    BatchStatus = "FAILED"
)

// StatusFor grades a committed batch by how many rows made it into the ledger.
func StatusFor(total, success int) BatchStatus {
	switch {
	case total > 0 && success == total:
		return BatchStatusCompleted
	case success > 0:
		return BatchStatusPartial
	default:
		return BatchStatusFailed
	}
}

// ImportBatch is the write-once summary of one committed upload.
type ImportBatch struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	FileName       string         `gorm:"type:varchar(255);not null" json:"file_name"`
	FileKey        string         `gorm:"type:varchar(255);not null;index" json:"file_key"`
	TotalRows      int            `gorm:"not null;default:0" json:"total_rows"`
	SuccessRows    int            `gorm:"not null;default:0" json:"success_rows"`
	FailedRows     int            `gorm:"not null;default:0" json:"failed_rows"`
	CreatedRows    int            `gorm:"not null;default:0" json:"created_rows"`
	UpdatedRows    int            `gorm:"not null;default:0" json:"updated_rows"`
	Status         BatchStatus    `gorm:"type:varchar(16);not null" json:"status"`
	ErrorLog       datatypes.JSON `gorm:"type:json" json:"error_log,omitempty"`
	ImportedByID   string         `gorm:"type:varchar(128);not null;default:''" json:"imported_by_id,omitempty"`
	ImportedByName string         `gorm:"type:varchar(255);not null;default:''" json:"imported_by_name,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (ImportBatch) TableName() string { return "import_batches" }

// Cell is one header/value pair. Value is a string, a number or a time.Time.
type Cell struct {
	Header string
	Value  any
}

// Row is one spreadsheet line. Number is the 1-based sheet row.
type Row struct {
	Number int
	Cells  []Cell
}

type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Manifest reports the outcome of a preview or a commit.
type Manifest struct {
	BatchID     string      `json:"batch_id,omitempty"`
	FileName    string      `json:"file_name"`
	DryRun      bool        `json:"dry_run"`
	Status      BatchStatus `json:"status,omitempty"`
	TotalRows   int         `json:"total_rows"`
	SuccessRows int         `json:"success_rows"`
	FailedRows  int         `json:"failed_rows"`
	CreatedRows int         `json:"created_rows"`
	UpdatedRows int         `json:"updated_rows"`
	Errors      []RowError  `json:"errors"`
	// Messages are the Errors rendered as "<row n> <Field>: <message>".
	Messages []string `json:"messages"`
}
