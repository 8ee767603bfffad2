package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/pkg/db/pagination"
	"gorm.io/gorm"
)

// DerivedUpdate is the sweep's write set, applied only when Version still matches.
type DerivedUpdate struct {
	ID              snowflake.ID
	ExpectedVersion int64
	TotalReceipts   decimal.Decimal
	Balance         decimal.Decimal
	DueByDays       int
	Status          InvoiceStatus
	RiskClass       RiskClass
	ReconciledAt    time.Time
}

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindInvoiceByNumber(ctx context.Context, db *gorm.DB, number string) (*Invoice, error)
	LockInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	LockInvoiceByNumber(ctx context.Context, db *gorm.DB, number string) (*Invoice, error)
	SaveInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ApplyDerived(ctx context.Context, db *gorm.DB, update DerivedUpdate) (bool, error)
	DeleteInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListInvoices(ctx context.Context, db *gorm.DB, filter ListInvoicesFilter, page pagination.Pagination) ([]*Invoice, error)
	ScanInvoices(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*Invoice, error)
	FindInvoicesByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Invoice, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *PaymentRecord) error
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRecord, error)
	UpdatePayment(ctx context.Context, db *gorm.DB, payment *PaymentRecord) error
	DeletePayment(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	DeletePaymentsByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]PaymentRecord, error)
}
