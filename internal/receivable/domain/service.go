package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/pkg/db/pagination"
)

// CreateInvoiceRequest carries the facts of a new invoice. It is also the
// upsert payload used by spreadsheet imports.
type CreateInvoiceRequest struct {
	InvoiceNumber   string           `json:"invoice_number"`
	CustomerCode    string           `json:"customer_code"`
	CustomerName    string           `json:"customer_name"`
	InvoiceType     string           `json:"invoice_type"`
	Remarks         string           `json:"remarks"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	NetAmount       decimal.Decimal  `json:"net_amount"`
	TaxAmount       decimal.Decimal  `json:"tax_amount"`
	OpeningReceipts *decimal.Decimal `json:"opening_receipts,omitempty"`
	InvoiceDate     time.Time        `json:"invoice_date"`
	DueDate         *time.Time       `json:"due_date,omitempty"`
}

// EditInvoiceRequest is a partial update. Nil fields are left untouched.
type EditInvoiceRequest struct {
	CustomerCode  *string          `json:"customer_code,omitempty"`
	CustomerName  *string          `json:"customer_name,omitempty"`
	InvoiceType   *string          `json:"invoice_type,omitempty"`
	Remarks       *string          `json:"remarks,omitempty"`
	TotalAmount   *decimal.Decimal `json:"total_amount,omitempty"`
	NetAmount     *decimal.Decimal `json:"net_amount,omitempty"`
	TaxAmount     *decimal.Decimal `json:"tax_amount,omitempty"`
	TotalReceipts *decimal.Decimal `json:"total_receipts,omitempty"`
	InvoiceDate   *time.Time       `json:"invoice_date,omitempty"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
}

type AddPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Mode            string          `json:"mode"`
	ReferenceNumber string          `json:"reference_number"`
	Note            string          `json:"note"`
}

// UpdatePaymentRequest is a partial update of a payment record.
type UpdatePaymentRequest struct {
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	PaidAt          *time.Time       `json:"paid_at,omitempty"`
	Mode            *string          `json:"mode,omitempty"`
	ReferenceNumber *string          `json:"reference_number,omitempty"`
	Note            *string          `json:"note,omitempty"`
}

// PaymentResult returns the affected payment together with the invoice state
// after the mutation committed.
type PaymentResult struct {
	Payment *PaymentRecord `json:"payment,omitempty"`
	Invoice Invoice        `json:"invoice"`
}

// InvoiceDetail is an invoice with live overdue figures and its payment history.
type InvoiceDetail struct {
	Invoice
	AgingBucket string          `json:"aging_bucket"`
	Payments    []PaymentRecord `json:"payments"`
}

type ListInvoicesRequest struct {
	Status      string
	From        *time.Time
	To          *time.Time
	Customer    string
	InvoiceType string
	Risk        string
	OverdueOnly bool
	PageToken   string
	PageSize    int32
}

type ListInvoicesFilter struct {
	Status      InvoiceStatus
	From        *time.Time
	To          *time.Time
	Customer    string
	InvoiceType string
	Risk        RiskClass
	OverdueOnly bool
	// Today anchors OverdueOnly to the ledger's current date.
	Today time.Time
}

type ListInvoicesResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	CreateInvoice(context.Context, CreateInvoiceRequest) (Invoice, error)
	UpsertInvoice(context.Context, CreateInvoiceRequest) (Invoice, bool, error)
	EditInvoice(ctx context.Context, id string, req EditInvoiceRequest) (Invoice, error)
	CancelInvoice(ctx context.Context, id string, reason string) (Invoice, error)
	ReinstateInvoice(ctx context.Context, id string) (Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error

	AddPayment(ctx context.Context, invoiceID string, req AddPaymentRequest) (PaymentResult, error)
	UpdatePayment(ctx context.Context, invoiceID, paymentID string, req UpdatePaymentRequest) (PaymentResult, error)
	DeletePayment(ctx context.Context, invoiceID, paymentID string) (PaymentResult, error)

	GetInvoice(ctx context.Context, id string) (InvoiceDetail, error)
	ListInvoices(context.Context, ListInvoicesRequest) (ListInvoicesResponse, error)
	Statement(ctx context.Context, id string) ([]byte, error)
}

var (
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidInvoice         = errors.New("invalid_invoice")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidPaymentMode     = errors.New("invalid_payment_mode")
	ErrInvalidFilter          = errors.New("invalid_filter")
	ErrInvalidPageToken       = pagination.ErrInvalidToken
	ErrInvoiceNotFound        = errors.New("invoice_not_found")
	ErrPaymentNotFound        = errors.New("payment_not_found")
	ErrPaymentMismatch        = errors.New("payment_invoice_mismatch")
	ErrDuplicateInvoiceNumber = errors.New("duplicate_invoice_number")
	ErrInvoiceCancelled       = errors.New("invoice_cancelled")
	ErrVersionConflict        = errors.New("invoice_version_conflict")

	// ErrReceiptsBelowPayments rejects a receipts total smaller than the
	// payments already recorded against the invoice.
	ErrReceiptsBelowPayments = fmt.Errorf("%w: receipts below recorded payments", ErrInvalidAmount)
)
