// Package domain contains persistence models and contracts for the receivables ledger.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every amount column stores.
const MoneyScale = 2

// ValidMoney reports whether d is stored without rounding.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// InvoiceStatus is the derived payment state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusPartial   InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// RiskClass grades collection risk by days overdue.
type RiskClass string

const (
	RiskLow      RiskClass = "LOW"
	RiskMedium   RiskClass = "MEDIUM"
	RiskHigh     RiskClass = "HIGH"
	RiskCritical RiskClass = "CRITICAL"
)

func (r RiskClass) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// PaymentMode identifies how a payment settled part of an invoice.
type PaymentMode string

const (
	PaymentModeCash         PaymentMode = "CASH"
	PaymentModeCheque       PaymentMode = "CHEQUE"
	PaymentModeBankTransfer PaymentMode = "BANK_TRANSFER"
	PaymentModeNEFT         PaymentMode = "NEFT"
	PaymentModeRTGS         PaymentMode = "RTGS"
	PaymentModeUPI          PaymentMode = "UPI"
	PaymentModeCard         PaymentMode = "CARD"
	PaymentModeAdjustment   PaymentMode = "ADJUSTMENT"
	PaymentModeCreditNote   PaymentMode = "CREDIT_NOTE"
)

var paymentModes = []PaymentMode{
	PaymentModeCash,
	PaymentModeCheque,
	PaymentModeBankTransfer,
	PaymentModeNEFT,
	PaymentModeRTGS,
	PaymentModeUPI,
	PaymentModeCard,
	PaymentModeAdjustment,
	PaymentModeCreditNote,
}

// PaymentModes lists every accepted mode.
func PaymentModes() []PaymentMode {
	out := make([]PaymentMode, len(paymentModes))
	copy(out, paymentModes)
	return out
}

// ParsePaymentMode normalizes user input such as "bank transfer" to a known mode.
func ParsePaymentMode(value string) (PaymentMode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, mode := range paymentModes {
		if string(mode) == normalized {
			return mode, nil
		}
	}
	return "", ErrInvalidPaymentMode
}

// Invoice is a receivable with its running totals and derived classification.
type Invoice struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceNumber    string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_invoices_number" json:"invoice_number"`
	CustomerCode     string          `gorm:"type:varchar(64);not null;index" json:"customer_code"`
	CustomerName     string          `gorm:"type:varchar(255);not null" json:"customer_name"`
	InvoiceType      string          `gorm:"type:varchar(64);not null;default:''" json:"invoice_type"`
	Remarks          string          `gorm:"type:text;not null;default:''" json:"remarks,omitempty"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`
	NetAmount        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"net_amount"`
	TaxAmount        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"tax_amount"`
	OpeningReceipts  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"opening_receipts"`
	Receipts         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"receipts"`
	Adjustments      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"adjustments"`
	TotalReceipts    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_receipts"`
	Balance          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	InvoiceDate      time.Time       `gorm:"not null;index" json:"invoice_date"`
	DueDate          time.Time       `gorm:"not null;index" json:"due_date"`
	Status           InvoiceStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	RiskClass        RiskClass       `gorm:"type:varchar(16);not null;index" json:"risk_class"`
	DueByDays        int             `gorm:"not null;default:0" json:"due_by_days"`
	CancelReason     *string         `gorm:"type:text" json:"cancel_reason,omitempty"`
	LastReconciledAt *time.Time      `json:"last_reconciled_at,omitempty"`
	Version          int64           `gorm:"not null;default:1" json:"version"`
	CreatedBy        string          `gorm:"type:varchar(128);not null;default:''" json:"created_by,omitempty"`
	UpdatedBy        string          `gorm:"type:varchar(128);not null;default:''" json:"updated_by,omitempty"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// IsCancelled reports whether the administrative cancel override is set.
func (i Invoice) IsCancelled() bool { return i.Status == InvoiceStatusCancelled }

// PaymentRecord is a single receipt or adjustment applied to an invoice.
type PaymentRecord struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID       snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	PaidAt          time.Time       `gorm:"not null;index" json:"paid_at"`
	Mode            PaymentMode     `gorm:"type:varchar(32);not null" json:"mode"`
	ReferenceNumber string          `gorm:"type:varchar(128);not null;default:''" json:"reference_number,omitempty"`
	Note            string          `gorm:"type:text;not null;default:''" json:"note,omitempty"`
	RecordedByID    string          `gorm:"type:varchar(128);not null;default:''" json:"recorded_by_id,omitempty"`
	RecordedByName  string          `gorm:"type:varchar(255);not null;default:''" json:"recorded_by_name,omitempty"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "invoice_payments" }
