// Package classifier derives invoice balance, status and risk from ledger facts.
// Every write path and the reconciliation sweep go through Derive so the rules
// live in one place.
package classifier

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/internal/calendar"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
)

// RiskTiers are the first overdue day of each risk class above LOW.
type RiskTiers struct {
	MediumFrom   int
	HighFrom     int
	CriticalFrom int
}

func DefaultRiskTiers() RiskTiers {
	return RiskTiers{MediumFrom: 1, HighFrom: 31, CriticalFrom: 91}
}

func (t RiskTiers) Classify(dueByDays int) domain.RiskClass {
	switch {
	case dueByDays >= t.CriticalFrom:
		return domain.RiskCritical
	case dueByDays >= t.HighFrom:
		return domain.RiskHigh
	case dueByDays >= t.MediumFrom:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// ClassifyRisk grades days overdue with the default tiers:
// <=0 LOW, 1..30 MEDIUM, 31..90 HIGH, >90 CRITICAL.
func ClassifyRisk(dueByDays int) domain.RiskClass {
	return DefaultRiskTiers().Classify(dueByDays)
}

// ClassifyStatus applies the status rules in priority order. CANCELLED is an
// administrative override and is never replaced here.
func ClassifyStatus(balance, totalReceipts decimal.Decimal, dueByDays int, existing domain.InvoiceStatus) domain.InvoiceStatus {
	switch {
	case existing == domain.InvoiceStatusCancelled:
		return domain.InvoiceStatusCancelled
	case !balance.IsPositive():
		return domain.InvoiceStatusPaid
	case totalReceipts.IsPositive():
		return domain.InvoiceStatusPartial
	case dueByDays > 0:
		return domain.InvoiceStatusOverdue
	default:
		return domain.InvoiceStatusPending
	}
}

// IsAdjustment reports whether a mode reduces the balance without cash.
func IsAdjustment(mode domain.PaymentMode) bool {
	return mode == domain.PaymentModeAdjustment || mode == domain.PaymentModeCreditNote
}

// PartitionPayments sums payments into receipts and adjustments.
func PartitionPayments(payments []domain.PaymentRecord) (receipts, adjustments decimal.Decimal) {
	receipts = decimal.Zero
	adjustments = decimal.Zero
	for _, p := range payments {
		if IsAdjustment(p.Mode) {
			adjustments = adjustments.Add(p.Amount)
			continue
		}
		receipts = receipts.Add(p.Amount)
	}
	return receipts, adjustments
}

// Inputs are the stored facts a derivation reads.
type Inputs struct {
	TotalAmount decimal.Decimal
	Receipts    decimal.Decimal
	Adjustments decimal.Decimal
	DueDate     time.Time
	Existing    domain.InvoiceStatus
}

// InputsOf reads the derivation inputs from a stored invoice.
func InputsOf(inv domain.Invoice) Inputs {
	return Inputs{
		TotalAmount: inv.TotalAmount,
		Receipts:    inv.Receipts,
		Adjustments: inv.Adjustments,
		DueDate:     inv.DueDate,
		Existing:    inv.Status,
	}
}

type Derived struct {
	TotalReceipts decimal.Decimal
	Balance       decimal.Decimal
	DueByDays     int
	Status        domain.InvoiceStatus
	Risk          domain.RiskClass
}

// Apply writes the derived fields onto inv.
func (d Derived) Apply(inv *domain.Invoice) {
	inv.TotalReceipts = d.TotalReceipts
	inv.Balance = d.Balance
	inv.DueByDays = d.DueByDays
	inv.Status = d.Status
	inv.RiskClass = d.Risk
}

// Differs reports whether inv's stored derived fields disagree with d.
func (d Derived) Differs(inv domain.Invoice) bool {
	return !inv.TotalReceipts.Equal(d.TotalReceipts) ||
		!inv.Balance.Equal(d.Balance) ||
		inv.DueByDays != d.DueByDays ||
		inv.Status != d.Status ||
		inv.RiskClass != d.Risk
}

type Classifier struct {
	Tiers    RiskTiers
	Location *time.Location
}

func New(tiers RiskTiers, loc *time.Location) Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return Classifier{Tiers: tiers, Location: loc}
}

func Default() Classifier {
	return New(DefaultRiskTiers(), time.UTC)
}

// Derive computes totals, days overdue, status and risk as of now.
// Nothing outstanding and cancelled invoices both grade LOW whatever their
// days overdue (recorded as a ledger decision in DESIGN.md).
func (c Classifier) Derive(in Inputs, now time.Time) Derived {
	totalReceipts := in.Receipts.Add(in.Adjustments)
	balance := in.TotalAmount.Sub(totalReceipts)
	dueByDays := calendar.DaysBetween(now, calendar.AsDate(in.DueDate, c.Location), c.Location)
	status := ClassifyStatus(balance, totalReceipts, dueByDays, in.Existing)

	risk := c.Tiers.Classify(dueByDays)
	if !balance.IsPositive() || status == domain.InvoiceStatusCancelled {
		risk = domain.RiskLow
	}

	return Derived{
		TotalReceipts: totalReceipts,
		Balance:       balance,
		DueByDays:     dueByDays,
		Status:        status,
		Risk:          risk,
	}
}

// Derive uses the default tiers in UTC.
func Derive(in Inputs, now time.Time) Derived {
	return Default().Derive(in, now)
}

// FromPolicy builds a classifier from the ledger policy's risk tiers.
func FromPolicy(policy config.LedgerPolicy, loc *time.Location) Classifier {
	return New(RiskTiers{
		MediumFrom:   policy.Risk.MediumFrom,
		HighFrom:     policy.Risk.HighFrom,
		CriticalFrom: policy.Risk.CriticalFrom,
	}, loc)
}

// Buckets converts the policy's aging buckets for calendar.AgingBucket.
func Buckets(policy config.LedgerPolicy) []calendar.Bucket {
	if len(policy.AgingBuckets) == 0 {
		return calendar.DefaultBuckets()
	}
	out := make([]calendar.Bucket, 0, len(policy.AgingBuckets))
	for _, b := range policy.AgingBuckets {
		out = append(out, calendar.Bucket{Label: b.Label, MinDays: b.MinDays, MaxDays: b.MaxDays})
	}
	return out
}
