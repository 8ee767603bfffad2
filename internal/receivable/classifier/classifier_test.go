package classifier

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestClassifyRiskBoundaries(t *testing.T) {
	cases := []struct {
		days int
		want domain.RiskClass
	}{
		{-5, domain.RiskLow},
		{0, domain.RiskLow},
		{1, domain.RiskMedium},
		{30, domain.RiskMedium},
		{31, domain.RiskHigh},
		{90, domain.RiskHigh},
		{91, domain.RiskCritical},
		{365, domain.RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyRisk(tc.days), "days=%d", tc.days)
	}
}

func TestRiskTiersOverride(t *testing.T) {
	tiers := RiskTiers{MediumFrom: 8, HighFrom: 15, CriticalFrom: 45}

	assert.Equal(t, domain.RiskLow, tiers.Classify(7))
	assert.Equal(t, domain.RiskMedium, tiers.Classify(8))
	assert.Equal(t, domain.RiskHigh, tiers.Classify(44))
	assert.Equal(t, domain.RiskCritical, tiers.Classify(45))
}

func TestClassifyStatusPriority(t *testing.T) {
	assert.Equal(t, domain.InvoiceStatusPaid, ClassifyStatus(d("0"), d("1000"), 40, ""))
	assert.Equal(t, domain.InvoiceStatusPaid, ClassifyStatus(d("-10"), d("1010"), 0, ""))
	assert.Equal(t, domain.InvoiceStatusPartial, ClassifyStatus(d("600"), d("400"), 40, ""))
	assert.Equal(t, domain.InvoiceStatusOverdue, ClassifyStatus(d("1000"), d("0"), 1, ""))
	assert.Equal(t, domain.InvoiceStatusPending, ClassifyStatus(d("1000"), d("0"), 0, ""))
	assert.Equal(t, domain.InvoiceStatusPending, ClassifyStatus(d("1000"), d("0"), -3, domain.InvoiceStatusOverdue))
	assert.Equal(t, domain.InvoiceStatusCancelled, ClassifyStatus(d("0"), d("1000"), 0, domain.InvoiceStatusCancelled))
}

func TestPartitionPayments(t *testing.T) {
	payments := []domain.PaymentRecord{
		{Amount: d("400"), Mode: domain.PaymentModeBankTransfer},
		{Amount: d("100.50"), Mode: domain.PaymentModeCash},
		{Amount: d("50"), Mode: domain.PaymentModeAdjustment},
		{Amount: d("25.25"), Mode: domain.PaymentModeCreditNote},
	}

	receipts, adjustments := PartitionPayments(payments)
	assert.True(t, d("500.50").Equal(receipts), receipts.String())
	assert.True(t, d("75.25").Equal(adjustments), adjustments.String())

	receipts, adjustments = PartitionPayments(nil)
	assert.True(t, receipts.IsZero())
	assert.True(t, adjustments.IsZero())
}

func TestDerive(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("partial payment", func(t *testing.T) {
		got := Derive(Inputs{
			TotalAmount: d("1000"),
			Receipts:    d("400"),
			Adjustments: decimal.Zero,
			DueDate:     now.AddDate(0, 0, 10),
		}, now)
		assert.True(t, d("600").Equal(got.Balance))
		assert.True(t, d("400").Equal(got.TotalReceipts))
		assert.Equal(t, -10, got.DueByDays)
		assert.Equal(t, domain.InvoiceStatusPartial, got.Status)
		assert.Equal(t, domain.RiskLow, got.Risk)
	})

	t.Run("overdue unpaid", func(t *testing.T) {
		got := Derive(Inputs{
			TotalAmount: d("1000"),
			DueDate:     now.AddDate(0, 0, -45),
		}, now)
		assert.Equal(t, 45, got.DueByDays)
		assert.Equal(t, domain.InvoiceStatusOverdue, got.Status)
		assert.Equal(t, domain.RiskHigh, got.Risk)
	})

	t.Run("settled with adjustment grades low", func(t *testing.T) {
		got := Derive(Inputs{
			TotalAmount: d("1000"),
			Receipts:    d("900"),
			Adjustments: d("100"),
			DueDate:     now.AddDate(0, 0, -120),
		}, now)
		assert.True(t, got.Balance.IsZero())
		assert.Equal(t, domain.InvoiceStatusPaid, got.Status)
		assert.Equal(t, domain.RiskLow, got.Risk)
	})

	t.Run("cancelled stays cancelled", func(t *testing.T) {
		got := Derive(Inputs{
			TotalAmount: d("1000"),
			DueDate:     now.AddDate(0, 0, -120),
			Existing:    domain.InvoiceStatusCancelled,
		}, now)
		assert.Equal(t, domain.InvoiceStatusCancelled, got.Status)
		assert.Equal(t, domain.RiskLow, got.Risk)
	})
}

func TestDerivedDiffers(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	inv := domain.Invoice{
		TotalAmount: d("1000"),
		Receipts:    d("400"),
		Adjustments: decimal.Zero,
		DueDate:     now.AddDate(0, 0, -5),
	}
	derived := Derive(InputsOf(inv), now)
	assert.True(t, derived.Differs(inv))

	derived.Apply(&inv)
	assert.False(t, derived.Differs(inv))

	// 600.00 and 600 compare equal.
	inv.Balance = d("600.00")
	assert.False(t, derived.Differs(inv))
}

func TestFromPolicy(t *testing.T) {
	policy := config.DefaultLedgerPolicy()
	policy.Risk = config.RiskThresholds{MediumFrom: 5, HighFrom: 10, CriticalFrom: 20}

	c := FromPolicy(policy, nil)
	assert.Equal(t, time.UTC, c.Location)
	assert.Equal(t, domain.RiskLow, c.Tiers.Classify(4))
	assert.Equal(t, domain.RiskCritical, c.Tiers.Classify(20))

	buckets := Buckets(policy)
	assert.Len(t, buckets, len(policy.AgingBuckets))
	assert.Equal(t, "current", buckets[0].Label)
}
