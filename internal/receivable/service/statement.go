package service

import (
	"context"
	"strconv"
	"time"

	"github.com/smallbiznis/receivables/internal/audit/masking"
	"github.com/smallbiznis/receivables/internal/providers/pdf"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
)

const statementDateLayout = "02 Jan 2006"

// Statement renders a statement of account for one invoice as PDF.
func (s *Service) Statement(ctx context.Context, id string) ([]byte, error) {
	detail, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.pdf.GenerateStatement(ctx, s.statementData(detail))
}

func (s *Service) statementData(detail domain.InvoiceDetail) pdf.StatementData {
	inv := detail.Invoice
	data := pdf.StatementData{
		GeneratedOn:   s.clock.Now().In(s.loc).Format(statementDateLayout),
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceType:   inv.InvoiceType,
		CustomerCode:  inv.CustomerCode,
		CustomerName:  inv.CustomerName,
		InvoiceDate:   formatDate(inv.InvoiceDate),
		DueDate:       formatDate(inv.DueDate),
		Status:        string(inv.Status),
		RiskClass:     string(inv.RiskClass),
		DueByDays:     strconv.Itoa(inv.DueByDays),
		AgingBucket:   detail.AgingBucket,
		TotalAmount:   inv.TotalAmount.StringFixed(2),
		Receipts:      inv.Receipts.StringFixed(2),
		Adjustments:   inv.Adjustments.StringFixed(2),
		TotalReceipts: inv.TotalReceipts.StringFixed(2),
		Balance:       inv.Balance.StringFixed(2),
	}

	if inv.OpeningReceipts.IsPositive() {
		data.Payments = append(data.Payments, pdf.StatementPayment{
			PaidOn:    formatDate(inv.InvoiceDate),
			Mode:      "OPENING",
			Reference: "-",
			Amount:    inv.OpeningReceipts.StringFixed(2),
		})
	}
	for _, p := range detail.Payments {
		reference := "-"
		if p.ReferenceNumber != "" {
			reference = masking.MaskSecret(p.ReferenceNumber)
		}
		data.Payments = append(data.Payments, pdf.StatementPayment{
			PaidOn:    p.PaidAt.In(s.loc).Format(statementDateLayout),
			Mode:      string(p.Mode),
			Reference: reference,
			Amount:    p.Amount.StringFixed(2),
		})
	}
	return data
}

// formatDate prints a stored date-only value by its UTC calendar date.
func formatDate(t time.Time) string {
	return t.UTC().Format(statementDateLayout)
}
