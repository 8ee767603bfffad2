package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStatement(t *testing.T) {
	doc, err := New().GenerateStatement(context.Background(), StatementData{
		GeneratedOn:   "2024-06-01",
		InvoiceNumber: "INV-001",
		CustomerCode:  "C001",
		CustomerName:  "Acme Traders",
		TotalAmount:   "1000.00",
		Receipts:      "400.00",
		Adjustments:   "0.00",
		TotalReceipts: "400.00",
		Balance:       "600.00",
		Payments: []StatementPayment{
			{PaidOn: "2024-05-20", Mode: "BANK_TRANSFER", Reference: "****1234", Amount: "400.00"},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestGenerateStatementRequiresInvoice(t *testing.T) {
	_, err := New().GenerateStatement(context.Background(), StatementData{})
	assert.ErrorIs(t, err, ErrEmptyStatement)
}
