package server

import (
	"fmt"
	"net/http"
	"testing"

	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerErrorMapping(t *testing.T) {
	status, payload := mapError(fmt.Errorf("edit invoice: %w", receivabledomain.ErrReceiptsBelowPayments))
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "total_receipts", payload.Errors[0].Field)
	assert.Equal(t, "invalid_amount", payload.Errors[0].Code)

	status, payload = mapError(receivabledomain.ErrInvalidAmount)
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "amount", payload.Errors[0].Field)

	status, payload = mapError(receivabledomain.ErrVersionConflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", payload.Type)
}
