package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCustomerData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("invoice_id", "1"),
		attribute.String("customer_name", "Acme"),
		attribute.String("reference_number", "UTR1"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("invoice_id"), attrs[0].Key)
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("save invoice: %w", errors.New(`ERROR: duplicate key value violates "ux_invoices_number"`))
	assert.EqualError(t, SafeError(err), "save invoice")
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New("invoice_not_found")), "invoice_not_found")
}
