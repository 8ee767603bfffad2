// Package normalizer turns loosely typed spreadsheet rows into invoice upsert
// payloads.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/internal/importer/domain"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
)

const DefaultTermsDays = 30

type Normalizer struct {
	// TermsDays is added to the document date when a row has no due date.
	TermsDays int
}

func New(termsDays int) Normalizer {
	if termsDays < 0 {
		termsDays = DefaultTermsDays
	}
	return Normalizer{TermsDays: termsDays}
}

// Values indexes a row by logical field. The first non-blank cell of a field wins.
func Values(row domain.Row) map[Field]any {
	values := make(map[Field]any, len(row.Cells))
	for _, cell := range row.Cells {
		field, ok := Resolve(cell.Header)
		if !ok || isBlank(cell.Value) {
			continue
		}
		if _, seen := values[field]; seen {
			continue
		}
		values[field] = cell.Value
	}
	return values
}

// IsBlank reports whether every cell of the row is empty.
func IsBlank(row domain.Row) bool {
	for _, cell := range row.Cells {
		if !isBlank(cell.Value) {
			return false
		}
	}
	return true
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return Text(s) == ""
	}
	return false
}

// Normalize validates one row. All field errors of the row are returned
// together; the request is only meaningful when no errors are returned.
func (n Normalizer) Normalize(row domain.Row) (receivabledomain.CreateInvoiceRequest, []domain.RowError) {
	values := Values(row)
	var (
		req  receivabledomain.CreateInvoiceRequest
		errs []domain.RowError
	)
	fail := func(field Field, format string, args ...any) {
		errs = append(errs, domain.RowError{
			Row:     row.Number,
			Field:   field.Label(),
			Message: fmt.Sprintf(format, args...),
		})
	}

	req.InvoiceNumber = Text(values[FieldInvoiceNumber])
	if req.InvoiceNumber == "" {
		fail(FieldInvoiceNumber, "Missing invoice number")
	}
	req.CustomerCode = Text(values[FieldCustomerCode])
	if req.CustomerCode == "" {
		fail(FieldCustomerCode, "Missing customer code (BP Code)")
	}
	req.CustomerName = Text(values[FieldCustomerName])
	if req.CustomerName == "" {
		fail(FieldCustomerName, "Missing customer name")
	}
	req.InvoiceType = Text(values[FieldInvoiceType])
	req.Remarks = Text(values[FieldRemarks])

	total, totalOK := n.amount(values, FieldAmount, true, fail)
	if totalOK && total.IsNegative() {
		fail(FieldAmount, "Amount cannot be negative")
		totalOK = false
	}
	req.TotalAmount = total

	net, netOK := n.amount(values, FieldNetAmount, true, fail)
	req.NetAmount = net

	if tax, ok := n.amount(values, FieldTaxAmount, false, fail); ok {
		req.TaxAmount = tax
	} else if _, present := values[FieldTaxAmount]; !present && totalOK && netOK {
		req.TaxAmount = total.Sub(net)
	}

	if received, ok := n.amount(values, FieldReceivedAmount, false, fail); ok {
		if received.IsNegative() {
			fail(FieldReceivedAmount, "Received amount cannot be negative")
		} else {
			req.OpeningReceipts = &received
		}
	}

	docDate, docOK := n.date(values, FieldDocumentDate, true, fail)
	req.InvoiceDate = docDate

	if due, ok := n.date(values, FieldDueDate, false, fail); ok {
		req.DueDate = &due
	} else if _, present := values[FieldDueDate]; !present && docOK {
		due := docDate.AddDate(0, 0, n.TermsDays)
		req.DueDate = &due
	}

	return req, errs
}

func (n Normalizer) amount(values map[Field]any, field Field, required bool, fail func(Field, string, ...any)) (decimal.Decimal, bool) {
	raw, present := values[field]
	if !present {
		if required {
			fail(field, "Missing %s", lowerLabel(field))
		}
		return decimal.Zero, false
	}
	amount, err := ParseAmount(raw)
	if err != nil {
		if errors.Is(err, errEmpty) && !required {
			return decimal.Zero, false
		}
		fail(field, "Invalid %s %q", lowerLabel(field), Text(raw))
		return decimal.Zero, false
	}
	if !receivabledomain.ValidMoney(amount) {
		fail(field, "Invalid %s %q: use at most %d decimal places", lowerLabel(field), Text(raw), receivabledomain.MoneyScale)
		return decimal.Zero, false
	}
	return amount, true
}

func (n Normalizer) date(values map[Field]any, field Field, required bool, fail func(Field, string, ...any)) (time.Time, bool) {
	raw, present := values[field]
	if !present {
		if required {
			fail(field, "Missing %s", lowerLabel(field))
		}
		return time.Time{}, false
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		fail(field, "Invalid %s %q, expected DD/MM/YYYY or YYYY-MM-DD", lowerLabel(field), Text(raw))
		return time.Time{}, false
	}
	return parsed, true
}

func lowerLabel(field Field) string {
	return strings.ToLower(field.Label())
}
