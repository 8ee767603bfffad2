package normalizer

import (
	"strings"
	"unicode"
)

// Field is a logical invoice column.
type Field string

const (
	FieldInvoiceNumber  Field = "invoice_number"
	FieldCustomerCode   Field = "customer_code"
	FieldCustomerName   Field = "customer_name"
	FieldAmount         Field = "amount"
	FieldNetAmount      Field = "net_amount"
	FieldTaxAmount      Field = "tax_amount"
	FieldDocumentDate   Field = "document_date"
	FieldDueDate        Field = "due_date"
	FieldInvoiceType    Field = "invoice_type"
	FieldReceivedAmount Field = "received_amount"
	FieldRemarks        Field = "remarks"
)

// Label is the name shown in row errors and on the template header.
func (f Field) Label() string {
	switch f {
	case FieldInvoiceNumber:
		return "Invoice Number"
	case FieldCustomerCode:
		return "Customer Code"
	case FieldCustomerName:
		return "Customer Name"
	case FieldAmount:
		return "Amount"
	case FieldNetAmount:
		return "Net Amount"
	case FieldTaxAmount:
		return "Tax Amount"
	case FieldDocumentDate:
		return "Document Date"
	case FieldDueDate:
		return "Due Date"
	case FieldInvoiceType:
		return "Invoice Type"
	case FieldReceivedAmount:
		return "Received Amount"
	case FieldRemarks:
		return "Remarks"
	}
	return string(f)
}

// TemplateFields is the canonical column order of the import template.
var TemplateFields = []Field{
	FieldInvoiceNumber,
	FieldCustomerCode,
	FieldCustomerName,
	FieldInvoiceType,
	FieldDocumentDate,
	FieldDueDate,
	FieldAmount,
	FieldNetAmount,
	FieldTaxAmount,
	FieldReceivedAmount,
	FieldRemarks,
}

var aliases = map[Field][]string{
	FieldInvoiceNumber: {
		"invoice number", "invoice no", "invoice no.", "invoice #", "invoice", "inv no",
		"document number", "document no", "doc no", "bill no", "bill number",
	},
	FieldCustomerCode: {
		"customer code", "bp code", "bp", "business partner code", "customer id",
		"party code", "client code", "cust code",
	},
	FieldCustomerName: {
		"customer name", "customer", "bp name", "business partner name", "party name",
		"client name", "client",
	},
	FieldAmount: {
		"amount", "total amount", "invoice amount", "gross amount", "total", "document amount",
		"invoice value",
	},
	FieldNetAmount: {
		"net amount", "net", "taxable amount", "taxable value", "base amount", "amount before tax",
	},
	FieldTaxAmount: {
		"tax amount", "tax", "gst", "gst amount", "vat", "vat amount",
	},
	FieldDocumentDate: {
		"document date", "invoice date", "doc date", "date", "bill date", "posting date",
	},
	FieldDueDate: {
		"due date", "payment due date", "due on", "net due date",
	},
	FieldInvoiceType: {
		"invoice type", "document type", "doc type", "type",
	},
	FieldReceivedAmount: {
		"received amount", "amount received", "receipts", "total receipts", "paid amount",
		"collected amount",
	},
	FieldRemarks: {
		"remarks", "remark", "notes", "note", "comments",
	},
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]Field {
	index := make(map[string]Field)
	for field, names := range aliases {
		index[headerKey(string(field))] = field
		for _, name := range names {
			index[headerKey(name)] = field
		}
	}
	return index
}

// headerKey folds a header to lowercase letters and digits only.
func headerKey(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(header) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve maps a sheet header to its logical field.
func Resolve(header string) (Field, bool) {
	field, ok := aliasIndex[headerKey(header)]
	return field, ok
}
