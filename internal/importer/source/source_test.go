package source

import (
	"bytes"
	"strings"
	"testing"

	"github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffInvoice No,BP Code,Amount\n,,\nINV-1, C-1 ,\"1,200.00\"\nINV-2,C-2\n"

	rows, err := Read("upload.CSV", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, domain.Row{Number: 3, Cells: []domain.Cell{
		{Header: "Invoice No", Value: "INV-1"},
		{Header: "BP Code", Value: "C-1 "},
		{Header: "Amount", Value: "1,200.00"},
	}}, rows[1])
	assert.Equal(t, "", rows[2].Cells[2].Value)
}

func TestReadRejectsUnknownExtension(t *testing.T) {
	_, err := Read("upload.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestReadEmptyFile(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("\n,,\n"))
	assert.ErrorIs(t, err, domain.ErrEmptyFile)
}

func TestXLSXRoundTrip(t *testing.T) {
	data, err := WriteXLSX("Invoices", []string{"Invoice Number", "Amount", "Document Date"}, [][]any{
		{"INV-9", 1500.5, 45356},
	})
	require.NoError(t, err)

	rows, err := Read("template.xlsx", bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, []domain.Cell{
		{Header: "Invoice Number", Value: "INV-9"},
		{Header: "Amount", Value: "1500.5"},
		{Header: "Document Date", Value: "45356"},
	}, rows[0].Cells)
}
