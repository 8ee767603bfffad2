package pdf

import (
	"context"
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrEmptyStatement = errors.New("empty_statement")

// StatementData is a pre-formatted statement of account for one invoice.
type StatementData struct {
	GeneratedOn   string
	InvoiceNumber string
	InvoiceType   string
	CustomerCode  string
	CustomerName  string
	InvoiceDate   string
	DueDate       string
	Status        string
	RiskClass     string
	DueByDays     string
	AgingBucket   string

	TotalAmount   string
	Receipts      string
	Adjustments   string
	TotalReceipts string
	Balance       string

	Payments []StatementPayment
}

type StatementPayment struct {
	PaidOn    string
	Mode      string
	Reference string
	Amount    string
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) ([]byte, error) {
	if data.InvoiceNumber == "" {
		return nil, ErrEmptyStatement
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Statement of Account", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Generated "+data.GeneratedOn, props.Text{
			Size:  8,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(28,
		col.New(6).Add(
			text.New(data.CustomerName, props.Text{Style: fontstyle.Bold}),
			text.New("Customer code: "+data.CustomerCode, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Invoice number: "+data.InvoiceNumber, props.Text{Align: align.Right}),
			text.New("Type: "+data.InvoiceType, props.Text{Top: 5, Align: align.Right}),
			text.New("Invoice date: "+data.InvoiceDate, props.Text{Top: 10, Align: align.Right}),
			text.New("Due date: "+data.DueDate, props.Text{Top: 15, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(4, "Status: "+data.Status, props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Days overdue: "+data.DueByDays+" ("+data.AgingBucket+")", props.Text{Size: 9}),
		text.NewCol(4, "Risk: "+data.RiskClass, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		text.NewCol(3, "Paid on", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Mode", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	if len(data.Payments) == 0 {
		m.AddRow(8, text.NewCol(12, "No payments recorded.", props.Text{Size: 9, Style: fontstyle.Italic}))
	}
	for _, pay := range data.Payments {
		m.AddRow(8,
			text.NewCol(3, pay.PaidOn, props.Text{Size: 9}),
			text.NewCol(3, pay.Mode, props.Text{Size: 9}),
			text.NewCol(3, pay.Reference, props.Text{Size: 9}),
			text.NewCol(3, pay.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(4, col.New(12))
	totals := []struct {
		label string
		value string
		bold  bool
	}{
		{"Invoice total", data.TotalAmount, false},
		{"Receipts", data.Receipts, false},
		{"Adjustments", data.Adjustments, false},
		{"Total received", data.TotalReceipts, false},
		{"Balance due", data.Balance, true},
	}
	for _, row := range totals {
		style := fontstyle.Normal
		if row.bold {
			style = fontstyle.Bold
		}
		m.AddRow(8,
			col.New(6),
			text.NewCol(3, row.label, props.Text{Size: 9, Style: style}),
			text.NewCol(3, row.value, props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
