package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/smallbiznis/receivables/pkg/db"
	"github.com/smallbiznis/receivables/pkg/db/option"
	"github.com/smallbiznis/receivables/pkg/db/pagination"
	"gorm.io/gorm"
)

const invoiceColumns = `id, invoice_number, customer_code, customer_name, invoice_type, remarks,
	total_amount, net_amount, tax_amount, opening_receipts, receipts, adjustments,
	total_receipts, balance, invoice_date, due_date, status, risk_class, due_by_days,
	cancel_reason, last_reconciled_at, version, created_by, updated_by, created_at, updated_at`

const paymentColumns = `id, invoice_id, amount, paid_at, mode, reference_number, note,
	recorded_by_id, recorded_by_name, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertInvoice(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.InvoiceNumber,
		inv.CustomerCode,
		inv.CustomerName,
		inv.InvoiceType,
		inv.Remarks,
		inv.TotalAmount,
		inv.NetAmount,
		inv.TaxAmount,
		inv.OpeningReceipts,
		inv.Receipts,
		inv.Adjustments,
		inv.TotalReceipts,
		inv.Balance,
		inv.InvoiceDate,
		inv.DueDate,
		inv.Status,
		inv.RiskClass,
		inv.DueByDays,
		inv.CancelReason,
		inv.LastReconciledAt,
		inv.Version,
		inv.CreatedBy,
		inv.UpdatedBy,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error
}

func (r *repo) FindInvoiceByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findInvoice(ctx, tx, "id = ?", id, false)
}

func (r *repo) FindInvoiceByNumber(ctx context.Context, tx *gorm.DB, number string) (*domain.Invoice, error) {
	return r.findInvoice(ctx, tx, "invoice_number = ?", number, false)
}

func (r *repo) LockInvoice(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findInvoice(ctx, tx, "id = ?", id, true)
}

func (r *repo) LockInvoiceByNumber(ctx context.Context, tx *gorm.DB, number string) (*domain.Invoice, error) {
	return r.findInvoice(ctx, tx, "invoice_number = ?", number, true)
}

func (r *repo) findInvoice(ctx context.Context, tx *gorm.DB, where string, arg any, forUpdate bool) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + where
	if forUpdate && db.SupportsRowLocks(tx) {
		query += ` FOR UPDATE`
	}

	var inv domain.Invoice
	if err := tx.WithContext(ctx).Raw(query, arg).Scan(&inv).Error; err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

// SaveInvoice writes inv over the row at version inv.Version-1.
func (r *repo) SaveInvoice(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET
			customer_code = ?, customer_name = ?, invoice_type = ?, remarks = ?,
			total_amount = ?, net_amount = ?, tax_amount = ?, opening_receipts = ?,
			receipts = ?, adjustments = ?, total_receipts = ?, balance = ?,
			invoice_date = ?, due_date = ?, status = ?, risk_class = ?, due_by_days = ?,
			cancel_reason = ?, version = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		inv.CustomerCode,
		inv.CustomerName,
		inv.InvoiceType,
		inv.Remarks,
		inv.TotalAmount,
		inv.NetAmount,
		inv.TaxAmount,
		inv.OpeningReceipts,
		inv.Receipts,
		inv.Adjustments,
		inv.TotalReceipts,
		inv.Balance,
		inv.InvoiceDate,
		inv.DueDate,
		inv.Status,
		inv.RiskClass,
		inv.DueByDays,
		inv.CancelReason,
		inv.Version,
		inv.UpdatedBy,
		inv.UpdatedAt,
		inv.ID,
		inv.Version-1,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repo) ApplyDerived(ctx context.Context, tx *gorm.DB, u domain.DerivedUpdate) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET
			total_receipts = ?, balance = ?, due_by_days = ?, status = ?, risk_class = ?,
			last_reconciled_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		u.TotalReceipts,
		u.Balance,
		u.DueByDays,
		u.Status,
		u.RiskClass,
		u.ReconciledAt,
		u.ReconciledAt,
		u.ID,
		u.ExpectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) DeleteInvoice(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM invoices WHERE id = ?`, id).Error
}

func (r *repo) ListInvoices(ctx context.Context, tx *gorm.DB, filter domain.ListInvoicesFilter, page pagination.Pagination) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := tx.WithContext(ctx).Model(&domain.Invoice{})

	opts := []option.QueryOption{}
	if filter.Status != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "status", Operator: option.EQ, Value: filter.Status}))
	}
	if filter.Risk != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "risk_class", Operator: option.EQ, Value: filter.Risk}))
	}
	if filter.InvoiceType != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "invoice_type", Operator: option.EQ, Value: filter.InvoiceType}))
	}
	if filter.From != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "invoice_date", Operator: option.GTE, Value: *filter.From}))
	}
	if filter.To != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "invoice_date", Operator: option.LTE, Value: *filter.To}))
	}
	if customer := strings.TrimSpace(filter.Customer); customer != "" {
		opts = append(opts, option.AnyOf(
			option.Condition{Field: "customer_code", Operator: option.ILIKE, Value: customer},
			option.Condition{Field: "customer_name", Operator: option.ILIKE, Value: customer},
		))
	}
	if filter.OverdueOnly {
		today := filter.Today
		if today.IsZero() {
			today = time.Now().UTC()
		}
		opts = append(opts,
			option.ApplyOperator(option.Condition{Field: "due_date", Operator: option.LT, Value: today}),
			option.ApplyOperator(option.Condition{Field: "balance", Operator: option.GT, Value: 0}),
			option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: domain.InvoiceStatusCancelled}),
		)
	}
	opts = append(opts, option.ApplyPagination(page))

	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ScanInvoices(ctx context.Context, tx *gorm.DB, afterID snowflake.ID, limit int) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) FindInvoicesByIDs(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]*domain.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var invoices []*domain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id IN ? ORDER BY id ASC`,
		ids,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, p *domain.PaymentRecord) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoice_payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.InvoiceID,
		p.Amount,
		p.PaidAt,
		p.Mode,
		p.ReferenceNumber,
		p.Note,
		p.RecordedByID,
		p.RecordedByName,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM invoice_payments WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) UpdatePayment(ctx context.Context, tx *gorm.DB, p *domain.PaymentRecord) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoice_payments SET amount = ?, paid_at = ?, mode = ?, reference_number = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		p.Amount,
		p.PaidAt,
		p.Mode,
		p.ReferenceNumber,
		p.Note,
		p.UpdatedAt,
		p.ID,
	).Error
}

func (r *repo) DeletePayment(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM invoice_payments WHERE id = ?`, id).Error
}

func (r *repo) DeletePaymentsByInvoice(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	res := tx.WithContext(ctx).Exec(`DELETE FROM invoice_payments WHERE invoice_id = ?`, invoiceID)
	return res.RowsAffected, res.Error
}

func (r *repo) ListPayments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]domain.PaymentRecord, error) {
	var payments []domain.PaymentRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM invoice_payments WHERE invoice_id = ? ORDER BY paid_at DESC, id DESC`,
		invoiceID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
