package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/calendar"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	"github.com/smallbiznis/receivables/internal/observability/tracing"
	"github.com/smallbiznis/receivables/internal/providers/pdf"
	"github.com/smallbiznis/receivables/internal/receivable/classifier"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/smallbiznis/receivables/pkg/db"
	"github.com/smallbiznis/receivables/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tracerName = "receivables/ledger"

	defaultPageSize = 25
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Recorder auditdomain.Recorder
	Clock    clock.Clock
	Config   config.Config
	Policy   *config.LedgerPolicyHolder `optional:"true"`
	Metrics  *obsmetrics.Metrics        `optional:"true"`
	PDF      pdf.Provider               `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	recorder auditdomain.Recorder
	clock    clock.Clock
	loc      *time.Location
	policy   *config.LedgerPolicyHolder
	metrics  *obsmetrics.Metrics
	pdf      pdf.Provider
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("receivable.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		recorder: p.Recorder,
		clock:    clk,
		loc:      p.Config.Ledger.Location(),
		policy:   p.Policy,
		metrics:  p.Metrics,
		pdf:      renderer,
	}
}

func (s *Service) classifier() classifier.Classifier {
	return classifier.FromPolicy(s.policy.Get(), s.loc)
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (domain.Invoice, error) {
	if err := validateCreate(req); err != nil {
		return domain.Invoice{}, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "receivable.create_invoice")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now()
	invoice := s.newInvoice(ctx, req, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindInvoiceByNumber(ctx, tx, invoice.InvoiceNumber)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicateInvoiceNumber
		}
		return s.repo.InsertInvoice(ctx, tx, &invoice)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			err = domain.ErrDuplicateInvoiceNumber
		}
		return domain.Invoice{}, err
	}

	s.committed(ctx, "invoice.created", "create", nil, &invoice)
	return invoice, nil
}

// UpsertInvoice creates the invoice or refreshes an existing one with the same
// number. Payment history of an existing invoice is kept; OpeningReceipts is
// then read as the invoice's total received so far, payments included.
func (s *Service) UpsertInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (domain.Invoice, bool, error) {
	if err := validateCreate(req); err != nil {
		return domain.Invoice{}, false, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "receivable.upsert_invoice")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now()
	var (
		result  domain.Invoice
		before  *domain.Invoice
		created bool
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.LockInvoiceByNumber(ctx, tx, strings.TrimSpace(req.InvoiceNumber))
		if err != nil {
			return err
		}
		if current == nil {
			result = s.newInvoice(ctx, req, now)
			created = true
			return s.repo.InsertInvoice(ctx, tx, &result)
		}

		snapshot := *current
		before = &snapshot

		current.CustomerCode = strings.TrimSpace(req.CustomerCode)
		current.CustomerName = strings.TrimSpace(req.CustomerName)
		current.InvoiceType = strings.TrimSpace(req.InvoiceType)
		current.Remarks = strings.TrimSpace(req.Remarks)
		current.TotalAmount = req.TotalAmount
		current.NetAmount = req.NetAmount
		current.TaxAmount = req.TaxAmount
		current.InvoiceDate = calendar.DateOnly(req.InvoiceDate)
		current.DueDate = s.dueDate(req)
		payments, err := s.repo.ListPayments(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		received := current.OpeningReceipts.Add(paymentTotal(payments))
		if req.OpeningReceipts != nil {
			received = *req.OpeningReceipts
		}
		if err := carryReceipts(current, received, payments); err != nil {
			return err
		}
		if err := s.save(ctx, tx, current, now); err != nil {
			return err
		}
		result = *current
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			err = domain.ErrDuplicateInvoiceNumber
		}
		return domain.Invoice{}, false, err
	}

	if created {
		s.committed(ctx, "invoice.created", "upsert", nil, &result)
	} else {
		s.committed(ctx, "invoice.updated", "upsert", before, &result)
	}
	return result, created, nil
}

func (s *Service) EditInvoice(ctx context.Context, id string, req domain.EditInvoiceRequest) (domain.Invoice, error) {
	if err := validateEdit(req); err != nil {
		return domain.Invoice{}, err
	}

	return s.mutate(ctx, id, "invoice.updated", "edit", func(tx *gorm.DB, inv *domain.Invoice) error {
		if req.CustomerCode != nil {
			inv.CustomerCode = strings.TrimSpace(*req.CustomerCode)
		}
		if req.CustomerName != nil {
			inv.CustomerName = strings.TrimSpace(*req.CustomerName)
		}
		if req.InvoiceType != nil {
			inv.InvoiceType = strings.TrimSpace(*req.InvoiceType)
		}
		if req.Remarks != nil {
			inv.Remarks = strings.TrimSpace(*req.Remarks)
		}
		if req.TotalAmount != nil {
			inv.TotalAmount = *req.TotalAmount
		}
		if req.NetAmount != nil {
			inv.NetAmount = *req.NetAmount
		}
		if req.TaxAmount != nil {
			inv.TaxAmount = *req.TaxAmount
		}
		if req.InvoiceDate != nil {
			inv.InvoiceDate = calendar.DateOnly(*req.InvoiceDate)
		}
		if req.DueDate != nil {
			inv.DueDate = calendar.DateOnly(*req.DueDate)
		}
		if req.TotalReceipts == nil {
			return nil
		}

		payments, err := s.repo.ListPayments(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		return carryReceipts(inv, *req.TotalReceipts, payments)
	})
}

func (s *Service) CancelInvoice(ctx context.Context, id string, reason string) (domain.Invoice, error) {
	reason = strings.TrimSpace(reason)
	return s.mutate(ctx, id, "invoice.cancelled", "cancel", func(_ *gorm.DB, inv *domain.Invoice) error {
		if inv.IsCancelled() {
			return errUnchanged
		}
		inv.Status = domain.InvoiceStatusCancelled
		if reason != "" {
			inv.CancelReason = &reason
		}
		return nil
	})
}

func (s *Service) ReinstateInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	return s.mutate(ctx, id, "invoice.reinstated", "reinstate", func(_ *gorm.DB, inv *domain.Invoice) error {
		if !inv.IsCancelled() {
			return errUnchanged
		}
		inv.Status = domain.InvoiceStatusPending
		inv.CancelReason = nil
		return nil
	})
}

func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	invoiceID, err := parseID(id)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "receivable.delete_invoice",
		attribute.String("invoice_id", invoiceID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	var (
		before  domain.Invoice
		removed int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.LockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return domain.ErrInvoiceNotFound
		}
		before = *inv

		removed, err = s.repo.DeletePaymentsByInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		return s.repo.DeleteInvoice(ctx, tx, invoiceID)
	})
	if err != nil {
		return err
	}

	s.log.Info("invoice deleted",
		zap.String("invoice_id", invoiceID.String()),
		zap.Int64("payments_removed", removed),
	)
	s.committed(ctx, "invoice.deleted", "delete", &before, nil)
	return nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.InvoiceDetail, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}

	inv, err := s.repo.FindInvoiceByID(ctx, s.db.WithContext(ctx), invoiceID)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	if inv == nil {
		return domain.InvoiceDetail{}, domain.ErrInvoiceNotFound
	}

	payments, err := s.repo.ListPayments(ctx, s.db.WithContext(ctx), invoiceID)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	if payments == nil {
		payments = []domain.PaymentRecord{}
	}

	// Overdue figures are derived for today, not taken from the last write.
	policy := s.policy.Get()
	classifier.FromPolicy(policy, s.loc).Derive(classifier.InputsOf(*inv), s.clock.Now()).Apply(inv)

	return domain.InvoiceDetail{
		Invoice:     *inv,
		AgingBucket: calendar.AgingBucket(inv.DueByDays, classifier.Buckets(policy)),
		Payments:    payments,
	}, nil
}

func (s *Service) ListInvoices(ctx context.Context, req domain.ListInvoicesRequest) (domain.ListInvoicesResponse, error) {
	filter, err := s.listFilter(req)
	if err != nil {
		return domain.ListInvoicesResponse{}, err
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: int(req.PageSize)}
	pageSize := page.Limit(defaultPageSize, maxPageSize)
	if page.PageToken != "" {
		if _, err := pagination.ParseToken(page.PageToken); err != nil {
			return domain.ListInvoicesResponse{}, domain.ErrInvalidPageToken
		}
	}

	page.PageSize = pageSize
	items, err := s.repo.ListInvoices(ctx, s.db.WithContext(ctx), filter, page)
	if err != nil {
		return domain.ListInvoicesResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(inv *domain.Invoice) pagination.Keyset {
		return pagination.Keyset{ID: inv.ID.Int64(), CreatedAt: inv.CreatedAt}
	})

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	return domain.ListInvoicesResponse{Invoices: invoices, PageInfo: pageInfo}, nil
}

func (s *Service) listFilter(req domain.ListInvoicesRequest) (domain.ListInvoicesFilter, error) {
	filter := domain.ListInvoicesFilter{
		From:        req.From,
		To:          req.To,
		Customer:    strings.TrimSpace(req.Customer),
		InvoiceType: strings.TrimSpace(req.InvoiceType),
		OverdueOnly: req.OverdueOnly,
		Today:       calendar.DateOnly(s.clock.Now().In(s.loc)),
	}

	if status := strings.ToUpper(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = domain.InvoiceStatus(status)
		if !filter.Status.Valid() {
			return domain.ListInvoicesFilter{}, domain.ErrInvalidFilter
		}
	}
	if risk := strings.ToUpper(strings.TrimSpace(req.Risk)); risk != "" {
		filter.Risk = domain.RiskClass(risk)
		if !filter.Risk.Valid() {
			return domain.ListInvoicesFilter{}, domain.ErrInvalidFilter
		}
	}
	if filter.From != nil {
		from := calendar.DateOnly(*filter.From)
		filter.From = &from
	}
	if filter.To != nil {
		to := calendar.DateOnly(*filter.To)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.ListInvoicesFilter{}, domain.ErrInvalidFilter
	}
	return filter, nil
}

// errUnchanged ends a mutation without writing when the invoice is already in
// the requested state.
var errUnchanged = errors.New("unchanged")

// mutate runs change against the locked invoice, re-derives it and writes it
// back in one transaction.
func (s *Service) mutate(ctx context.Context, id, action, operation string, change func(tx *gorm.DB, inv *domain.Invoice) error) (domain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "receivable."+operation,
		attribute.String("invoice_id", invoiceID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now()
	var (
		before    domain.Invoice
		result    domain.Invoice
		unchanged bool
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.LockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return domain.ErrInvoiceNotFound
		}
		before = *inv

		if err := change(tx, inv); err != nil {
			if errors.Is(err, errUnchanged) {
				unchanged = true
				result = *inv
				return nil
			}
			return err
		}
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		result = *inv
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	if unchanged {
		return result, nil
	}

	s.committed(ctx, action, operation, &before, &result)
	return result, nil
}

// save re-derives inv, bumps its version and writes it.
func (s *Service) save(ctx context.Context, tx *gorm.DB, inv *domain.Invoice, now time.Time) error {
	s.classifier().Derive(classifier.InputsOf(*inv), now).Apply(inv)
	inv.Version++
	inv.UpdatedBy = actorLabel(ctx)
	inv.UpdatedAt = now
	if err := s.repo.SaveInvoice(ctx, tx, inv); err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}
	return nil
}

// carryReceipts sets receipts and adjustments so that together they equal
// total. The part no payment record explains is carried as opening receipts.
func carryReceipts(inv *domain.Invoice, total decimal.Decimal, payments []domain.PaymentRecord) error {
	receipts, adjustments := classifier.PartitionPayments(payments)
	opening := total.Sub(receipts).Sub(adjustments)
	if opening.IsNegative() {
		return domain.ErrReceiptsBelowPayments
	}
	inv.OpeningReceipts = opening
	inv.Receipts = opening.Add(receipts)
	inv.Adjustments = adjustments
	return nil
}

func paymentTotal(payments []domain.PaymentRecord) decimal.Decimal {
	receipts, adjustments := classifier.PartitionPayments(payments)
	return receipts.Add(adjustments)
}

// resum rebuilds receipts and adjustments from every payment on the invoice.
func (s *Service) resum(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	payments, err := s.repo.ListPayments(ctx, tx, inv.ID)
	if err != nil {
		return err
	}
	receipts, adjustments := classifier.PartitionPayments(payments)
	inv.Receipts = inv.OpeningReceipts.Add(receipts)
	inv.Adjustments = adjustments
	return nil
}

func (s *Service) newInvoice(ctx context.Context, req domain.CreateInvoiceRequest, now time.Time) domain.Invoice {
	opening := decimal.Zero
	if req.OpeningReceipts != nil {
		opening = *req.OpeningReceipts
	}
	actor := actorLabel(ctx)
	inv := domain.Invoice{
		ID:              s.genID.Generate(),
		InvoiceNumber:   strings.TrimSpace(req.InvoiceNumber),
		CustomerCode:    strings.TrimSpace(req.CustomerCode),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		InvoiceType:     strings.TrimSpace(req.InvoiceType),
		Remarks:         strings.TrimSpace(req.Remarks),
		TotalAmount:     req.TotalAmount,
		NetAmount:       req.NetAmount,
		TaxAmount:       req.TaxAmount,
		OpeningReceipts: opening,
		Receipts:        opening,
		Adjustments:     decimal.Zero,
		InvoiceDate:     calendar.DateOnly(req.InvoiceDate),
		DueDate:         s.dueDate(req),
		Version:         1,
		CreatedBy:       actor,
		UpdatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.classifier().Derive(classifier.InputsOf(inv), now).Apply(&inv)
	return inv
}

func (s *Service) dueDate(req domain.CreateInvoiceRequest) time.Time {
	if req.DueDate != nil && !req.DueDate.IsZero() {
		return calendar.DateOnly(*req.DueDate)
	}
	terms := s.policy.Get().DefaultPaymentTermsDays
	return calendar.DateOnly(req.InvoiceDate).AddDate(0, 0, terms)
}

// committed emits the activity event and metrics for a write that has committed.
func (s *Service) committed(ctx context.Context, action, operation string, before, after *domain.Invoice) {
	s.metrics.RecordInvoiceMutation(ctx, operation)

	target := after
	if target == nil {
		target = before
	}
	if s.recorder == nil || target == nil {
		return
	}
	s.recorder.Record(ctx, auditdomain.Event{
		Action:      action,
		Description: fmt.Sprintf("%s %s", strings.ReplaceAll(action, ".", " "), target.InvoiceNumber),
		TargetType:  "invoice",
		TargetID:    target.ID.String(),
		Before:      snapshot(before),
		After:       snapshot(after),
	})
}

func snapshot(inv *domain.Invoice) map[string]any {
	if inv == nil {
		return nil
	}
	out := map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"customer_code":  inv.CustomerCode,
		"total_amount":   inv.TotalAmount.StringFixed(2),
		"total_receipts": inv.TotalReceipts.StringFixed(2),
		"balance":        inv.Balance.StringFixed(2),
		"status":         string(inv.Status),
		"risk_class":     string(inv.RiskClass),
		"due_date":       inv.DueDate.Format(time.DateOnly),
		"version":        inv.Version,
	}
	if inv.CancelReason != nil {
		out["cancel_reason"] = *inv.CancelReason
	}
	return out
}

func validateCreate(req domain.CreateInvoiceRequest) error {
	if strings.TrimSpace(req.InvoiceNumber) == "" ||
		strings.TrimSpace(req.CustomerCode) == "" ||
		strings.TrimSpace(req.CustomerName) == "" ||
		req.InvoiceDate.IsZero() {
		return domain.ErrInvalidInvoice
	}
	if req.TotalAmount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if req.OpeningReceipts != nil && req.OpeningReceipts.IsNegative() {
		return domain.ErrInvalidAmount
	}
	return validScale(&req.TotalAmount, &req.NetAmount, &req.TaxAmount, req.OpeningReceipts)
}

func validateEdit(req domain.EditInvoiceRequest) error {
	for _, value := range []*string{req.CustomerCode, req.CustomerName} {
		if value != nil && strings.TrimSpace(*value) == "" {
			return domain.ErrInvalidInvoice
		}
	}
	if req.InvoiceDate != nil && req.InvoiceDate.IsZero() {
		return domain.ErrInvalidInvoice
	}
	if req.DueDate != nil && req.DueDate.IsZero() {
		return domain.ErrInvalidInvoice
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if req.TotalReceipts != nil && req.TotalReceipts.IsNegative() {
		return domain.ErrInvalidAmount
	}
	return validScale(req.TotalAmount, req.NetAmount, req.TaxAmount, req.TotalReceipts)
}

// validScale rejects amounts with more decimal places than the columns keep.
func validScale(amounts ...*decimal.Decimal) error {
	for _, amount := range amounts {
		if amount != nil && !domain.ValidMoney(*amount) {
			return domain.ErrInvalidAmount
		}
	}
	return nil
}

func actorLabel(ctx context.Context) string {
	if label := auditcontext.ActorLabel(ctx); label != "" {
		return label
	}
	return "system"
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
