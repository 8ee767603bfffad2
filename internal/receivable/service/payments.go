package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/observability/tracing"
	"github.com/smallbiznis/receivables/internal/receivable/classifier"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// AddPayment appends a payment and adds its amount to the invoice's running
// receipts or adjustments under the row lock.
func (s *Service) AddPayment(ctx context.Context, invoiceID string, req domain.AddPaymentRequest) (domain.PaymentResult, error) {
	id, err := parseID(invoiceID)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if !req.Amount.IsPositive() || !domain.ValidMoney(req.Amount) {
		return domain.PaymentResult{}, domain.ErrInvalidAmount
	}
	mode, err := domain.ParsePaymentMode(req.Mode)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "receivable.add_payment",
		attribute.String("invoice_id", id.String()),
		attribute.String("mode", string(mode)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now()
	paidAt := now
	if req.PaidAt != nil && !req.PaidAt.IsZero() {
		paidAt = req.PaidAt.UTC()
	}
	_, actorID := auditcontext.ActorFromContext(ctx)

	payment := domain.PaymentRecord{
		ID:              s.genID.Generate(),
		InvoiceID:       id,
		Amount:          req.Amount,
		PaidAt:          paidAt,
		Mode:            mode,
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		Note:            strings.TrimSpace(req.Note),
		RecordedByID:    actorID,
		RecordedByName:  auditcontext.ActorNameFromContext(ctx),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var result domain.PaymentResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.LockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return domain.ErrInvoiceNotFound
		}
		if inv.IsCancelled() {
			return domain.ErrInvoiceCancelled
		}

		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if classifier.IsAdjustment(mode) {
			inv.Adjustments = inv.Adjustments.Add(payment.Amount)
		} else {
			inv.Receipts = inv.Receipts.Add(payment.Amount)
		}
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		result = domain.PaymentResult{Payment: &payment, Invoice: *inv}
		return nil
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}

	s.paymentCommitted(ctx, "payment.recorded", "add", nil, &payment, result.Invoice)
	return result, nil
}

// UpdatePayment edits a payment and rebuilds the invoice totals from every
// payment it owns.
func (s *Service) UpdatePayment(ctx context.Context, invoiceID, paymentID string, req domain.UpdatePaymentRequest) (domain.PaymentResult, error) {
	if req.Amount != nil && (!req.Amount.IsPositive() || !domain.ValidMoney(*req.Amount)) {
		return domain.PaymentResult{}, domain.ErrInvalidAmount
	}
	var mode domain.PaymentMode
	if req.Mode != nil {
		parsed, err := domain.ParsePaymentMode(*req.Mode)
		if err != nil {
			return domain.PaymentResult{}, err
		}
		mode = parsed
	}

	return s.mutatePayment(ctx, invoiceID, paymentID, "payment.updated", "update", func(tx *gorm.DB, payment *domain.PaymentRecord) (*domain.PaymentRecord, error) {
		if req.Amount != nil {
			payment.Amount = *req.Amount
		}
		if req.PaidAt != nil && !req.PaidAt.IsZero() {
			payment.PaidAt = req.PaidAt.UTC()
		}
		if mode != "" {
			payment.Mode = mode
		}
		if req.ReferenceNumber != nil {
			payment.ReferenceNumber = strings.TrimSpace(*req.ReferenceNumber)
		}
		if req.Note != nil {
			payment.Note = strings.TrimSpace(*req.Note)
		}
		payment.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
			return nil, fmt.Errorf("update payment: %w", err)
		}
		return payment, nil
	})
}

// DeletePayment removes a payment and rebuilds the invoice totals from the rest.
func (s *Service) DeletePayment(ctx context.Context, invoiceID, paymentID string) (domain.PaymentResult, error) {
	return s.mutatePayment(ctx, invoiceID, paymentID, "payment.deleted", "delete", func(tx *gorm.DB, payment *domain.PaymentRecord) (*domain.PaymentRecord, error) {
		if err := s.repo.DeletePayment(ctx, tx, payment.ID); err != nil {
			return nil, fmt.Errorf("delete payment: %w", err)
		}
		return nil, nil
	})
}

func (s *Service) mutatePayment(
	ctx context.Context,
	invoiceID, paymentID, action, operation string,
	change func(tx *gorm.DB, payment *domain.PaymentRecord) (*domain.PaymentRecord, error),
) (domain.PaymentResult, error) {
	invID, err := parseID(invoiceID)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	payID, err := parseID(paymentID)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "receivable."+operation+"_payment",
		attribute.String("invoice_id", invID.String()),
		attribute.String("payment_id", payID.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now()
	var (
		before domain.PaymentRecord
		result domain.PaymentResult
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.LockInvoice(ctx, tx, invID)
		if err != nil {
			return err
		}
		if inv == nil {
			return domain.ErrInvoiceNotFound
		}
		payment, err := s.loadOwnedPayment(ctx, tx, inv.ID, payID)
		if err != nil {
			return err
		}
		before = *payment

		updated, err := change(tx, payment)
		if err != nil {
			return err
		}
		if err := s.resum(ctx, tx, inv); err != nil {
			return err
		}
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		result = domain.PaymentResult{Payment: updated, Invoice: *inv}
		return nil
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}

	s.paymentCommitted(ctx, action, operation, &before, result.Payment, result.Invoice)
	return result, nil
}

func (s *Service) loadOwnedPayment(ctx context.Context, tx *gorm.DB, invoiceID, paymentID snowflake.ID) (*domain.PaymentRecord, error) {
	payment, err := s.repo.FindPayment(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.InvoiceID != invoiceID {
		return nil, domain.ErrPaymentMismatch
	}
	return payment, nil
}

func (s *Service) paymentCommitted(ctx context.Context, action, operation string, before, after *domain.PaymentRecord, inv domain.Invoice) {
	mode := ""
	switch {
	case after != nil:
		mode = string(after.Mode)
	case before != nil:
		mode = string(before.Mode)
	}
	s.metrics.RecordPayment(ctx, mode, operation)
	s.metrics.RecordInvoiceMutation(ctx, "payment_"+operation)

	if s.recorder == nil {
		return
	}
	target := after
	if target == nil {
		target = before
	}
	s.recorder.Record(ctx, auditdomain.Event{
		Action:      action,
		Description: fmt.Sprintf("%s on invoice %s", strings.ReplaceAll(action, ".", " "), inv.InvoiceNumber),
		TargetType:  "payment",
		TargetID:    target.ID.String(),
		Before:      paymentSnapshot(before),
		After:       paymentSnapshot(after),
		Metadata: map[string]any{
			"invoice_id": inv.ID.String(),
			"balance":    inv.Balance.StringFixed(2),
			"status":     string(inv.Status),
		},
	})
}

func paymentSnapshot(p *domain.PaymentRecord) map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"amount":           p.Amount.StringFixed(2),
		"mode":             string(p.Mode),
		"paid_at":          p.PaidAt.Format("2006-01-02"),
		"reference_number": p.ReferenceNumber,
	}
}
