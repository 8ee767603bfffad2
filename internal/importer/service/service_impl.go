package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/smallbiznis/receivables/internal/importer/normalizer"
	"github.com/smallbiznis/receivables/internal/importer/source"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultErrorReportLimit = 50
	errorLogLimit           = 100

	defaultBatchListLimit = 20
	maxBatchListLimit     = 100

	templateSheet = "Invoices"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Ledger   receivabledomain.Service
	Clock    clock.Clock
	Config   config.Config
	Policy   *config.LedgerPolicyHolder `optional:"true"`
	Recorder auditdomain.Recorder       `optional:"true"`
	Metrics  *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	ledger   receivabledomain.Service
	clock    clock.Clock
	policy   *config.LedgerPolicyHolder
	recorder auditdomain.Recorder
	metrics  *obsmetrics.Metrics

	reportLimit int
}

func New(p Params) domain.Service {
	limit := p.Config.Import.ErrorReportLimit
	if limit <= 0 {
		limit = defaultErrorReportLimit
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("importer.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		ledger:      p.Ledger,
		clock:       clk,
		policy:      p.Policy,
		recorder:    p.Recorder,
		metrics:     p.Metrics,
		reportLimit: limit,
	}
}

func (s *Service) normalizer() normalizer.Normalizer {
	return normalizer.New(s.policy.Get().DefaultPaymentTermsDays)
}

// Preview validates every row without writing anything.
func (s *Service) Preview(ctx context.Context, fileName string, rows []domain.Row) (domain.Manifest, error) {
	rows = dataRows(rows)
	if len(rows) == 0 {
		return domain.Manifest{}, domain.ErrEmptyFile
	}

	manifest := domain.Manifest{FileName: strings.TrimSpace(fileName), DryRun: true, TotalRows: len(rows)}
	var rowErrors []domain.RowError
	n := s.normalizer()
	for _, row := range rows {
		if _, errs := n.Normalize(row); len(errs) > 0 {
			manifest.FailedRows++
			rowErrors = append(rowErrors, errs...)
			continue
		}
		manifest.SuccessRows++
	}
	s.report(&manifest, rowErrors)
	return manifest, nil
}

// Commit upserts every valid row through the ledger. A failing row is
// recorded and the remaining rows are still processed. If ctx ends mid-file the
// unprocessed rows are reported as failed, the batch is still persisted and the
// manifest is returned together with the context error.
func (s *Service) Commit(ctx context.Context, fileName string, rows []domain.Row) (domain.Manifest, error) {
	rows = dataRows(rows)
	if len(rows) == 0 {
		return domain.Manifest{}, domain.ErrEmptyFile
	}

	fileName = strings.TrimSpace(fileName)
	manifest := domain.Manifest{FileName: fileName, TotalRows: len(rows)}
	var rowErrors []domain.RowError
	n := s.normalizer()

	var stopped error
	for i, row := range rows {
		if stopped = ctx.Err(); stopped != nil {
			for _, skipped := range rows[i:] {
				manifest.FailedRows++
				rowErrors = append(rowErrors, domain.RowError{Row: skipped.Number, Message: "Import stopped before this row"})
			}
			break
		}

		req, errs := n.Normalize(row)
		if len(errs) > 0 {
			manifest.FailedRows++
			rowErrors = append(rowErrors, errs...)
			continue
		}

		_, created, err := s.ledger.UpsertInvoice(ctx, req)
		if err != nil {
			manifest.FailedRows++
			rowErrors = append(rowErrors, ledgerRowError(row.Number, err))
			s.log.Debug("import row rejected by ledger",
				zap.Int("row", row.Number),
				zap.String("invoice_number", req.InvoiceNumber),
				zap.Error(err),
			)
			continue
		}
		manifest.SuccessRows++
		if created {
			manifest.CreatedRows++
		} else {
			manifest.UpdatedRows++
		}
	}

	manifest.Status = domain.StatusFor(manifest.TotalRows, manifest.SuccessRows)
	s.report(&manifest, rowErrors)

	// Rows already upserted stay in the ledger, so their summary is written
	// even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	batch := s.batch(ctx, manifest, rowErrors)
	if err := s.repo.Insert(ctx, s.db.WithContext(ctx), &batch); err != nil {
		// Rows are already in the ledger; a missing summary must not hide that.
		s.log.Error("failed to persist import batch", zap.String("file_name", fileName), zap.Error(err))
	} else {
		manifest.BatchID = batch.ID.String()
	}

	s.metrics.RecordImportRows(ctx, "success", manifest.SuccessRows)
	s.metrics.RecordImportRows(ctx, "failed", manifest.FailedRows)
	s.log.Info("import committed",
		zap.String("file_name", fileName),
		zap.Bool("stopped", stopped != nil),
		zap.String("status", string(manifest.Status)),
		zap.Int("total_rows", manifest.TotalRows),
		zap.Int("success_rows", manifest.SuccessRows),
		zap.Int("failed_rows", manifest.FailedRows),
	)

	if s.recorder != nil {
		s.recorder.Record(ctx, auditdomain.Event{
			Action:      "import.committed",
			Description: fmt.Sprintf("imported %s: %d of %d rows", fileName, manifest.SuccessRows, manifest.TotalRows),
			TargetType:  "import_batch",
			TargetID:    manifest.BatchID,
			Metadata: map[string]any{
				"status":       string(manifest.Status),
				"created_rows": manifest.CreatedRows,
				"updated_rows": manifest.UpdatedRows,
				"failed_rows":  manifest.FailedRows,
			},
		})
	}
	return manifest, stopped
}

// Template returns an xlsx workbook with the canonical headers and one example row.
func (s *Service) Template(context.Context) ([]byte, error) {
	headers := make([]string, 0, len(normalizer.TemplateFields))
	for _, field := range normalizer.TemplateFields {
		headers = append(headers, field.Label())
	}

	docDate := s.clock.Now().UTC()
	terms := s.policy.Get().DefaultPaymentTermsDays
	example := map[normalizer.Field]any{
		normalizer.FieldInvoiceNumber:  "INV-0001",
		normalizer.FieldCustomerCode:   "BP-1001",
		normalizer.FieldCustomerName:   "Acme Traders",
		normalizer.FieldInvoiceType:    "SERVICE",
		normalizer.FieldDocumentDate:   docDate.Format("02/01/2006"),
		normalizer.FieldDueDate:        docDate.AddDate(0, 0, terms).Format("02/01/2006"),
		normalizer.FieldAmount:         1180,
		normalizer.FieldNetAmount:      1000,
		normalizer.FieldTaxAmount:      180,
		normalizer.FieldReceivedAmount: 0,
		normalizer.FieldRemarks:        "",
	}
	row := make([]any, 0, len(normalizer.TemplateFields))
	for _, field := range normalizer.TemplateFields {
		row = append(row, example[field])
	}
	return source.WriteXLSX(templateSheet, headers, [][]any{row})
}

func (s *Service) ListBatches(ctx context.Context, limit int) ([]domain.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultBatchListLimit
	}
	if limit > maxBatchListLimit {
		limit = maxBatchListLimit
	}
	items, err := s.repo.ListRecent(ctx, s.db.WithContext(ctx), limit)
	if err != nil {
		return nil, err
	}
	batches := make([]domain.ImportBatch, 0, len(items))
	for _, item := range items {
		if item != nil {
			batches = append(batches, *item)
		}
	}
	return batches, nil
}

func (s *Service) report(manifest *domain.Manifest, rowErrors []domain.RowError) {
	shown := rowErrors
	if len(shown) > s.reportLimit {
		shown = shown[:s.reportLimit]
	}
	manifest.Errors = append([]domain.RowError{}, shown...)
	manifest.Messages = make([]string, 0, len(shown))
	for _, e := range shown {
		manifest.Messages = append(manifest.Messages, fmt.Sprintf("Row %d %s", e.Row, e.Error()))
	}
}

func (s *Service) batch(ctx context.Context, manifest domain.Manifest, rowErrors []domain.RowError) domain.ImportBatch {
	logged := rowErrors
	if len(logged) > errorLogLimit {
		logged = logged[:errorLogLimit]
	}
	errorLog, err := json.Marshal(logged)
	if err != nil || len(logged) == 0 {
		errorLog = []byte("[]")
	}

	_, actorID := auditcontext.ActorFromContext(ctx)
	return domain.ImportBatch{
		ID:             s.genID.Generate(),
		FileName:       manifest.FileName,
		FileKey:        slug.Make(manifest.FileName),
		TotalRows:      manifest.TotalRows,
		SuccessRows:    manifest.SuccessRows,
		FailedRows:     manifest.FailedRows,
		CreatedRows:    manifest.CreatedRows,
		UpdatedRows:    manifest.UpdatedRows,
		Status:         manifest.Status,
		ErrorLog:       datatypes.JSON(errorLog),
		ImportedByID:   actorID,
		ImportedByName: auditcontext.ActorNameFromContext(ctx),
		CreatedAt:      s.clock.Now(),
	}
}

// dataRows drops rows with no values at all.
func dataRows(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		if !normalizer.IsBlank(row) {
			out = append(out, row)
		}
	}
	return out
}

func ledgerRowError(row int, err error) domain.RowError {
	switch {
	case errors.Is(err, receivabledomain.ErrReceiptsBelowPayments):
		return domain.RowError{Row: row, Field: normalizer.FieldReceivedAmount.Label(), Message: "Received amount is below the payments already recorded"}
	case errors.Is(err, receivabledomain.ErrInvalidAmount):
		return domain.RowError{Row: row, Field: normalizer.FieldAmount.Label(), Message: "Amount is not acceptable for the ledger"}
	case errors.Is(err, receivabledomain.ErrInvalidInvoice):
		return domain.RowError{Row: row, Field: normalizer.FieldInvoiceNumber.Label(), Message: "Invoice is incomplete"}
	case errors.Is(err, receivabledomain.ErrDuplicateInvoiceNumber):
		return domain.RowError{Row: row, Field: normalizer.FieldInvoiceNumber.Label(), Message: "Invoice number already exists"}
	default:
		return domain.RowError{Row: row, Message: "Could not save invoice"}
	}
}
