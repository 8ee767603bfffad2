package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	auditrepository "github.com/smallbiznis/receivables/internal/audit/repository"
	auditservice "github.com/smallbiznis/receivables/internal/audit/service"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	importrepository "github.com/smallbiznis/receivables/internal/importer/repository"
	importservice "github.com/smallbiznis/receivables/internal/importer/service"
	"github.com/smallbiznis/receivables/internal/migration"
	"github.com/smallbiznis/receivables/internal/observability"
	"github.com/smallbiznis/receivables/internal/providers/pdf"
	receivablerepository "github.com/smallbiznis/receivables/internal/receivable/repository"
	receivableservice "github.com/smallbiznis/receivables/internal/receivable/service"
	"github.com/smallbiznis/receivables/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

type testServer struct {
	server *Server
	audit  auditdomain.Service
}

func setupServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.Run(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{}
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Repo:   auditrepository.Provide(),
		Config: cfg,
		Clock:  clk,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = audit.(interface{ Stop(context.Context) error }).Stop(ctx)
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, Recorder: audit})

	ledger := receivableservice.New(receivableservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     receivablerepository.Provide(),
		Recorder: audit,
		Clock:    clk,
		Config:   cfg,
		PDF:      pdf.New(),
	})
	importer := importservice.New(importservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     importrepository.Provide(),
		Ledger:   ledger,
		Clock:    clk,
		Config:   cfg,
		Recorder: audit,
	})
	reconciler := reconcile.New(reconcile.Params{
		DB:       db,
		Log:      log,
		Repo:     receivablerepository.Provide(),
		Clock:    clk,
		Config:   cfg,
		Recorder: audit,
	})

	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}, nil),
		Cfg:        cfg,
		Log:        log,
		AuthzSvc:   authz,
		AuditSvc:   audit,
		LedgerSvc:  ledger,
		ImportSvc:  importer,
		Reconciler: reconciler,
	})
	return testServer{server: srv, audit: audit}
}

type actor struct {
	id   string
	role string
}

var (
	finance = actor{id: "u-finance", role: authorization.RoleFinance}
	viewer  = actor{id: "u-viewer", role: authorization.RoleViewer}
	admin   = actor{id: "u-admin", role: authorization.RoleAdmin}
)

func (ts testServer) do(t *testing.T, who *actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setActor(req, who)
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)
	return w
}

func setActor(req *http.Request, who *actor) {
	if who == nil {
		return
	}
	req.Header.Set(HeaderActorID, who.id)
	req.Header.Set(HeaderActorName, strings.TrimPrefix(who.id, "u-"))
	req.Header.Set(HeaderActorRole, who.role)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Data
}

func decodeErrorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Error.Type
}

func invoiceBody(number string) map[string]any {
	return map[string]any{
		"invoice_number": number,
		"customer_code":  "BP-1001",
		"customer_name":  "Acme Traders",
		"invoice_type":   "SERVICE",
		"total_amount":   "1000",
		"net_amount":     "847.46",
		"tax_amount":     "152.54",
		"invoice_date":   "2024-04-01",
		"due_date":       "2024-04-20",
	}
}

func (ts testServer) createInvoice(t *testing.T, number string) string {
	t.Helper()
	w := ts.do(t, &finance, http.MethodPost, "/api/v1/invoices", invoiceBody(number))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, ok := decodeData(t, w)["id"].(string)
	require.True(t, ok)
	return id
}

func TestRequestsWithoutActorAreUnauthorized(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, nil, http.MethodGet, "/api/v1/invoices", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeErrorType(t, w))
}

func TestHeaderCannotClaimSystemActor(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, &actor{id: authorization.ActorSystem, role: authorization.RoleAdmin}, http.MethodGet, "/api/v1/invoices", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &actor{id: "u-sneaky", role: authorization.RoleSystem}, http.MethodGet, "/api/v1/invoices", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestViewerCannotCreateInvoices(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, &viewer, http.MethodPost, "/api/v1/invoices", invoiceBody("INV-1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &viewer, http.MethodGet, "/api/v1/invoices", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInvoiceLifecycle(t *testing.T) {
	ts := setupServer(t)
	id := ts.createInvoice(t, "INV-100")

	w := ts.do(t, &viewer, http.MethodGet, "/api/v1/invoices/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeData(t, w)
	assert.Equal(t, "INV-100", detail["invoice_number"])
	assert.Equal(t, "OVERDUE", detail["status"])
	assert.NotEmpty(t, detail["aging_bucket"])

	w = ts.do(t, &finance, http.MethodPost, "/api/v1/invoices/"+id+"/payments", map[string]any{
		"amount":           "1000",
		"mode":             "bank transfer",
		"reference_number": "UTR123456789",
		"paid_at":          "2024-04-30",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	paid := decodeData(t, w)
	assert.Equal(t, "0", paid["balance"])
	assert.Equal(t, "PAID", paid["status"])

	w = ts.do(t, &finance, http.MethodPost, "/api/v1/invoices/"+id+"/cancel", map[string]any{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", decodeData(t, w)["status"])

	w = ts.do(t, &finance, http.MethodPost, "/api/v1/invoices/"+id+"/payments", map[string]any{
		"amount": "10",
		"mode":   "cash",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, &finance, http.MethodDelete, "/api/v1/invoices/"+id, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &admin, http.MethodDelete, "/api/v1/invoices/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, &viewer, http.MethodGet, "/api/v1/invoices/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDuplicateInvoiceNumberConflicts(t *testing.T) {
	ts := setupServer(t)
	ts.createInvoice(t, "INV-200")

	w := ts.do(t, &finance, http.MethodPost, "/api/v1/invoices", invoiceBody("INV-200"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInvalidRequestsAreValidationErrors(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, &viewer, http.MethodGet, "/api/v1/invoices/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeErrorType(t, w))

	w = ts.do(t, &viewer, http.MethodGet, "/api/v1/invoices?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := ts.createInvoice(t, "INV-300")
	w = ts.do(t, &finance, http.MethodPost, "/api/v1/invoices/"+id+"/payments", map[string]any{
		"amount": "-5",
		"mode":   "cash",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecalculateReturnsReport(t *testing.T) {
	ts := setupServer(t)
	ts.createInvoice(t, "INV-400")

	w := ts.do(t, &finance, http.MethodPost, "/api/v1/invoices/recalculate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decodeData(t, w)
	assert.Equal(t, reconcile.TriggerAPI, report["trigger"])
	assert.EqualValues(t, 1, report["scanned"])

	w = ts.do(t, &viewer, http.MethodPost, "/api/v1/invoices/recalculate", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDownloadStatement(t *testing.T) {
	ts := setupServer(t)
	id := ts.createInvoice(t, "INV-500")

	w := ts.do(t, &viewer, http.MethodGet, "/api/v1/invoices/"+id+"/statement", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestImportCommitFromCSV(t *testing.T) {
	ts := setupServer(t)

	csvBody := strings.Join([]string{
		"Invoice No,BP Code,Customer Name,Amount,Net Amount,Document Date",
		"INV-900,BP-1,Alpha Stores,500,423.73,01/04/2024",
		"INV-901,,Beta Mart,250,211.86,02/04/2024",
	}, "\n")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "april.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setActor(req, &finance)
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	manifest := decodeData(t, w)
	assert.Equal(t, "PARTIAL", manifest["status"])
	assert.EqualValues(t, 1, manifest["success_rows"])
	assert.EqualValues(t, 1, manifest["failed_rows"])

	w = ts.do(t, &viewer, http.MethodGet, "/api/v1/imports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var batches struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batches))
	require.Len(t, batches.Data, 1)
	assert.Equal(t, "april.csv", batches.Data[0]["file_name"])
}

func TestImportRequiresFile(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, &finance, http.MethodPost, "/api/v1/imports/preview", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadImportTemplate(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, &viewer, http.MethodGet, "/api/v1/imports/template", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestActivityListsLedgerChanges(t *testing.T) {
	ts := setupServer(t)
	id := ts.createInvoice(t, "INV-600")
	require.NoError(t, ts.audit.Flush(context.Background()))

	w := ts.do(t, &viewer, http.MethodGet, "/api/v1/activity?target_type=invoice&target_id="+id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.Data)
	assert.Equal(t, "invoice.created", out.Data[0]["action"])
}

func TestBusinessMinutes(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, &viewer, http.MethodGet,
		"/api/v1/calendar/business-minutes?start=2024-05-06T09:00:00Z&end=2024-05-06T10:30:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 90, decodeData(t, w)["minutes"])

	w = ts.do(t, &viewer, http.MethodGet, "/api/v1/calendar/business-minutes?start=monday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
