package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/authorization"
	importdomain "github.com/smallbiznis/receivables/internal/importer/domain"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/smallbiznis/receivables/internal/reconcile"
	pkgdb "github.com/smallbiznis/receivables/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

// domainValidation lists sentinel errors answered with 400. The sentinel text
// up to the first colon is the response code.
var domainValidation = []struct {
	err     error
	field   string
	message string
}{
	{ErrInvalidRequest, "request", "invalid request"},
	{receivabledomain.ErrInvalidID, "id", "invalid id"},
	{receivabledomain.ErrInvalidInvoice, "invoice", "invoice is incomplete"},
	{receivabledomain.ErrReceiptsBelowPayments, "total_receipts", "total receipts cannot be below the recorded payments"},
	{receivabledomain.ErrInvalidAmount, "amount", "amount must be positive with at most two decimal places"},
	{receivabledomain.ErrInvalidPaymentMode, "mode", "unknown payment mode"},
	{receivabledomain.ErrInvalidFilter, "filter", "invalid filter"},
	{receivabledomain.ErrInvalidPageToken, "page_token", "invalid page token"},
	{importdomain.ErrEmptyFile, "file", "file has no data rows"},
	{importdomain.ErrUnsupportedFormat, "file", "upload an .xlsx or .csv file"},
	{importdomain.ErrMissingHeader, "file", "file has no header row"},
	{auditdomain.ErrInvalidPageToken, "page_token", "invalid page token"},
	{auditdomain.ErrInvalidTimeRange, "time_range", "start_at must not be after end_at"},
	{auditdomain.ErrInvalidAction, "action", "invalid action"},
}

type errorRule struct {
	targets []error
	status  int
	typ     string
	message string
}

// errorRules are checked in order; the first matching target wins.
var errorRules = []errorRule{
	{[]error{ErrUnauthorized, authorization.ErrInvalidActor, authorization.ErrInvalidRole}, http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{[]error{ErrForbidden, authorization.ErrForbidden}, http.StatusForbidden, "forbidden", "forbidden"},
	{[]error{
		receivabledomain.ErrInvoiceNotFound,
		receivabledomain.ErrPaymentNotFound,
		receivabledomain.ErrPaymentMismatch,
		gorm.ErrRecordNotFound,
	}, http.StatusNotFound, "not_found", "not found"},
	{[]error{receivabledomain.ErrDuplicateInvoiceNumber}, http.StatusConflict, "conflict", "invoice number already exists"},
	{[]error{receivabledomain.ErrInvoiceCancelled}, http.StatusConflict, "conflict", "invoice is cancelled"},
	{[]error{receivabledomain.ErrVersionConflict}, http.StatusConflict, "conflict", "invoice changed concurrently, retry the request"},
	{[]error{reconcile.ErrSweepInProgress}, http.StatusConflict, "conflict", "a recalculation is already running"},
	{[]error{importdomain.ErrFileTooLarge}, http.StatusRequestEntityTooLarge, "file_too_large", "file too large"},
	{[]error{ErrRateLimited}, http.StatusTooManyRequests, "rate_limited", "too many requests"},
}

// ErrorHandlingMiddleware renders the last handler error as the JSON error
// envelope unless the handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Written() {
			return
		}
		if last := c.Errors.Last(); last != nil {
			status, payload := mapError(last.Err)
			c.AbortWithStatusJSON(status, errorResponse{Error: payload})
		}
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

// classifyErrorForLog returns the response type and code logged for a failed request.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return internalError()
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	for _, v := range domainValidation {
		if errors.Is(err, v.err) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors:  []ValidationError{{Field: v.field, Code: validationCode(v.err), Message: v.message}},
			}
		}
	}

	for _, rule := range errorRules {
		for _, target := range rule.targets {
			if errors.Is(err, target) {
				return rule.status, errorPayload{Type: rule.typ, Message: rule.message}
			}
		}
	}
	if pkgdb.IsConflictErr(err) {
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "concurrent update, retry the request"}
	}
	return internalError()
}

func validationCode(err error) string {
	code, _, _ := strings.Cut(err.Error(), ":")
	return code
}

func internalError() (int, errorPayload) {
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}
