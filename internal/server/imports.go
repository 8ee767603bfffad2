package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	importdomain "github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/smallbiznis/receivables/internal/importer/source"
	"go.uber.org/zap"
)

const (
	importFormField       = "file"
	importTemplateName    = "invoice-import-template.xlsx"
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	rateLimitReasonHeader = "X-Rate-Limited-Reason"
	rateLimitEndpoint     = "imports"
)

type listImportBatchesQuery struct {
	Limit int `form:"limit"`
}

func (s *Server) PreviewImport(c *gin.Context) {
	fileName, rows, err := s.readUpload(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	manifest, err := s.importSvc.Preview(c.Request.Context(), fileName, rows)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": manifest})
}

func (s *Server) CommitImport(c *gin.Context) {
	fileName, rows, err := s.readUpload(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	manifest, err := s.importSvc.Commit(c.Request.Context(), fileName, rows)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": manifest})
}

func (s *Server) ListImportBatches(c *gin.Context) {
	var query listImportBatchesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	batches, err := s.importSvc.ListBatches(c.Request.Context(), query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batches})
}

func (s *Server) DownloadImportTemplate(c *gin.Context) {
	data, err := s.importSvc.Template(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, importTemplateName))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// readUpload reads the multipart file into rows, enforcing the size cap.
func (s *Server) readUpload(c *gin.Context) (string, []importdomain.Row, error) {
	maxBytes := s.cfg.Import.MaxFileBytes
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+(1<<20))
	}

	header, err := c.FormFile(importFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, importdomain.ErrFileTooLarge
		}
		return "", nil, newValidationError(importFormField, "invalid_file", "file is required")
	}
	if maxBytes > 0 && header.Size > maxBytes {
		return "", nil, importdomain.ErrFileTooLarge
	}

	file, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	var reader io.Reader = file
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes)
	}
	rows, err := source.Read(header.Filename, reader)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, rows, nil
}

// ImportRateLimit throttles uploads per actor.
func (s *Server) ImportRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.importLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		_, actorID := auditcontext.ActorFromContext(ctx)
		result, err := s.importLimiter.Allow(ctx, actorID)
		if err != nil {
			s.log.Warn("import rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			s.denyRateLimit(c, result.RetryAfter.Seconds(), "upload_rate")
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, rateLimitEndpoint)
		c.Next()
	}
}

func (s *Server) denyRateLimit(c *gin.Context, retryAfterSeconds float64, reason string) {
	retry := int(math.Ceil(retryAfterSeconds))
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(retry))
	c.Header(rateLimitReasonHeader, strings.TrimSpace(reason))
	s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), rateLimitEndpoint, reason)
	AbortWithError(c, ErrRateLimited)
}
