package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/smallbiznis/receivables/internal/reconcile"
)

type listInvoicesQuery struct {
	Status      string `form:"status"`
	From        string `form:"from"`
	To          string `form:"to"`
	Customer    string `form:"customer"`
	InvoiceType string `form:"type"`
	Risk        string `form:"risk"`
	Overdue     string `form:"overdue"`
	PageToken   string `form:"page_token"`
	PageSize    int32  `form:"page_size"`
}

type createInvoiceRequest struct {
	InvoiceNumber   string           `json:"invoice_number"`
	CustomerCode    string           `json:"customer_code"`
	CustomerName    string           `json:"customer_name"`
	InvoiceType     string           `json:"invoice_type"`
	Remarks         string           `json:"remarks"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	NetAmount       decimal.Decimal  `json:"net_amount"`
	TaxAmount       decimal.Decimal  `json:"tax_amount"`
	OpeningReceipts *decimal.Decimal `json:"opening_receipts"`
	InvoiceDate     dateParam        `json:"invoice_date"`
	DueDate         *dateParam       `json:"due_date"`
}

type editInvoiceRequest struct {
	CustomerCode  *string          `json:"customer_code"`
	CustomerName  *string          `json:"customer_name"`
	InvoiceType   *string          `json:"invoice_type"`
	Remarks       *string          `json:"remarks"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
	NetAmount     *decimal.Decimal `json:"net_amount"`
	TaxAmount     *decimal.Decimal `json:"tax_amount"`
	TotalReceipts *decimal.Decimal `json:"total_receipts"`
	InvoiceDate   *dateParam       `json:"invoice_date"`
	DueDate       *dateParam       `json:"due_date"`
}

type cancelInvoiceRequest struct {
	Reason string `json:"reason"`
}

type recalculateRequest struct {
	InvoiceIDs []string `json:"invoice_ids"`
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalDate(query.From)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from date"))
		return
	}
	to, err := parseOptionalDate(query.To)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to date"))
		return
	}
	overdue, err := parseOptionalBool(query.Overdue)
	if err != nil {
		AbortWithError(c, newValidationError("overdue", "invalid_overdue", "invalid overdue flag"))
		return
	}

	resp, err := s.ledgerSvc.ListInvoices(c.Request.Context(), receivabledomain.ListInvoicesRequest{
		Status:      strings.TrimSpace(query.Status),
		From:        from,
		To:          to,
		Customer:    strings.TrimSpace(query.Customer),
		InvoiceType: strings.TrimSpace(query.InvoiceType),
		Risk:        strings.TrimSpace(query.Risk),
		OverdueOnly: overdue != nil && *overdue,
		PageToken:   strings.TrimSpace(query.PageToken),
		PageSize:    query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Invoices,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.ledgerSvc.CreateInvoice(c.Request.Context(), receivabledomain.CreateInvoiceRequest{
		InvoiceNumber:   req.InvoiceNumber,
		CustomerCode:    req.CustomerCode,
		CustomerName:    req.CustomerName,
		InvoiceType:     req.InvoiceType,
		Remarks:         req.Remarks,
		TotalAmount:     req.TotalAmount,
		NetAmount:       req.NetAmount,
		TaxAmount:       req.TaxAmount,
		OpeningReceipts: req.OpeningReceipts,
		InvoiceDate:     req.InvoiceDate.Time,
		DueDate:         req.DueDate.ptr(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": inv})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	item, err := s.ledgerSvc.GetInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) EditInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req editInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.ledgerSvc.EditInvoice(c.Request.Context(), id, receivabledomain.EditInvoiceRequest{
		CustomerCode:  req.CustomerCode,
		CustomerName:  req.CustomerName,
		InvoiceType:   req.InvoiceType,
		Remarks:       req.Remarks,
		TotalAmount:   req.TotalAmount,
		NetAmount:     req.NetAmount,
		TaxAmount:     req.TaxAmount,
		TotalReceipts: req.TotalReceipts,
		InvoiceDate:   req.InvoiceDate.ptr(),
		DueDate:       req.DueDate.ptr(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	if err := s.ledgerSvc.DeleteInvoice(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req cancelInvoiceRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.ledgerSvc.CancelInvoice(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) ReinstateInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	inv, err := s.ledgerSvc.ReinstateInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) DownloadStatement(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	data, err := s.ledgerSvc.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="statement-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", data)
}

// RecalculateInvoices re-derives stored classifications, optionally limited
// to the given invoices.
func (s *Server) RecalculateInvoices(c *gin.Context) {
	var req recalculateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ids := make([]snowflake.ID, 0, len(req.InvoiceIDs))
	for _, raw := range req.InvoiceIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("invoice_ids", "invalid_invoice_ids", "invalid invoice id"))
			return
		}
		ids = append(ids, id)
	}

	report, err := s.reconciler.Run(c.Request.Context(), reconcile.RunRequest{
		InvoiceIDs: ids,
		BatchSize:  s.cfg.Reconcile.BatchSize,
		Trigger:    reconcile.TriggerAPI,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func invoiceIDParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if parsed, err := snowflake.ParseString(id); err != nil || parsed == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return "", false
	}
	return id, true
}

// bindOptionalJSON decodes the body when one is present.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
