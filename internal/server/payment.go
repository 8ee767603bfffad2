package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
)

type addPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaidAt          *dateParam      `json:"paid_at"`
	Mode            string          `json:"mode"`
	ReferenceNumber string          `json:"reference_number"`
	Note            string          `json:"note"`
}

type updatePaymentRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	PaidAt          *dateParam       `json:"paid_at"`
	Mode            *string          `json:"mode"`
	ReferenceNumber *string          `json:"reference_number"`
	Note            *string          `json:"note"`
}

func (s *Server) AddPayment(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req addPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledgerSvc.AddPayment(c.Request.Context(), invoiceID, receivabledomain.AddPaymentRequest{
		Amount:          req.Amount,
		PaidAt:          req.PaidAt.ptr(),
		Mode:            req.Mode,
		ReferenceNumber: req.ReferenceNumber,
		Note:            req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": paymentResponse(result)})
}

func (s *Server) UpdatePayment(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	var req updatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledgerSvc.UpdatePayment(c.Request.Context(), invoiceID, paymentID, receivabledomain.UpdatePaymentRequest{
		Amount:          req.Amount,
		PaidAt:          req.PaidAt.ptr(),
		Mode:            req.Mode,
		ReferenceNumber: req.ReferenceNumber,
		Note:            req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": paymentResponse(result)})
}

func (s *Server) DeletePayment(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	result, err := s.ledgerSvc.DeletePayment(c.Request.Context(), invoiceID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": paymentResponse(result)})
}

// paymentResponse surfaces the invoice figures a payment form refreshes.
func paymentResponse(result receivabledomain.PaymentResult) gin.H {
	return gin.H{
		"payment": result.Payment,
		"invoice": result.Invoice,
		"balance": result.Invoice.Balance,
		"status":  result.Invoice.Status,
	}
}

func paymentIDParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("paymentId"))
	if parsed, err := snowflake.ParseString(id); err != nil || parsed == 0 {
		AbortWithError(c, newValidationError("payment_id", "invalid_payment_id", "invalid payment id"))
		return "", false
	}
	return id, true
}
