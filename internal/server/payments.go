package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/smallbiznis/orderbridge/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"go.uber.org/zap"
)

type initializePaymentRequest struct {
	OrderID     string `json:"order_id"`
	InvoiceID   string `json:"invoice_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Email       string `json:"email"`
	Cycle       string `json:"cycle"`
	Description string `json:"description"`
}

type cancelPaymentRequest struct {
	Method string `json:"method"`
}

type refundPaymentRequest struct {
	Amount int64 `json:"amount"`
}

type paymentStatusResponse struct {
	TransactionID string          `json:"transaction_id"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	Status        string          `json:"status"`
	State         string          `json:"state,omitempty"`
	Amount        int64           `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Deduplicated  bool            `json:"deduplicated"`
	Issues        []failure.Issue `json:"issues,omitempty"`
}

func newPaymentStatusResponse(out paymentdomain.Outcome) paymentStatusResponse {
	return paymentStatusResponse{
		TransactionID: out.TransactionID,
		InvoiceID:     out.InvoiceID,
		OrderID:       out.OrderID,
		Status:        string(out.Status),
		State:         string(out.State),
		Amount:        out.Amount,
		Currency:      out.Currency,
		Deduplicated:  out.Deduplicated,
		Issues:        out.Issues,
	}
}

func (s *Server) InitializePayment(c *gin.Context) {
	var req initializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.payments.Initialize(c.Request.Context(), paymentdomain.InitializeRequest{
		OrderID:     req.OrderID,
		InvoiceID:   req.InvoiceID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Email:       req.Email,
		Cycle:       req.Cycle,
		Description: req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// PaymentReturn handles the customer's redirect back from the gateway. A
// reconcile failure never reports the payment as failed: the customer sees
// pending or unknown and the webhook or recovery sweep settles it later.
func (s *Server) PaymentReturn(c *gin.Context) {
	trigger := paymentdomain.CallbackTrigger(c.Request.URL.Query(), paymentdomain.SourceReturn)
	out, err := s.payments.Reconcile(c.Request.Context(), trigger)
	if err != nil {
		if failure.KindOf(err) == failure.KindValidation {
			AbortWithError(c, err)
			return
		}
		logger.FromContext(c.Request.Context()).Warn("return reconcile failed",
			zap.String("transaction_id", trigger.TransactionID),
			zap.Error(err),
		)
		status := paymentdomain.StatusPending
		if failure.KindOf(err) != failure.KindUpstream {
			status = paymentdomain.StatusUnknown
		}
		out = paymentdomain.Outcome{
			TransactionID: trigger.TransactionID,
			InvoiceID:     trigger.ReferenceID,
			OrderID:       trigger.OrderID,
			Status:        status,
			Issues:        append(out.Issues, failure.IssueFrom("reconcile", err)),
		}
	}

	c.JSON(http.StatusOK, newPaymentStatusResponse(out))
}

func (s *Server) ReconcilePayment(c *gin.Context) {
	out, err := s.payments.Reconcile(c.Request.Context(), paymentdomain.Trigger{
		TransactionID: strings.TrimSpace(c.Param("transaction_id")),
		ReferenceID:   strings.TrimSpace(c.Query("invoice_id")),
		Method:        strings.TrimSpace(c.Query("method")),
		Source:        paymentdomain.SourceAPI,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPaymentStatusResponse(out))
}

func (s *Server) CancelPayment(c *gin.Context) {
	var req cancelPaymentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := s.payments.Cancel(c.Request.Context(), c.Param("transaction_id"), req.Method)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) RefundPayment(c *gin.Context) {
	var req refundPaymentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := s.payments.Refund(c.Request.Context(), c.Param("transaction_id"), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// bindOptionalJSON binds the body into out. An empty body leaves out zero.
func bindOptionalJSON(c *gin.Context, out any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return false
	}
	return true
}
