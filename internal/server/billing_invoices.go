package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
)

type generateInvoiceRequest struct {
	ReferenceDate string `json:"reference_date"`
	PaymentTiming string `json:"payment_timing"`
}

type createComplementRequest struct {
	Amount      string `json:"amount"`
	PaymentForm string `json:"payment_form"`
	PaidAt      string `json:"paid_at"`
}

type cancelInvoiceRequest struct {
	Motive      string `json:"motive"`
	Replacement string `json:"replacement"`
}

type executionResponse struct {
	Execution execdomain.Execution `json:"execution"`
	Succeeded bool                 `json:"succeeded"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	ref, err := parseReferenceDate(req.ReferenceDate)
	if err != nil {
		AbortWithError(c, newValidationError("reference_date", "invalid_reference_date", "invalid reference date"))
		return
	}

	exec, succeeded, err := s.invoiceSvc.Trigger(c.Request.Context(), billinginvoicedomain.GenerateRequest{
		AccountID:     c.Param("id"),
		ReferenceDate: ref,
		PaymentTiming: strings.ToUpper(strings.TrimSpace(req.PaymentTiming)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": executionResponse{Execution: exec, Succeeded: succeeded}})
}

func (s *Server) ListInvoices(c *gin.Context) {
	pageSize, err := parseOptionalInt32(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}

	resp, err := s.invoiceSvc.ListByAccount(c.Request.Context(), billinginvoicedomain.ListRequest{
		AccountID: c.Param("id"),
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoice(c *gin.Context) {
	detail, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) CreateComplement(c *gin.Context) {
	var req createComplementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var paidAt time.Time
	if strings.TrimSpace(req.PaidAt) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PaidAt))
		if err != nil {
			AbortWithError(c, newValidationError("paid_at", "invalid_paid_at", "paid_at must be RFC3339"))
			return
		}
		paidAt = parsed.UTC()
	}

	exec, succeeded, err := s.invoiceSvc.TriggerComplement(c.Request.Context(), billinginvoicedomain.ComplementRequest{
		InvoiceID:   c.Param("id"),
		Amount:      req.Amount,
		PaymentForm: req.PaymentForm,
		PaidAt:      paidAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": executionResponse{Execution: exec, Succeeded: succeeded}})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	var req cancelInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	invoice, err := s.invoiceSvc.Cancel(c.Request.Context(), billinginvoicedomain.CancelRequest{
		InvoiceID:   c.Param("id"),
		Motive:      strings.TrimSpace(req.Motive),
		Replacement: strings.TrimSpace(req.Replacement),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) AttachInvoiceFiles(c *gin.Context) {
	invoice, err := s.invoiceSvc.AttachFiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) GetInvoiceFileURL(c *gin.Context) {
	kind := invoicing.FileKind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if kind != invoicing.FilePDF && kind != invoicing.FileXML {
		AbortWithError(c, billinginvoicedomain.ErrInvalidFileKind)
		return
	}

	url, err := s.invoiceSvc.FileURL(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"kind": kind, "url": url}})
}
