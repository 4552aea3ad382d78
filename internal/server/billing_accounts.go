package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
)

type createBillingAccountRequest struct {
	BusinessID         string `json:"business_id"`
	LegalName          string `json:"legal_name"`
	TaxID              string `json:"tax_id"`
	TaxRegime          string `json:"tax_regime"`
	ZipCode            string `json:"zip_code"`
	Email              string `json:"email"`
	Plan               string `json:"plan"`
	ActiveUnits        int    `json:"active_units"`
	PaymentMethodID    string `json:"payment_method_id"`
	ProcessorAccountID string `json:"processor_account_id"`
}

type updateBillingAccountRequest struct {
	LegalName          *string `json:"legal_name"`
	TaxID              *string `json:"tax_id"`
	TaxRegime          *string `json:"tax_regime"`
	ZipCode            *string `json:"zip_code"`
	Email              *string `json:"email"`
	ActiveUnits        *int    `json:"active_units"`
	PaymentMethodID    *string `json:"payment_method_id"`
	ProcessorAccountID *string `json:"processor_account_id"`
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

type addDiscountRequest struct {
	ChargeID   string `json:"charge_id"`
	Amount     string `json:"amount"`
	AmountKind string `json:"amount_kind"`
}

func (s *Server) CreateBillingAccount(c *gin.Context) {
	var req createBillingAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	catalog, err := s.accountSvc.Create(c.Request.Context(), billingaccountdomain.CreateAccountRequest{
		BusinessID:         req.BusinessID,
		LegalName:          req.LegalName,
		TaxID:              req.TaxID,
		TaxRegime:          req.TaxRegime,
		ZipCode:            req.ZipCode,
		Email:              req.Email,
		Plan:               req.Plan,
		ActiveUnits:        req.ActiveUnits,
		PaymentMethodID:    req.PaymentMethodID,
		ProcessorAccountID: req.ProcessorAccountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": catalog})
}

func (s *Server) GetBillingAccount(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	catalog, err := s.accountSvc.GetCatalog(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": catalog})
}

func (s *Server) UpdateBillingAccount(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	var req updateBillingAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accountSvc.Update(c.Request.Context(), id, billingaccountdomain.UpdateBillingRequest{
		LegalName:          req.LegalName,
		TaxID:              req.TaxID,
		TaxRegime:          req.TaxRegime,
		ZipCode:            req.ZipCode,
		Email:              req.Email,
		ActiveUnits:        req.ActiveUnits,
		PaymentMethodID:    req.PaymentMethodID,
		ProcessorAccountID: req.ProcessorAccountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Plan) == "" {
		AbortWithError(c, newValidationError("plan", "required", "plan is required"))
		return
	}

	catalog, err := s.accountSvc.ChangePlan(c.Request.Context(), billingaccountdomain.ChangePlanRequest{
		AccountID: c.Param("id"),
		Plan:      req.Plan,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": catalog})
}

func (s *Server) AddDiscount(c *gin.Context) {
	var req addDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	discount, err := s.accountSvc.AddDiscount(c.Request.Context(), billingaccountdomain.AddDiscountRequest{
		AccountID:  c.Param("id"),
		ChargeID:   req.ChargeID,
		Amount:     req.Amount,
		AmountKind: req.AmountKind,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": discount})
}

func (s *Server) PreviewInvoice(c *gin.Context) {
	ref, err := parseReferenceDate(c.Query("reference_date"))
	if err != nil {
		AbortWithError(c, newValidationError("reference_date", "invalid_reference_date", "invalid reference date"))
		return
	}

	priced, err := s.invoiceSvc.Preview(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": priced})
}

func (s *Server) PreviewInvoicePDF(c *gin.Context) {
	ref, err := parseReferenceDate(c.Query("reference_date"))
	if err != nil {
		AbortWithError(c, newValidationError("reference_date", "invalid_reference_date", "invalid reference date"))
		return
	}

	content, err := s.invoiceSvc.RenderPreview(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="preview.pdf"`)
	c.Data(http.StatusOK, "application/pdf", content)
}
