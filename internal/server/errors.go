package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	dispatcherdomain "github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
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
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

var validationErrors = []error{
	ErrInvalidRequest,
	billingaccountdomain.ErrInvalidID,
	billingaccountdomain.ErrInvalidBusiness,
	billingaccountdomain.ErrInvalidLegalName,
	billingaccountdomain.ErrInvalidPlan,
	billingaccountdomain.ErrInvalidActiveUnits,
	billingaccountdomain.ErrInvalidDiscount,
	billinginvoicedomain.ErrInvalidID,
	billinginvoicedomain.ErrInvalidReferenceDate,
	billinginvoicedomain.ErrInvalidPaymentTiming,
	billinginvoicedomain.ErrInvalidAmount,
	billinginvoicedomain.ErrInvalidCancelMotive,
	billinginvoicedomain.ErrInvalidFileKind,
	orderdomain.ErrInvalidID,
	dispatcherdomain.ErrInvalidSubject,
	dispatcherdomain.ErrInvalidStatus,
	execdomain.ErrInvalidSubject,
}

var notFoundErrors = []error{
	ErrNotFound,
	billingaccountdomain.ErrNotFound,
	billingaccountdomain.ErrChargeNotFound,
	billinginvoicedomain.ErrNotFound,
	billinginvoicedomain.ErrAccountNotFound,
	orderdomain.ErrOrderNotFound,
	orderdomain.ErrRestaurantNotFound,
	orderdomain.ErrNotFound,
	execdomain.ErrNotFound,
	gorm.ErrRecordNotFound,
}

var conflictErrors = []error{
	ErrConflict,
	billingaccountdomain.ErrAlreadyExists,
	billingaccountdomain.ErrPlanUnchanged,
	billinginvoicedomain.ErrAlreadyBilled,
	billinginvoicedomain.ErrComplementNotAllowed,
	billinginvoicedomain.ErrAmountExceedsBalance,
	billinginvoicedomain.ErrInvoiceCanceled,
	billinginvoicedomain.ErrFilesMissing,
	execdomain.ErrAlreadyRunning,
}

var unprocessableErrors = []error{
	billingaccountdomain.ErrPlanNotConfigured,
	billinginvoicedomain.ErrIncompleteTaxIdentity,
	billinginvoicedomain.ErrMissingPaymentMethod,
	billinginvoicedomain.ErrNothingToBill,
	orderdomain.ErrIncompleteTaxIdentity,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
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
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if target := matchAny(err, validationErrors); target != nil {
		code := target.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if target := matchAny(err, notFoundErrors); target != nil {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
			Code:    target.Error(),
		}
	}
	if target := matchAny(err, conflictErrors); target != nil {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Code:    target.Error(),
		}
	}
	if target := matchAny(err, unprocessableErrors); target != nil {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable_entity",
			Message: "the request cannot be processed in the current state",
			Code:    target.Error(),
		}
	}

	var classified *execdomain.Error
	if errors.As(err, &classified) {
		return mapExecutionError(classified)
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// mapExecutionError renders a classified failure returned outside an
// execution, e.g. a provider rejecting a cancellation.
func mapExecutionError(err *execdomain.Error) (int, errorPayload) {
	payload := errorPayload{
		Type:    string(err.Kind),
		Message: err.Kind.Message(),
		Code:    err.Code,
	}
	switch err.Kind {
	case execdomain.ErrorConfiguration:
		return http.StatusUnprocessableEntity, payload
	case execdomain.ErrorProvider:
		if err.Message != "" {
			payload.Message = err.Message
		}
		return http.StatusBadGateway, payload
	case execdomain.ErrorDataConsistency:
		return http.StatusConflict, payload
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func matchAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the low-cardinality type and code logged
// with failed requests.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
