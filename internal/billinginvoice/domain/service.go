package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/charging"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
)

type GenerateRequest struct {
	AccountID     string
	ReferenceDate time.Time
	// PaymentTiming is PUE or PPD. Empty picks PPD when the account has a
	// payment method on file and PUE otherwise.
	PaymentTiming string
}

type ComplementRequest struct {
	InvoiceID   string
	Amount      string
	PaymentForm string
	PaidAt      time.Time
}

type CancelRequest struct {
	InvoiceID   string
	Motive      string
	Replacement string
}

type ListRequest struct {
	AccountID string
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []BillingInvoice `json:"invoices"`
}

type Service interface {
	Preview(ctx context.Context, accountID string, referenceDate time.Time) (charging.PricedInvoice, error)
	RenderPreview(ctx context.Context, accountID string, referenceDate time.Time) ([]byte, error)

	// Generate issues the invoice of one period. It is meant to run inside an
	// execution; failures are classified execution errors.
	Generate(ctx context.Context, req GenerateRequest) (BillingInvoice, error)
	Trigger(ctx context.Context, req GenerateRequest) (execdomain.Execution, bool, error)

	GenerateComplement(ctx context.Context, req ComplementRequest) (BillingInvoiceComplement, error)
	TriggerComplement(ctx context.Context, req ComplementRequest) (execdomain.Execution, bool, error)

	Cancel(ctx context.Context, req CancelRequest) (BillingInvoice, error)
	AttachFiles(ctx context.Context, invoiceID string) (BillingInvoice, error)
	FileURL(ctx context.Context, invoiceID string, kind invoicing.FileKind) (string, error)
	Get(ctx context.Context, invoiceID string) (InvoiceDetail, error)
	ListByAccount(ctx context.Context, req ListRequest) (ListResponse, error)
}

// BillingSubject is the execution subject of an account's period.
func BillingSubject(accountID snowflake.ID, periodLabel string) string {
	return fmt.Sprintf("%s:%s:%s", execdomain.SubjectBillingAccount, accountID, periodLabel)
}

// ComplementSubject is the execution subject of one payment installment.
func ComplementSubject(invoiceID snowflake.ID, installment int) string {
	return fmt.Sprintf("%s:%s:%d", execdomain.SubjectComplement, invoiceID, installment)
}

var (
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidReferenceDate  = errors.New("invalid_reference_date")
	ErrInvalidPaymentTiming  = errors.New("invalid_payment_timing")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCancelMotive   = errors.New("invalid_cancel_motive")
	ErrInvalidFileKind       = errors.New("invalid_file_kind")
	ErrNotFound              = errors.New("not_found")
	ErrAccountNotFound       = errors.New("billing_account_not_found")
	ErrIncompleteTaxIdentity = errors.New("incomplete_tax_identity")
	ErrMissingPaymentMethod  = errors.New("missing_payment_method")
	ErrAlreadyBilled         = errors.New("period_already_billed")
	ErrNothingToBill         = errors.New("nothing_to_bill")
	ErrComplementNotAllowed  = errors.New("complement_not_allowed")
	ErrAmountExceedsBalance  = errors.New("amount_exceeds_balance")
	ErrInvoiceCanceled       = errors.New("invoice_canceled")
	ErrFilesMissing          = errors.New("invoice_files_missing")
)
