// Package invoicing defines the boundary to the external tax-invoicing
// provider that stamps legal invoices and payment complements.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payment timing codes.
const (
	PaymentTimingPUE = "PUE" // paid in full at issue time
	PaymentTimingPPD = "PPD" // paid later, settled through complements
)

type FileKind string

const (
	FilePDF FileKind = "pdf"
	FileXML FileKind = "xml"
)

func (k FileKind) ContentType() string {
	if k == FileXML {
		return "application/xml"
	}
	return "application/pdf"
}

var (
	ErrProviderNotFound = errors.New("invoicing_provider_not_found")
	ErrInvalidConfig    = errors.New("invoicing_provider_invalid_config")
	ErrInvalidRequest   = errors.New("invoicing_provider_invalid_request")
)

// ProviderError is a failure reported by, or while talking to, the provider.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// Receiver is the tax identity an invoice is addressed to.
type Receiver struct {
	TaxID     string `json:"tax_id"`
	LegalName string `json:"legal_name"`
	TaxRegime string `json:"tax_regime"`
	ZipCode   string `json:"zip_code"`
	CFDIUse   string `json:"cfdi_use,omitempty"`
	Email     string `json:"email,omitempty"`
}

type CustomerRequest struct {
	Receiver
	ExternalID string
}

type Customer struct {
	ID string
	Receiver
}

type Item struct {
	ProductCode string
	UnitCode    string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	TaxRate     decimal.Decimal
}

type InvoiceRequest struct {
	IdempotencyKey  string
	CustomerID      string
	Receiver        Receiver
	Series          string
	Currency        string
	PaymentTiming   string
	PaymentForm     string
	ExpeditionPlace string
	Items           []Item
	Reference       string
}

type Document struct {
	ID           string
	Series       string
	Folio        string
	TaxStampUUID string
	Total        decimal.Decimal
	IssuedAt     time.Time
}

type ComplementRequest struct {
	IdempotencyKey      string
	CustomerID          string
	Receiver            Receiver
	RelatedDocumentID   string
	RelatedTaxStampUUID string
	Currency            string
	PaymentForm         string
	Amount              decimal.Decimal
	PreviousBalance     decimal.Decimal
	Installment         int
	PaidAt              time.Time
}

type CancelRequest struct {
	DocumentID  string
	Motive      string
	Replacement string
}

type File struct {
	Kind        FileKind
	ContentType string
	Content     []byte
}

// Gateway is implemented by each invoicing provider adapter.
type Gateway interface {
	Name() string
	EnsureCustomer(ctx context.Context, req CustomerRequest) (Customer, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Document, error)
	CreateComplement(ctx context.Context, req ComplementRequest) (Document, error)
	Cancel(ctx context.Context, req CancelRequest) error
	FetchFile(ctx context.Context, documentID string, kind FileKind) (File, error)
}

// Config is what a factory needs to build a gateway.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type Factory interface {
	Provider() string
	NewGateway(cfg Config) (Gateway, error)
}
