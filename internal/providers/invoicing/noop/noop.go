// Package noop is a sandbox gateway that stamps nothing. Identifiers are
// derived from the request so repeated calls return the same document.
package noop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
)

const providerName = "noop"

var namespace = uuid.MustParse("6f1c8e7a-4d2b-4c55-9a1e-3b7d2f0c9e11")

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return providerName }

func (f *Factory) NewGateway(invoicing.Config) (invoicing.Gateway, error) {
	return New(), nil
}

type Gateway struct {
	mu       sync.Mutex
	folio    int64
	canceled map[string]bool
	issued   map[string]invoicing.Document
}

func New() *Gateway {
	return &Gateway{
		canceled: map[string]bool{},
		issued:   map[string]invoicing.Document{},
	}
}

func (g *Gateway) Name() string { return providerName }

func (g *Gateway) EnsureCustomer(_ context.Context, req invoicing.CustomerRequest) (invoicing.Customer, error) {
	if strings.TrimSpace(req.TaxID) == "" {
		return invoicing.Customer{}, invoicing.ErrInvalidRequest
	}
	id := uuid.NewSHA1(namespace, []byte("customer:"+req.TaxID+":"+req.ExternalID))
	return invoicing.Customer{ID: "cus_" + id.String(), Receiver: req.Receiver}, nil
}

func (g *Gateway) CreateInvoice(_ context.Context, req invoicing.InvoiceRequest) (invoicing.Document, error) {
	if len(req.Items) == 0 {
		return invoicing.Document{}, invoicing.ErrInvalidRequest
	}
	total := decimal.Zero
	for _, item := range req.Items {
		subtotal := item.Quantity.Mul(item.UnitPrice).Sub(item.Discount)
		total = total.Add(subtotal.Mul(decimal.NewFromInt(1).Add(item.TaxRate)).Round(4))
	}
	key := req.IdempotencyKey
	if key == "" {
		key = req.Reference
	}
	return g.issue("inv", key, req.Series, total), nil
}

func (g *Gateway) CreateComplement(_ context.Context, req invoicing.ComplementRequest) (invoicing.Document, error) {
	if req.RelatedTaxStampUUID == "" || !req.Amount.IsPositive() {
		return invoicing.Document{}, invoicing.ErrInvalidRequest
	}
	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("%s:%d", req.RelatedTaxStampUUID, req.Installment)
	}
	return g.issue("pay", key, "P", req.Amount), nil
}

func (g *Gateway) Cancel(_ context.Context, req invoicing.CancelRequest) error {
	if req.DocumentID == "" {
		return invoicing.ErrInvalidRequest
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.canceled[req.DocumentID] {
		return &invoicing.ProviderError{Provider: providerName, Op: "cancel", Status: 409, Message: "document already canceled"}
	}
	g.canceled[req.DocumentID] = true
	return nil
}

func (g *Gateway) FetchFile(_ context.Context, documentID string, kind invoicing.FileKind) (invoicing.File, error) {
	if documentID == "" {
		return invoicing.File{}, invoicing.ErrInvalidRequest
	}
	var content []byte
	switch kind {
	case invoicing.FilePDF:
		content = []byte("%PDF-1.4\n% sandbox " + documentID + "\n%%EOF\n")
	case invoicing.FileXML:
		content = []byte(`<?xml version="1.0" encoding="UTF-8"?><Comprobante Id="` + documentID + `"/>`)
	default:
		return invoicing.File{}, invoicing.ErrInvalidRequest
	}
	return invoicing.File{Kind: kind, ContentType: kind.ContentType(), Content: content}, nil
}

func (g *Gateway) issue(prefix, key, series string, total decimal.Decimal) invoicing.Document {
	g.mu.Lock()
	defer g.mu.Unlock()

	if key != "" {
		if doc, ok := g.issued[key]; ok {
			return doc
		}
	}

	g.folio++
	stamp := uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s:%s:%d", prefix, key, g.folio)))
	doc := invoicing.Document{
		ID:           prefix + "_" + strings.ReplaceAll(stamp.String(), "-", "")[:20],
		Series:       series,
		Folio:        fmt.Sprintf("%d", g.folio),
		TaxStampUUID: strings.ToUpper(stamp.String()),
		Total:        total,
		IssuedAt:     time.Now().UTC(),
	}
	if key != "" {
		g.issued[key] = doc
	}
	return doc
}
