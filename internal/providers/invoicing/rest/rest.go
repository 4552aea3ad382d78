package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
)

const providerName = "rest"

type Factory struct {
	client *http.Client
}

func NewFactory() *Factory {
	return &Factory{}
}

// WithHTTPClient overrides the transport, mostly for tests.
func (f *Factory) WithHTTPClient(client *http.Client) *Factory {
	f.client = client
	return f
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewGateway(cfg invoicing.Config) (invoicing.Gateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || strings.TrimSpace(cfg.Username) == "" {
		return nil, invoicing.ErrInvalidConfig
	}
	if _, err := url.Parse(base); err != nil {
		return nil, invoicing.ErrInvalidConfig
	}

	client := f.client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Gateway{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
	}, nil
}

// Gateway talks JSON over HTTP to the provider API.
type Gateway struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

func (g *Gateway) Name() string { return providerName }

type customerPayload struct {
	LegalName  string         `json:"legal_name"`
	TaxID      string         `json:"tax_id"`
	TaxSystem  string         `json:"tax_system"`
	Email      string         `json:"email,omitempty"`
	ExternalID string         `json:"external_id,omitempty"`
	Address    addressPayload `json:"address"`
}

type addressPayload struct {
	Zip string `json:"zip"`
}

type customerResponse struct {
	ID string `json:"id"`
}

func (g *Gateway) EnsureCustomer(ctx context.Context, req invoicing.CustomerRequest) (invoicing.Customer, error) {
	if strings.TrimSpace(req.TaxID) == "" || strings.TrimSpace(req.LegalName) == "" {
		return invoicing.Customer{}, invoicing.ErrInvalidRequest
	}
	body := customerPayload{
		LegalName:  req.LegalName,
		TaxID:      req.TaxID,
		TaxSystem:  req.TaxRegime,
		Email:      req.Email,
		ExternalID: req.ExternalID,
		Address:    addressPayload{Zip: req.ZipCode},
	}

	var resp customerResponse
	if err := g.do(ctx, "ensure_customer", http.MethodPost, "/customers", "", body, &resp); err != nil {
		return invoicing.Customer{}, err
	}
	if resp.ID == "" {
		return invoicing.Customer{}, &invoicing.ProviderError{Provider: providerName, Op: "ensure_customer", Message: "empty customer id"}
	}
	return invoicing.Customer{ID: resp.ID, Receiver: req.Receiver}, nil
}

type taxPayload struct {
	Type string `json:"type"`
	Rate string `json:"rate"`
}

type productPayload struct {
	Description string       `json:"description"`
	ProductKey  string       `json:"product_key"`
	UnitKey     string       `json:"unit_key"`
	Price       string       `json:"price"`
	TaxIncluded bool         `json:"tax_included"`
	Taxes       []taxPayload `json:"taxes"`
}

type itemPayload struct {
	Quantity string         `json:"quantity"`
	Discount string         `json:"discount,omitempty"`
	Product  productPayload `json:"product"`
}

type receiverPayload struct {
	LegalName string         `json:"legal_name"`
	TaxID     string         `json:"tax_id"`
	TaxSystem string         `json:"tax_system"`
	Address   addressPayload `json:"address"`
}

type invoicePayload struct {
	Type          string           `json:"type"`
	Customer      any              `json:"customer"`
	Items         []itemPayload    `json:"items,omitempty"`
	Use           string           `json:"use,omitempty"`
	PaymentForm   string           `json:"payment_form,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Series        string           `json:"series,omitempty"`
	PlaceOfIssue  string           `json:"place_of_issue,omitempty"`
	ExternalID    string           `json:"external_id,omitempty"`
	Complements   []complementData `json:"complements,omitempty"`
}

type complementData struct {
	Type string         `json:"type"`
	Data []paymentEntry `json:"data"`
}

type paymentEntry struct {
	PaymentForm      string            `json:"payment_form"`
	Date             string            `json:"date"`
	Currency         string            `json:"currency"`
	RelatedDocuments []relatedDocEntry `json:"related_documents"`
}

type relatedDocEntry struct {
	UUID        string `json:"uuid"`
	Amount      string `json:"amount"`
	Installment int    `json:"installment"`
	LastBalance string `json:"last_balance"`
}

type documentResponse struct {
	ID          string `json:"id"`
	Series      string `json:"series"`
	FolioNumber int64  `json:"folio_number"`
	UUID        string `json:"uuid"`
	Total       string `json:"total"`
	Date        string `json:"date"`
}

func (g *Gateway) CreateInvoice(ctx context.Context, req invoicing.InvoiceRequest) (invoicing.Document, error) {
	if len(req.Items) == 0 {
		return invoicing.Document{}, invoicing.ErrInvalidRequest
	}

	items := make([]itemPayload, 0, len(req.Items))
	for _, item := range req.Items {
		payload := itemPayload{
			Quantity: item.Quantity.String(),
			Product: productPayload{
				Description: item.Description,
				ProductKey:  item.ProductCode,
				UnitKey:     item.UnitCode,
				Price:       item.UnitPrice.String(),
				Taxes:       []taxPayload{{Type: "IVA", Rate: item.TaxRate.String()}},
			},
		}
		if item.Discount.IsPositive() {
			payload.Discount = item.Discount.String()
		}
		items = append(items, payload)
	}

	body := invoicePayload{
		Type:          "I",
		Customer:      g.customerRef(req.CustomerID, req.Receiver),
		Items:         items,
		Use:           req.Receiver.CFDIUse,
		PaymentForm:   req.PaymentForm,
		PaymentMethod: req.PaymentTiming,
		Currency:      req.Currency,
		Series:        req.Series,
		PlaceOfIssue:  req.ExpeditionPlace,
		ExternalID:    req.Reference,
	}

	var resp documentResponse
	if err := g.do(ctx, "create_invoice", http.MethodPost, "/invoices", req.IdempotencyKey, body, &resp); err != nil {
		return invoicing.Document{}, err
	}
	return toDocument(resp), nil
}

func (g *Gateway) CreateComplement(ctx context.Context, req invoicing.ComplementRequest) (invoicing.Document, error) {
	if strings.TrimSpace(req.RelatedTaxStampUUID) == "" || !req.Amount.IsPositive() {
		return invoicing.Document{}, invoicing.ErrInvalidRequest
	}
	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	body := invoicePayload{
		Type:     "P",
		Customer: g.customerRef(req.CustomerID, req.Receiver),
		Complements: []complementData{{
			Type: "pago",
			Data: []paymentEntry{{
				PaymentForm: req.PaymentForm,
				Date:        paidAt.Format(time.RFC3339),
				Currency:    req.Currency,
				RelatedDocuments: []relatedDocEntry{{
					UUID:        req.RelatedTaxStampUUID,
					Amount:      req.Amount.StringFixed(2),
					Installment: req.Installment,
					LastBalance: req.PreviousBalance.StringFixed(2),
				}},
			}},
		}},
	}

	var resp documentResponse
	if err := g.do(ctx, "create_complement", http.MethodPost, "/invoices", req.IdempotencyKey, body, &resp); err != nil {
		return invoicing.Document{}, err
	}
	return toDocument(resp), nil
}

func (g *Gateway) Cancel(ctx context.Context, req invoicing.CancelRequest) error {
	if strings.TrimSpace(req.DocumentID) == "" {
		return invoicing.ErrInvalidRequest
	}
	motive := req.Motive
	if motive == "" {
		motive = "02"
	}
	query := url.Values{}
	query.Set("motive", motive)
	if req.Replacement != "" {
		query.Set("substitution", req.Replacement)
	}
	path := "/invoices/" + url.PathEscape(req.DocumentID) + "?" + query.Encode()
	return g.do(ctx, "cancel", http.MethodDelete, path, "", nil, nil)
}

func (g *Gateway) FetchFile(ctx context.Context, documentID string, kind invoicing.FileKind) (invoicing.File, error) {
	if strings.TrimSpace(documentID) == "" || (kind != invoicing.FilePDF && kind != invoicing.FileXML) {
		return invoicing.File{}, invoicing.ErrInvalidRequest
	}
	op := "fetch_" + string(kind)
	path := "/invoices/" + url.PathEscape(documentID) + "/" + string(kind)

	httpReq, err := g.newRequest(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return invoicing.File{}, err
	}
	res, err := g.client.Do(httpReq)
	if err != nil {
		return invoicing.File{}, &invoicing.ProviderError{Provider: providerName, Op: op, Message: err.Error(), Err: err}
	}
	defer res.Body.Close()

	content, err := io.ReadAll(res.Body)
	if err != nil {
		return invoicing.File{}, &invoicing.ProviderError{Provider: providerName, Op: op, Status: res.StatusCode, Message: err.Error(), Err: err}
	}
	if res.StatusCode >= 300 {
		return invoicing.File{}, providerError(op, res.StatusCode, content)
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = kind.ContentType()
	}
	return invoicing.File{Kind: kind, ContentType: contentType, Content: content}, nil
}

func (g *Gateway) customerRef(customerID string, receiver invoicing.Receiver) any {
	if customerID != "" {
		return customerID
	}
	return receiverPayload{
		LegalName: receiver.LegalName,
		TaxID:     receiver.TaxID,
		TaxSystem: receiver.TaxRegime,
		Address:   addressPayload{Zip: receiver.ZipCode},
	}
}

func (g *Gateway) do(ctx context.Context, op, method, path, idempotencyKey string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &invoicing.ProviderError{Provider: providerName, Op: op, Message: err.Error(), Err: err}
		}
		payload = bytes.NewReader(raw)
	}

	if idempotencyKey == "" && method == http.MethodPost {
		idempotencyKey = ulid.Make().String()
	}

	req, err := g.newRequest(ctx, method, path, idempotencyKey, payload)
	if err != nil {
		return err
	}
	res, err := g.client.Do(req)
	if err != nil {
		return &invoicing.ProviderError{Provider: providerName, Op: op, Message: err.Error(), Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &invoicing.ProviderError{Provider: providerName, Op: op, Status: res.StatusCode, Message: err.Error(), Err: err}
	}
	if res.StatusCode >= 300 {
		return providerError(op, res.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &invoicing.ProviderError{Provider: providerName, Op: op, Status: res.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path, idempotencyKey string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, &invoicing.ProviderError{Provider: providerName, Op: method, Message: err.Error(), Err: err}
	}
	req.SetBasicAuth(g.username, g.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return req, nil
}

func providerError(op string, status int, body []byte) *invoicing.ProviderError {
	var parsed struct {
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		message = parsed.Message
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &invoicing.ProviderError{Provider: providerName, Op: op, Status: status, Message: message}
}

func toDocument(resp documentResponse) invoicing.Document {
	doc := invoicing.Document{
		ID:           resp.ID,
		Series:       resp.Series,
		TaxStampUUID: resp.UUID,
		IssuedAt:     time.Now().UTC(),
	}
	if resp.FolioNumber > 0 {
		doc.Folio = fmt.Sprintf("%d", resp.FolioNumber)
	}
	if total, err := decimal.NewFromString(resp.Total); err == nil {
		doc.Total = total
	}
	if issued, err := time.Parse(time.RFC3339, resp.Date); err == nil {
		doc.IssuedAt = issued.UTC()
	}
	return doc
}
