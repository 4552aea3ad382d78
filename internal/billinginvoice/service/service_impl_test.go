package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	billingaccountrepository "github.com/smallbiznis/supplyrail/internal/billingaccount/repository"
	billingaccountservice "github.com/smallbiznis/supplyrail/internal/billingaccount/service"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice/repository"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	execrepository "github.com/smallbiznis/supplyrail/internal/invoicingexecution/repository"
	execservice "github.com/smallbiznis/supplyrail/internal/invoicingexecution/service"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing/noop"
	"github.com/smallbiznis/supplyrail/internal/providers/pdf"
	"github.com/smallbiznis/supplyrail/internal/providers/storage"
	usagerepository "github.com/smallbiznis/supplyrail/internal/usage/repository"
	usageservice "github.com/smallbiznis/supplyrail/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type gatewayStub struct {
	*noop.Gateway
	createErr error
	fetchErr  error
	customers []invoicing.CustomerRequest
	invoices  []invoicing.InvoiceRequest
}

func (g *gatewayStub) EnsureCustomer(ctx context.Context, req invoicing.CustomerRequest) (invoicing.Customer, error) {
	g.customers = append(g.customers, req)
	return g.Gateway.EnsureCustomer(ctx, req)
}

func (g *gatewayStub) CreateInvoice(ctx context.Context, req invoicing.InvoiceRequest) (invoicing.Document, error) {
	g.invoices = append(g.invoices, req)
	if g.createErr != nil {
		return invoicing.Document{}, g.createErr
	}
	return g.Gateway.CreateInvoice(ctx, req)
}

func (g *gatewayStub) FetchFile(ctx context.Context, documentID string, kind invoicing.FileKind) (invoicing.File, error) {
	if g.fetchErr != nil {
		return invoicing.File{}, g.fetchErr
	}
	return g.Gateway.FetchFile(ctx, documentID, kind)
}

type fixture struct {
	svc        *Service
	accounts   billingaccountdomain.Service
	executions execdomain.Service
	gateway    *gatewayStub
	store      *storage.Memory
	clock      *clock.FakeClock
	db         *gorm.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&billingaccountdomain.BillingAccount{},
		&billingaccountdomain.Charge{},
		&billingaccountdomain.ChargeDiscount{},
		&domain.BillingInvoice{},
		&domain.BillingInvoiceCharge{},
		&domain.BillingInvoiceComplement{},
		&execdomain.Execution{},
	))
	require.NoError(t, db.Exec(`CREATE TABLE order_invoices (
		id INTEGER PRIMARY KEY,
		supplier_business_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	holder := config.NewStaticInvoicingConfigHolder(config.DefaultInvoicingConfig())

	accounts := billingaccountservice.New(billingaccountservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Repo:      billingaccountrepository.Provide(),
		Invoicing: holder,
	})
	usage := usageservice.New(usageservice.Params{
		DB:    db,
		Log:   log,
		Clock: fake,
		Repo:  usagerepository.Provide(),
	})
	executions := execservice.New(execservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  execrepository.Provide(),
	})
	gateway := &gatewayStub{Gateway: noop.New()}
	store := storage.NewMemory()

	svc := New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Repo:       repository.Provide(),
		Accounts:   accounts,
		Usage:      usage,
		Executions: executions,
		Gateway:    gateway,
		Store:      store,
		Renderer:   pdf.New(),
		Invoicing:  holder,
	}).(*Service)

	return &fixture{
		svc:        svc,
		accounts:   accounts,
		executions: executions,
		gateway:    gateway,
		store:      store,
		clock:      fake,
		db:         db,
	}
}

func (f *fixture) createAccount(t *testing.T, req billingaccountdomain.CreateAccountRequest) billingaccountdomain.BillingAccount {
	t.Helper()
	if req.BusinessID == "" {
		req.BusinessID = "2001"
	}
	if req.LegalName == "" {
		req.LegalName = "Proveedora del Norte"
	}
	if req.Plan == "" {
		req.Plan = "commercial_monthly"
	}
	catalog, err := f.accounts.Create(context.Background(), req)
	require.NoError(t, err)
	return catalog.Account
}

func withTaxID(req billingaccountdomain.CreateAccountRequest) billingaccountdomain.CreateAccountRequest {
	req.TaxID = "PNO010101AAA"
	req.TaxRegime = "601"
	req.ZipCode = "64000"
	return req
}

func decodeResult(t *testing.T, exec execdomain.Execution) execdomain.Result {
	t.Helper()
	result, err := exec.DecodeResult()
	require.NoError(t, err)
	return result
}

func listInvoices(t *testing.T, f *fixture, accountID snowflake.ID) []domain.BillingInvoice {
	t.Helper()
	resp, err := f.svc.ListByAccount(context.Background(), domain.ListRequest{AccountID: accountID.String()})
	require.NoError(t, err)
	return resp.Invoices
}

func TestTriggerIssuesInvoiceWithChargeSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))

	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	require.True(t, succeeded, "%s", exec.Result)
	assert.Equal(t, domain.BillingSubject(account.ID, "2025-03"), exec.SubjectID)

	result := decodeResult(t, exec)
	detail, err := f.svc.Get(ctx, result.Reference)
	require.NoError(t, err)

	invoice := detail.Invoice
	assert.Equal(t, domain.StatusActive, invoice.Status)
	assert.Equal(t, "2025-03", invoice.PeriodLabel)
	assert.Equal(t, invoicing.PaymentTimingPUE, invoice.PaymentTiming)
	assert.Equal(t, result.DocumentID, invoice.ProviderDocumentID)
	assert.True(t, invoice.Subtotal.Equal(decimal.RequireFromString("1640")), invoice.Subtotal.String())
	assert.True(t, invoice.Total.Equal(decimal.RequireFromString("1902.4")), invoice.Total.String())
	assert.True(t, invoice.Tax.Equal(decimal.RequireFromString("262.4")), invoice.Tax.String())
	assert.True(t, invoice.Balance().IsZero())
	require.Len(t, detail.Charges, 2)

	require.True(t, invoice.HasFiles())
	pdfContent, ok := f.store.Get(invoice.PDFKey)
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(pdfContent, []byte("%PDF")))
	assert.Contains(t, invoice.PDFKey, "invoices/proveedora-del-norte/2025-03/")

	stored, err := f.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ProviderCustomerID)

	require.Len(t, f.gateway.invoices, 1)
	sent := f.gateway.invoices[0]
	assert.Equal(t, "PNO010101AAA", sent.Receiver.TaxID)
	assert.Equal(t, domain.BillingSubject(account.ID, "2025-03")+":1", sent.IdempotencyKey)
	require.Len(t, sent.Items, 2)
}

func TestTriggerTwiceWarnsAndKeepsSingleInvoice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))

	_, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	require.True(t, succeeded)

	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	assert.False(t, succeeded)
	assert.Equal(t, execdomain.StatusFailed, exec.Status)
	assert.Equal(t, 2, exec.Attempts)

	result := decodeResult(t, exec)
	assert.True(t, result.Warning)
	assert.Equal(t, "already_billed", result.Code)
	assert.Len(t, listInvoices(t, f, account.ID), 1)
	assert.Len(t, f.gateway.invoices, 1)
}

func TestTriggerWithoutTaxIDUsesPublicCustomer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, billingaccountdomain.CreateAccountRequest{})

	_, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	require.True(t, succeeded)

	require.Len(t, f.gateway.invoices, 1)
	assert.Equal(t, "XAXX010101000", f.gateway.invoices[0].Receiver.TaxID)
	assert.Equal(t, "S01", f.gateway.invoices[0].Receiver.CFDIUse)

	stored, err := f.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ProviderCustomerID)
}

func TestGenerateConfigurationFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))
	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{
		AccountID:     account.ID.String(),
		PaymentTiming: "PPD",
	})
	require.NoError(t, err)
	assert.False(t, succeeded)
	result := decodeResult(t, exec)
	assert.Equal(t, execdomain.ErrorConfiguration, result.ErrorKind)
	assert.Equal(t, "missing_payment_method", result.Code)

	partial := f.createAccount(t, billingaccountdomain.CreateAccountRequest{
		BusinessID: "2002",
		TaxID:      "PNO010101AAA",
	})
	_, err = f.svc.Generate(ctx, domain.GenerateRequest{AccountID: partial.ID.String()})
	assert.ErrorIs(t, err, domain.ErrIncompleteTaxIdentity)

	_, err = f.svc.Generate(ctx, domain.GenerateRequest{AccountID: "999"})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.Empty(t, f.gateway.invoices)
}

func TestProviderRejectionPersistsNothingAndRetrySucceeds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))

	f.gateway.createErr = &invoicing.ProviderError{Provider: "noop", Op: "create_invoice", Status: 503, Message: "stamping service unavailable"}
	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	assert.False(t, succeeded)
	result := decodeResult(t, exec)
	assert.Equal(t, execdomain.ErrorProvider, result.ErrorKind)
	assert.Equal(t, "stamping service unavailable", result.Message)
	assert.Empty(t, listInvoices(t, f, account.ID))

	f.gateway.createErr = nil
	exec, succeeded, err = f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	assert.True(t, succeeded)
	assert.Equal(t, 2, exec.Attempts)
	assert.Len(t, listInvoices(t, f, account.ID), 1)
}

func TestFileFailureKeepsInvoiceAndAttachLater(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))

	f.gateway.fetchErr = &invoicing.ProviderError{Provider: "noop", Op: "fetch_file", Status: 502, Message: "file not ready"}
	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	assert.False(t, succeeded)

	result := decodeResult(t, exec)
	assert.Equal(t, "file_fetch_failed", result.Code)
	assert.NotEmpty(t, result.DocumentID)

	invoices := listInvoices(t, f, account.ID)
	require.Len(t, invoices, 1)
	assert.False(t, invoices[0].HasFiles())

	_, err = f.svc.FileURL(ctx, invoices[0].ID.String(), invoicing.FilePDF)
	assert.ErrorIs(t, err, domain.ErrFilesMissing)

	f.gateway.fetchErr = nil
	attached, err := f.svc.AttachFiles(ctx, invoices[0].ID.String())
	require.NoError(t, err)
	assert.True(t, attached.HasFiles())

	url, err := f.svc.FileURL(ctx, attached.ID.String(), invoicing.FileXML)
	require.NoError(t, err)
	assert.Contains(t, url, ".xml")

	_, err = f.svc.FileURL(ctx, attached.ID.String(), invoicing.FileKind("zip"))
	assert.ErrorIs(t, err, domain.ErrInvalidFileKind)
}

func TestComplementAgainstDeferredInvoice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{PaymentMethodID: "pm_123"}))

	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	require.True(t, succeeded)
	invoiceID := decodeResult(t, exec).Reference

	compExec, succeeded, err := f.svc.TriggerComplement(ctx, domain.ComplementRequest{InvoiceID: invoiceID, Amount: "500"})
	require.NoError(t, err)
	require.True(t, succeeded, "%s", compExec.Result)
	assert.Equal(t, execdomain.SubjectComplement, compExec.SubjectKind)

	detail, err := f.svc.Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.PaymentTimingPPD, detail.Invoice.PaymentTiming)
	require.Len(t, detail.Complements, 1)
	complement := detail.Complements[0]
	assert.Equal(t, 1, complement.Installment)
	assert.True(t, complement.PreviousBalance.Equal(decimal.RequireFromString("1902.4")))
	assert.True(t, complement.OutstandingBalance.Equal(decimal.RequireFromString("1402.4")))
	assert.True(t, detail.Invoice.Balance().Equal(decimal.RequireFromString("1402.4")))

	_, _, err = f.svc.TriggerComplement(ctx, domain.ComplementRequest{InvoiceID: invoiceID, Amount: "1500"})
	assert.ErrorIs(t, err, domain.ErrAmountExceedsBalance)

	_, _, err = f.svc.TriggerComplement(ctx, domain.ComplementRequest{InvoiceID: invoiceID, Amount: "-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	invoice, err := f.svc.repo.FindByID(ctx, f.db, detail.Invoice.ID)
	require.NoError(t, err)
	_, err = f.executions.FetchStatus(ctx, domain.ComplementSubject(invoice.ID, 2))
	assert.ErrorIs(t, err, execdomain.ErrNotFound)
}

func TestComplementRejectedForPaidInFullInvoice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))

	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	require.True(t, succeeded)
	invoiceID := decodeResult(t, exec).Reference

	_, _, err = f.svc.TriggerComplement(ctx, domain.ComplementRequest{InvoiceID: invoiceID, Amount: "100"})
	require.ErrorIs(t, err, domain.ErrComplementNotAllowed)
	classified := execdomain.Classify(err)
	assert.Equal(t, execdomain.ErrorConfiguration, classified.Kind)

	id, err := parseID(invoiceID)
	require.NoError(t, err)
	_, err = f.executions.FetchStatus(ctx, domain.ComplementSubject(id, 1))
	assert.ErrorIs(t, err, execdomain.ErrNotFound)

	detail, err := f.svc.Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Empty(t, detail.Complements)
}

func TestCancelFreesThePeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{}))

	exec, _, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	first := decodeResult(t, exec)

	_, err = f.svc.Cancel(ctx, domain.CancelRequest{InvoiceID: first.Reference, Motive: "01"})
	assert.ErrorIs(t, err, domain.ErrInvalidCancelMotive)

	canceled, err := f.svc.Cancel(ctx, domain.CancelRequest{InvoiceID: first.Reference})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)
	assert.Equal(t, "02", canceled.CancelMotive)
	require.NotNil(t, canceled.CanceledAt)

	_, err = f.svc.Cancel(ctx, domain.CancelRequest{InvoiceID: first.Reference})
	assert.ErrorIs(t, err, domain.ErrInvoiceCanceled)

	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	require.True(t, succeeded)
	second := decodeResult(t, exec)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	assert.Len(t, listInvoices(t, f, account.ID), 2)
	require.Len(t, f.gateway.invoices, 2)
	assert.NotEqual(t, f.gateway.invoices[0].IdempotencyKey, f.gateway.invoices[1].IdempotencyKey)
}

func TestAnnualPlanOutsideAnniversaryHasNothingToBill(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{Plan: "commercial_annual"}))

	f.clock.Advance(40 * 24 * time.Hour)
	exec, succeeded, err := f.svc.Trigger(ctx, domain.GenerateRequest{AccountID: account.ID.String()})
	require.NoError(t, err)
	assert.False(t, succeeded)

	result := decodeResult(t, exec)
	assert.True(t, result.Warning)
	assert.Equal(t, "nothing_to_bill", result.Code)
	assert.Empty(t, f.gateway.invoices)
}

func TestPreviewAndRenderPreview(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := f.createAccount(t, withTaxID(billingaccountdomain.CreateAccountRequest{ActiveUnits: 2}))

	priced, err := f.svc.Preview(ctx, account.ID.String(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "2025-03", priced.PeriodLabel)
	assert.True(t, priced.SubtotalDue.Equal(decimal.RequireFromString("2930")), priced.SubtotalDue.String())

	content, err := f.svc.RenderPreview(ctx, account.ID.String(), time.Time{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF")))

	assert.Empty(t, listInvoices(t, f, account.ID))
	assert.Empty(t, f.gateway.invoices)

	_, err = f.svc.Preview(ctx, "abc", time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
