package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/smallbiznis/supplyrail/internal/charging"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"github.com/smallbiznis/supplyrail/internal/providers/pdf"
	"github.com/smallbiznis/supplyrail/internal/providers/storage"
	usagedomain "github.com/smallbiznis/supplyrail/internal/usage/domain"
	"github.com/smallbiznis/supplyrail/pkg/db"
	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// SAT payment form codes.
	paymentFormTransfer     = "03"
	paymentFormToBeDefined  = "99"
	receiverUseGeneral      = "G03"
	defaultCancelMotive     = "02"
	motiveWithReplacement   = "01"
	fileURLTTL              = 15 * time.Minute
	publicCustomerReference = "public"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Accounts   billingaccountdomain.Service
	Usage      usagedomain.Service
	Executions execdomain.Service
	Gateway    invoicing.Gateway
	Store      storage.Store
	Renderer   pdf.Renderer
	Invoicing  *config.InvoicingConfigHolder
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	accounts   billingaccountdomain.Service
	usage      usagedomain.Service
	executions execdomain.Service
	gateway    invoicing.Gateway
	store      storage.Store
	renderer   pdf.Renderer
	invoicing  *config.InvoicingConfigHolder
	metrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billinginvoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		accounts:   p.Accounts,
		usage:      p.Usage,
		executions: p.Executions,
		gateway:    p.Gateway,
		store:      p.Store,
		renderer:   p.Renderer,
		invoicing:  p.Invoicing,
		metrics:    p.Metrics,
	}
}

func (s *Service) Preview(ctx context.Context, accountID string, referenceDate time.Time) (charging.PricedInvoice, error) {
	id, err := parseID(accountID)
	if err != nil {
		return charging.PricedInvoice{}, err
	}
	catalog, err := s.accounts.GetCatalog(ctx, id)
	if err != nil {
		return charging.PricedInvoice{}, err
	}
	priced, _, err := s.price(ctx, catalog, s.referenceDate(referenceDate))
	return priced, err
}

func (s *Service) RenderPreview(ctx context.Context, accountID string, referenceDate time.Time) ([]byte, error) {
	priced, err := s.Preview(ctx, accountID, referenceDate)
	if err != nil {
		return nil, err
	}
	id, _ := parseID(accountID)
	account, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg := s.invoicing.Get()
	data := pdf.StatementData{
		IssuerName:  "Supplyrail",
		AccountName: account.LegalName,
		TaxID:       account.TaxID,
		Plan:        string(priced.Plan),
		Period:      priced.PeriodLabel,
		GeneratedAt: s.clock.Now().Format("2006-01-02 15:04 MST"),
		Currency:    priced.Currency,
		Subtotal:    charging.Display(priced.SubtotalDue),
		Tax:         charging.Display(priced.TaxDue),
		Total:       charging.Display(priced.TotalDue),
	}
	if priced.Plan.IsAnnual() && !priced.AnnualCheckout {
		data.AnnualNotice = "Los cargos anuales se facturan en el mes de aniversario de la cuenta."
	}
	for _, line := range priced.Lines {
		data.Lines = append(data.Lines, pdf.StatementLine{
			Description: describe(cfg, line.Kind),
			Quantity:    line.Quantity.String(),
			UnitPrice:   charging.Display(line.UnitPrice),
			Discount:    charging.Display(line.Discount),
			Amount:      charging.Display(line.Subtotal),
		})
	}

	reader, err := s.renderer.RenderStatement(ctx, data)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

// Generate issues the invoice of the period that contains the reference date.
// Nothing is stored locally unless the provider stamped the document.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (domain.BillingInvoice, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.BillingInvoice{}, execdomain.Configuration("invalid_billing_account", "billing account id is not valid", err)
	}
	catalog, err := s.accounts.GetCatalog(ctx, accountID)
	if err != nil {
		if errors.Is(err, billingaccountdomain.ErrNotFound) {
			return domain.BillingInvoice{}, execdomain.Configuration("billing_account_not_found", "billing account does not exist", domain.ErrAccountNotFound)
		}
		return domain.BillingInvoice{}, err
	}
	account := catalog.Account

	if strings.TrimSpace(account.TaxID) != "" && !account.HasTaxIdentity() {
		return domain.BillingInvoice{}, execdomain.Configuration("incomplete_tax_identity", "tax id on file needs a tax regime and a zip code", domain.ErrIncompleteTaxIdentity)
	}
	timing, err := resolvePaymentTiming(account, req.PaymentTiming)
	if err != nil {
		return domain.BillingInvoice{}, err
	}

	referenceDate := s.referenceDate(req.ReferenceDate)
	period := charging.PeriodLabel(referenceDate)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("billing_account_id", account.ID.String()),
		zap.String("period", period),
	)

	existing, err := s.repo.FindActiveByPeriod(ctx, s.db, account.ID, period)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	if existing != nil {
		return *existing, execdomain.Warning("already_billed",
			fmt.Sprintf("period %s is already invoiced by %s", period, existing.ID),
			domain.ErrAlreadyBilled,
		)
	}

	priced, snapshot, err := s.price(ctx, catalog, referenceDate)
	if err != nil {
		if errors.Is(err, charging.ErrInvalidChargeConfig) || errors.Is(err, charging.ErrUnknownPlan) {
			return domain.BillingInvoice{}, execdomain.Configuration("invalid_charge_config", "the charges of the account cannot be priced", err)
		}
		return domain.BillingInvoice{}, err
	}
	if priced.IsEmpty() {
		return domain.BillingInvoice{}, execdomain.Warning("nothing_to_bill",
			fmt.Sprintf("nothing to bill for period %s", period),
			domain.ErrNothingToBill,
		)
	}

	cfg := s.invoicing.Get()
	customerID, receiver, err := s.resolveCustomer(ctx, account, cfg)
	if err != nil {
		return domain.BillingInvoice{}, providerFailure("customer_rejected", err)
	}

	attempt, err := s.repo.CountByPeriod(ctx, s.db, account.ID, period)
	if err != nil {
		return domain.BillingInvoice{}, err
	}

	paymentForm := paymentFormTransfer
	if timing == invoicing.PaymentTimingPPD {
		paymentForm = paymentFormToBeDefined
	}
	doc, err := s.gateway.CreateInvoice(ctx, invoicing.InvoiceRequest{
		// a retry of the same attempt returns the document already stamped
		IdempotencyKey:  fmt.Sprintf("%s:%d", domain.BillingSubject(account.ID, period), attempt+1),
		CustomerID:      customerID,
		Receiver:        receiver,
		Series:          cfg.Series,
		Currency:        priced.Currency,
		PaymentTiming:   timing,
		PaymentForm:     paymentForm,
		ExpeditionPlace: cfg.IssuerZipCode,
		Items:           invoiceItems(cfg, priced),
		Reference:       domain.BillingSubject(account.ID, period),
	})
	s.recordProviderCall(ctx, "create_invoice", err)
	if err != nil {
		return domain.BillingInvoice{}, providerFailure("invoice_rejected", err)
	}

	now := s.clock.Now()
	issuedAt := doc.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}
	usageJSON, _ := json.Marshal(snapshot)
	invoice := domain.BillingInvoice{
		ID:                 s.genID.Generate(),
		BillingAccountID:   account.ID,
		PeriodLabel:        period,
		Status:             domain.StatusActive,
		PaymentTiming:      timing,
		Provider:           s.gateway.Name(),
		ProviderDocumentID: doc.ID,
		Series:             doc.Series,
		Folio:              doc.Folio,
		TaxStampUUID:       doc.TaxStampUUID,
		Currency:           priced.Currency,
		Subtotal:           priced.SubtotalDue,
		Tax:                priced.TaxDue,
		Total:              priced.TotalDue,
		PaidAmount:         decimal.Zero,
		UsageSnapshot:      datatypes.JSON(usageJSON),
		IssuedAt:           issuedAt.UTC(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if timing == invoicing.PaymentTimingPUE {
		invoice.PaidAmount = invoice.Total
	}

	charges := make([]domain.BillingInvoiceCharge, 0, len(priced.Lines))
	for _, line := range priced.Lines {
		charges = append(charges, domain.BillingInvoiceCharge{
			ID:               s.genID.Generate(),
			BillingInvoiceID: invoice.ID,
			ChargeID:         line.ChargeID,
			Kind:             line.Kind,
			Description:      describe(cfg, line.Kind),
			Quantity:         line.Quantity,
			UnitPrice:        line.UnitPrice,
			Discount:         line.Discount,
			Subtotal:         line.Subtotal,
			Tax:              line.Tax,
			Total:            line.Total,
			CreatedAt:        now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertInvoice(ctx, tx, &invoice); err != nil {
			return err
		}
		return s.repo.InsertCharges(ctx, tx, charges)
	})
	if db.IsDuplicateKeyErr(err) {
		log.Error("another active invoice was stored for the period",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
		return domain.BillingInvoice{ProviderDocumentID: doc.ID}, execdomain.DataConsistency("duplicate_period_invoice",
			fmt.Sprintf("document %s was stamped but period %s already has an active invoice", doc.ID, period),
			domain.ErrAlreadyBilled,
		)
	}
	if err != nil {
		log.Error("stamped invoice could not be stored",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
		return domain.BillingInvoice{ProviderDocumentID: doc.ID}, execdomain.Internal("persist_failed",
			fmt.Sprintf("document %s was stamped but could not be stored", doc.ID),
			err,
		)
	}

	s.metrics.RecordInvoiceIssued(ctx, string(execdomain.SubjectBillingAccount), string(account.Plan))
	log.Info("billing invoice issued",
		zap.String("billing_invoice_id", invoice.ID.String()),
		zap.String("document_id", doc.ID),
		zap.String("total", charging.Display(invoice.Total)),
	)

	if err := s.attach(ctx, &invoice, account.LegalName); err != nil {
		log.Warn("invoice files could not be stored", zap.Error(err))
		return invoice, providerFailure("file_fetch_failed", err)
	}
	return invoice, nil
}

// Trigger runs Generate under the execution of the account's period.
func (s *Service) Trigger(ctx context.Context, req domain.GenerateRequest) (execdomain.Execution, bool, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return execdomain.Execution{}, false, err
	}
	req.ReferenceDate = s.referenceDate(req.ReferenceDate)
	subject := domain.BillingSubject(accountID, charging.PeriodLabel(req.ReferenceDate))

	return s.executions.Run(ctx, subject, execdomain.SubjectBillingAccount, func(ctx context.Context) (execdomain.Confirmation, error) {
		invoice, err := s.Generate(ctx, req)
		return confirmationFor(invoice), err
	})
}

func (s *Service) GenerateComplement(ctx context.Context, req domain.ComplementRequest) (domain.BillingInvoiceComplement, error) {
	invoice, amount, err := s.complementTarget(ctx, req)
	if err != nil {
		return domain.BillingInvoiceComplement{}, err
	}
	account, err := s.accounts.Get(ctx, invoice.BillingAccountID)
	if err != nil {
		return domain.BillingInvoiceComplement{}, err
	}

	count, err := s.repo.CountComplements(ctx, s.db, invoice.ID)
	if err != nil {
		return domain.BillingInvoiceComplement{}, err
	}
	installment := int(count) + 1

	cfg := s.invoicing.Get()
	customerID, receiver, err := s.resolveCustomer(ctx, account, cfg)
	if err != nil {
		return domain.BillingInvoiceComplement{}, providerFailure("customer_rejected", err)
	}

	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	paymentForm := strings.TrimSpace(req.PaymentForm)
	if paymentForm == "" {
		paymentForm = paymentFormTransfer
	}
	balance := invoice.Balance()

	doc, err := s.gateway.CreateComplement(ctx, invoicing.ComplementRequest{
		IdempotencyKey:      domain.ComplementSubject(invoice.ID, installment),
		CustomerID:          customerID,
		Receiver:            receiver,
		RelatedDocumentID:   invoice.ProviderDocumentID,
		RelatedTaxStampUUID: invoice.TaxStampUUID,
		Currency:            invoice.Currency,
		PaymentForm:         paymentForm,
		Amount:              amount,
		PreviousBalance:     balance,
		Installment:         installment,
		PaidAt:              paidAt,
	})
	s.recordProviderCall(ctx, "create_complement", err)
	if err != nil {
		return domain.BillingInvoiceComplement{}, providerFailure("complement_rejected", err)
	}

	now := s.clock.Now()
	issuedAt := doc.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}
	complement := domain.BillingInvoiceComplement{
		ID:                 s.genID.Generate(),
		BillingInvoiceID:   invoice.ID,
		Installment:        installment,
		ProviderDocumentID: doc.ID,
		TaxStampUUID:       doc.TaxStampUUID,
		PaymentForm:        paymentForm,
		Amount:             amount,
		PreviousBalance:    balance,
		OutstandingBalance: balance.Sub(amount),
		PaidAt:             paidAt.UTC(),
		IssuedAt:           issuedAt.UTC(),
		CreatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertComplement(ctx, tx, &complement); err != nil {
			return err
		}
		return s.repo.UpdatePaidAmount(ctx, tx, invoice.ID, invoice.PaidAmount.Add(amount), now)
	})
	if err != nil {
		return domain.BillingInvoiceComplement{ProviderDocumentID: doc.ID}, execdomain.Internal("persist_failed",
			fmt.Sprintf("complement %s was stamped but could not be stored", doc.ID),
			err,
		)
	}

	s.metrics.RecordComplementIssued(ctx)
	s.log.Info("payment complement issued",
		zap.String("billing_invoice_id", invoice.ID.String()),
		zap.Int("installment", installment),
		zap.String("amount", charging.Display(amount)),
	)
	return complement, nil
}

// TriggerComplement validates the target invoice before any execution row
// exists, so a rejected request leaves no trace.
func (s *Service) TriggerComplement(ctx context.Context, req domain.ComplementRequest) (execdomain.Execution, bool, error) {
	invoice, _, err := s.complementTarget(ctx, req)
	if err != nil {
		return execdomain.Execution{}, false, err
	}
	count, err := s.repo.CountComplements(ctx, s.db, invoice.ID)
	if err != nil {
		return execdomain.Execution{}, false, err
	}
	if req.PaidAt.IsZero() {
		req.PaidAt = s.clock.Now()
	}

	subject := domain.ComplementSubject(invoice.ID, int(count)+1)
	return s.executions.Run(ctx, subject, execdomain.SubjectComplement, func(ctx context.Context) (execdomain.Confirmation, error) {
		complement, err := s.GenerateComplement(ctx, req)
		conf := execdomain.Confirmation{DocumentID: complement.ProviderDocumentID}
		if complement.ID != 0 {
			conf.Reference = complement.ID.String()
			conf.Detail = fmt.Sprintf("installment %d", complement.Installment)
		}
		return conf, err
	})
}

func (s *Service) complementTarget(ctx context.Context, req domain.ComplementRequest) (domain.BillingInvoice, decimal.Decimal, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil {
		return domain.BillingInvoice{}, decimal.Zero, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		return domain.BillingInvoice{}, decimal.Zero, domain.ErrInvalidAmount
	}
	amount = amount.Round(charging.AmountPrecision)

	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return domain.BillingInvoice{}, decimal.Zero, err
	}
	if invoice == nil {
		return domain.BillingInvoice{}, decimal.Zero, domain.ErrNotFound
	}
	if invoice.Status != domain.StatusActive {
		return domain.BillingInvoice{}, decimal.Zero, execdomain.Configuration("invoice_canceled", "complements cannot be issued for a canceled invoice", domain.ErrInvoiceCanceled)
	}
	if invoice.PaymentTiming != invoicing.PaymentTimingPPD {
		return domain.BillingInvoice{}, decimal.Zero, execdomain.Configuration("complement_not_allowed", "payment complements only apply to deferred-payment (PPD) invoices", domain.ErrComplementNotAllowed)
	}
	if amount.GreaterThan(invoice.Balance()) {
		return domain.BillingInvoice{}, decimal.Zero, execdomain.DataConsistency("amount_exceeds_balance",
			fmt.Sprintf("amount %s exceeds the outstanding balance %s", charging.Display(amount), charging.Display(invoice.Balance())),
			domain.ErrAmountExceedsBalance,
		)
	}
	return *invoice, amount, nil
}

// Cancel voids the document at the provider first; amounts are never edited.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (domain.BillingInvoice, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	motive := strings.TrimSpace(req.Motive)
	if motive == "" {
		motive = defaultCancelMotive
	}
	switch motive {
	case "01", "02", "03", "04":
	default:
		return domain.BillingInvoice{}, domain.ErrInvalidCancelMotive
	}
	if motive == motiveWithReplacement && strings.TrimSpace(req.Replacement) == "" {
		return domain.BillingInvoice{}, domain.ErrInvalidCancelMotive
	}

	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	if invoice == nil {
		return domain.BillingInvoice{}, domain.ErrNotFound
	}
	if invoice.Status != domain.StatusActive {
		return domain.BillingInvoice{}, domain.ErrInvoiceCanceled
	}

	err = s.gateway.Cancel(ctx, invoicing.CancelRequest{
		DocumentID:  invoice.ProviderDocumentID,
		Motive:      motive,
		Replacement: strings.TrimSpace(req.Replacement),
	})
	s.recordProviderCall(ctx, "cancel", err)
	if err != nil && !alreadyCanceledUpstream(err) {
		return domain.BillingInvoice{}, err
	}

	now := s.clock.Now()
	ok, err := s.repo.MarkCanceled(ctx, s.db, invoice.ID, motive, now)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	if !ok {
		return domain.BillingInvoice{}, domain.ErrInvoiceCanceled
	}

	s.log.Info("billing invoice canceled",
		zap.String("billing_invoice_id", invoice.ID.String()),
		zap.String("motive", motive),
	)
	invoice.Status = domain.StatusCanceled
	invoice.CancelMotive = motive
	invoice.CanceledAt = &now
	invoice.UpdatedAt = now
	return *invoice, nil
}

func (s *Service) AttachFiles(ctx context.Context, invoiceID string) (domain.BillingInvoice, error) {
	id, err := parseID(invoiceID)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	if invoice == nil {
		return domain.BillingInvoice{}, domain.ErrNotFound
	}
	if invoice.HasFiles() {
		return *invoice, nil
	}
	account, err := s.accounts.Get(ctx, invoice.BillingAccountID)
	if err != nil {
		return domain.BillingInvoice{}, err
	}
	if err := s.attach(ctx, invoice, account.LegalName); err != nil {
		return domain.BillingInvoice{}, err
	}
	return *invoice, nil
}

func (s *Service) FileURL(ctx context.Context, invoiceID string, kind invoicing.FileKind) (string, error) {
	if kind != invoicing.FilePDF && kind != invoicing.FileXML {
		return "", domain.ErrInvalidFileKind
	}
	id, err := parseID(invoiceID)
	if err != nil {
		return "", err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if invoice == nil {
		return "", domain.ErrNotFound
	}
	key := invoice.PDFKey
	if kind == invoicing.FileXML {
		key = invoice.XMLKey
	}
	if key == "" {
		return "", domain.ErrFilesMissing
	}
	return s.store.PresignedURL(ctx, key, fileURLTTL)
}

func (s *Service) Get(ctx context.Context, invoiceID string) (domain.InvoiceDetail, error) {
	id, err := parseID(invoiceID)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	if invoice == nil {
		return domain.InvoiceDetail{}, domain.ErrNotFound
	}
	charges, err := s.repo.ListCharges(ctx, s.db, id)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	complements, err := s.repo.ListComplements(ctx, s.db, id)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	return domain.InvoiceDetail{
		Invoice:     *invoice,
		Charges:     charges,
		Complements: complements,
	}, nil
}

func (s *Service) ListByAccount(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.ListResponse{}, err
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	items, err := s.repo.ListByAccount(ctx, s.db, accountID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(invoice *domain.BillingInvoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	invoices := make([]domain.BillingInvoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := domain.ListResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) price(ctx context.Context, catalog billingaccountdomain.Catalog, referenceDate time.Time) (charging.PricedInvoice, usagedomain.Snapshot, error) {
	snapshot, err := s.usage.Snapshot(ctx, catalog.Account, referenceDate)
	if err != nil {
		return charging.PricedInvoice{}, usagedomain.Snapshot{}, err
	}
	cfg := s.invoicing.Get()
	priced, err := charging.ComputeTotalDue(charging.Input{
		Account:   catalog.Account,
		Charges:   catalog.Charges,
		Discounts: catalog.Discounts,
		Usage: charging.Usage{
			FoliosIssued:      snapshot.FoliosIssued,
			PaymentTransfers:  snapshot.PaymentTransfers,
			PaymentsAvailable: snapshot.PaymentsAvailable,
		},
		ReferenceDate: referenceDate,
		Policy: charging.Policy{
			TaxRate:               decimal.NewFromFloat(cfg.TaxRate),
			IncludedFoliosPerUnit: cfg.IncludedFoliosPerUnit,
			Currency:              cfg.Currency,
		},
	})
	if err != nil {
		return charging.PricedInvoice{}, usagedomain.Snapshot{}, err
	}
	return priced, snapshot, nil
}

// resolveCustomer returns the provider customer and receiver of an account.
// Accounts without a tax id are invoiced to the public customer.
func (s *Service) resolveCustomer(ctx context.Context, account billingaccountdomain.BillingAccount, cfg config.InvoicingConfig) (string, invoicing.Receiver, error) {
	if !account.HasTaxIdentity() {
		receiver := invoicing.Receiver{
			TaxID:     cfg.GenericCustomer.TaxID,
			LegalName: cfg.GenericCustomer.LegalName,
			TaxRegime: cfg.GenericCustomer.TaxRegime,
			ZipCode:   cfg.IssuerZipCode,
			CFDIUse:   cfg.GenericCustomer.CFDIUse,
			Email:     account.Email,
		}
		customer, err := s.gateway.EnsureCustomer(ctx, invoicing.CustomerRequest{
			Receiver:   receiver,
			ExternalID: publicCustomerReference,
		})
		s.recordProviderCall(ctx, "ensure_customer", err)
		return customer.ID, receiver, err
	}

	receiver := invoicing.Receiver{
		TaxID:     account.TaxID,
		LegalName: account.LegalName,
		TaxRegime: account.TaxRegime,
		ZipCode:   account.ZipCode,
		CFDIUse:   receiverUseGeneral,
		Email:     account.Email,
	}
	if account.ProviderCustomerID != "" {
		return account.ProviderCustomerID, receiver, nil
	}

	customer, err := s.gateway.EnsureCustomer(ctx, invoicing.CustomerRequest{
		Receiver:   receiver,
		ExternalID: account.ID.String(),
	})
	s.recordProviderCall(ctx, "ensure_customer", err)
	if err != nil {
		return "", receiver, err
	}
	if err := s.accounts.UpdateCustomerReference(ctx, account.ID, customer.ID); err != nil {
		s.log.Warn("failed to store provider customer reference",
			zap.String("billing_account_id", account.ID.String()),
			zap.Error(err),
		)
	}
	return customer.ID, receiver, nil
}

// attach copies the stamped PDF and XML into document storage.
func (s *Service) attach(ctx context.Context, invoice *domain.BillingInvoice, legalName string) error {
	keys := make(map[invoicing.FileKind]string, 2)
	for _, kind := range []invoicing.FileKind{invoicing.FilePDF, invoicing.FileXML} {
		file, err := s.gateway.FetchFile(ctx, invoice.ProviderDocumentID, kind)
		s.recordProviderCall(ctx, "fetch_file", err)
		if err != nil {
			return err
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = kind.ContentType()
		}
		key := storage.ObjectKey(legalName, invoice.PeriodLabel, invoice.ProviderDocumentID, string(kind))
		if _, err := s.store.Put(ctx, key, contentType, file.Content); err != nil {
			return err
		}
		keys[kind] = key
	}

	now := s.clock.Now()
	if err := s.repo.UpdateFiles(ctx, s.db, invoice.ID, keys[invoicing.FilePDF], keys[invoicing.FileXML], now); err != nil {
		return err
	}
	invoice.PDFKey = keys[invoicing.FilePDF]
	invoice.XMLKey = keys[invoicing.FileXML]
	invoice.UpdatedAt = now
	return nil
}

func (s *Service) recordProviderCall(ctx context.Context, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordProviderCall(ctx, s.gateway.Name(), op, outcome)
}

func (s *Service) referenceDate(t time.Time) time.Time {
	if t.IsZero() {
		return s.clock.Now().UTC()
	}
	return t.UTC()
}

func resolvePaymentTiming(account billingaccountdomain.BillingAccount, requested string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(requested)) {
	case "":
		if account.HasPaymentMethod() {
			return invoicing.PaymentTimingPPD, nil
		}
		return invoicing.PaymentTimingPUE, nil
	case invoicing.PaymentTimingPUE:
		return invoicing.PaymentTimingPUE, nil
	case invoicing.PaymentTimingPPD:
		if !account.HasPaymentMethod() {
			return "", execdomain.Configuration("missing_payment_method", "deferred payment needs a payment method on file", domain.ErrMissingPaymentMethod)
		}
		return invoicing.PaymentTimingPPD, nil
	default:
		return "", execdomain.Configuration("invalid_payment_timing", "payment timing must be PUE or PPD", domain.ErrInvalidPaymentTiming)
	}
}

// providerFailure keeps the provider's message on the execution result.
func providerFailure(code string, err error) error {
	var providerErr *invoicing.ProviderError
	if errors.As(err, &providerErr) {
		return execdomain.Provider(code, providerErr.Message, err)
	}
	if errors.Is(err, invoicing.ErrInvalidRequest) {
		return execdomain.Provider(code, "the invoicing provider rejected the request", err)
	}
	return err
}

func alreadyCanceledUpstream(err error) bool {
	var providerErr *invoicing.ProviderError
	return errors.As(err, &providerErr) && providerErr.Status == 409
}

func invoiceItems(cfg config.InvoicingConfig, priced charging.PricedInvoice) []invoicing.Item {
	items := make([]invoicing.Item, 0, len(priced.Lines))
	for _, line := range priced.Lines {
		product := cfg.Products[string(line.Kind)]
		items = append(items, invoicing.Item{
			ProductCode: product.ProductCode,
			UnitCode:    product.UnitCode,
			Description: describe(cfg, line.Kind),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Discount:    line.Discount,
			TaxRate:     priced.TaxRate,
		})
	}
	return items
}

func describe(cfg config.InvoicingConfig, kind billingaccountdomain.ChargeKind) string {
	if product, ok := cfg.Products[string(kind)]; ok && product.Description != "" {
		return product.Description
	}
	return string(kind)
}

func confirmationFor(invoice domain.BillingInvoice) execdomain.Confirmation {
	conf := execdomain.Confirmation{DocumentID: invoice.ProviderDocumentID}
	if invoice.ID != 0 {
		conf.Reference = invoice.ID.String()
		conf.Detail = strings.TrimSpace(invoice.Series + " " + invoice.Folio)
	}
	return conf
}

func parseID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, domain.ErrInvalidID
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return snowflake.ID(id), nil
}
