package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/charging"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	orderProductKey = "ORDER"
	paymentFormCash = "03"
	defaultCFDIUse  = "G01"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Executions execdomain.Service
	Gateway    invoicing.Gateway
	Invoicing  *config.InvoicingConfigHolder
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	executions execdomain.Service
	gateway    invoicing.Gateway
	invoicing  *config.InvoicingConfigHolder
	metrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("orderinvoicing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		executions: p.Executions,
		gateway:    p.Gateway,
		invoicing:  p.Invoicing,
		metrics:    p.Metrics,
	}
}

func (s *Service) GetOrder(ctx context.Context, orderDetailsID snowflake.ID) (domain.Order, error) {
	if orderDetailsID == 0 {
		return domain.Order{}, domain.ErrInvalidID
	}
	details, err := s.repo.FindOrderDetails(ctx, s.db, orderDetailsID)
	if err != nil {
		return domain.Order{}, err
	}
	if details == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, details.ID)
	if err != nil {
		return domain.Order{}, err
	}
	restaurant, err := s.repo.FindRestaurant(ctx, s.db, details.RestaurantBusinessID)
	if err != nil {
		return domain.Order{}, err
	}
	if restaurant == nil {
		return domain.Order{}, domain.ErrRestaurantNotFound
	}
	return domain.Order{Details: *details, Items: items, Restaurant: *restaurant}, nil
}

func (s *Service) InvoiceOrder(ctx context.Context, orderDetailsID string) (domain.OrderInvoice, error) {
	id, err := parseID(orderDetailsID)
	if err != nil {
		return domain.OrderInvoice{}, execdomain.DataConsistency("invalid_order", "order details id is not valid", err)
	}
	order, err := s.GetOrder(ctx, id)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return domain.OrderInvoice{}, execdomain.DataConsistency("order_not_found", "order details do not exist", err)
	case errors.Is(err, domain.ErrRestaurantNotFound):
		return domain.OrderInvoice{}, execdomain.DataConsistency("restaurant_not_found", "the buyer of the order does not exist", err)
	case err != nil:
		return domain.OrderInvoice{}, err
	}

	existing, err := s.repo.FindActiveInvoice(ctx, s.db, id)
	if err != nil {
		return domain.OrderInvoice{}, err
	}
	if existing != nil {
		return *existing, execdomain.Warning("already_invoiced",
			fmt.Sprintf("order %s is already invoiced by %s", id, existing.ProviderDocumentID),
			domain.ErrAlreadyInvoiced,
		)
	}
	if len(order.Items) == 0 {
		return domain.OrderInvoice{}, execdomain.Warning("nothing_to_invoice", "the order has no items", domain.ErrNothingToInvoice)
	}

	restaurant := order.Restaurant
	if strings.TrimSpace(restaurant.TaxID) != "" && !restaurant.HasTaxIdentity() {
		return domain.OrderInvoice{}, execdomain.Configuration("incomplete_tax_identity",
			"the buyer's tax id needs a tax regime and a zip code",
			domain.ErrIncompleteTaxIdentity,
		)
	}

	cfg := s.invoicing.Get()
	defaultRate := decimal.NewFromFloat(cfg.TaxRate)
	product := cfg.Products[orderProductKey]

	subtotal, tax := decimal.Zero, decimal.Zero
	items := make([]invoicing.Item, 0, len(order.Items))
	for _, item := range order.Items {
		if !item.Quantity.IsPositive() || item.UnitPrice.IsNegative() {
			return domain.OrderInvoice{}, execdomain.DataConsistency("invalid_item",
				fmt.Sprintf("order item %s has an invalid quantity or price", item.ID),
				domain.ErrInvalidItem,
			)
		}
		rate := defaultRate
		if item.TaxRate != nil {
			rate = *item.TaxRate
		}
		lineSubtotal := item.Quantity.Mul(item.UnitPrice).Round(charging.AmountPrecision)
		lineTotal := lineSubtotal.Mul(decimal.NewFromInt(1).Add(rate)).Round(charging.AmountPrecision)
		subtotal = subtotal.Add(lineSubtotal)
		tax = tax.Add(lineTotal.Sub(lineSubtotal))

		items = append(items, invoicing.Item{
			ProductCode: firstNonEmpty(item.ProductCode, product.ProductCode),
			UnitCode:    firstNonEmpty(item.UnitCode, product.UnitCode),
			Description: firstNonEmpty(item.Description, product.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    decimal.Zero,
			TaxRate:     rate,
		})
	}

	receiver := s.receiver(restaurant, cfg)
	externalID := "public"
	if restaurant.HasTaxIdentity() {
		externalID = "restaurant:" + restaurant.ID.String()
	}
	customer, err := s.gateway.EnsureCustomer(ctx, invoicing.CustomerRequest{Receiver: receiver, ExternalID: externalID})
	s.recordProviderCall(ctx, "ensure_customer", err)
	if err != nil {
		return domain.OrderInvoice{}, providerFailure("customer_rejected", err)
	}

	attempt, err := s.repo.CountInvoices(ctx, s.db, id)
	if err != nil {
		return domain.OrderInvoice{}, err
	}
	subject := domain.Subject(id)
	doc, err := s.gateway.CreateInvoice(ctx, invoicing.InvoiceRequest{
		IdempotencyKey:  fmt.Sprintf("%s:%d", subject, attempt+1),
		CustomerID:      customer.ID,
		Receiver:        receiver,
		Series:          cfg.Series,
		Currency:        firstNonEmpty(order.Details.Currency, cfg.Currency),
		PaymentTiming:   invoicing.PaymentTimingPUE,
		PaymentForm:     paymentFormCash,
		ExpeditionPlace: cfg.IssuerZipCode,
		Items:           items,
		Reference:       subject,
	})
	s.recordProviderCall(ctx, "create_invoice", err)
	if err != nil {
		return domain.OrderInvoice{}, providerFailure("invoice_rejected", err)
	}

	now := s.clock.Now()
	issuedAt := doc.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}
	invoice := domain.OrderInvoice{
		ID:                   s.genID.Generate(),
		OrderDetailsID:       id,
		SupplierBusinessID:   order.Details.SupplierBusinessID,
		RestaurantBusinessID: restaurant.ID,
		Status:               domain.InvoiceActive,
		Provider:             s.gateway.Name(),
		ProviderDocumentID:   doc.ID,
		Series:               doc.Series,
		Folio:                doc.Folio,
		TaxStampUUID:         doc.TaxStampUUID,
		Currency:             firstNonEmpty(order.Details.Currency, cfg.Currency),
		Subtotal:             subtotal,
		Tax:                  tax,
		Total:                subtotal.Add(tax),
		IssuedAt:             issuedAt.UTC(),
		CreatedAt:            now,
	}
	if err := s.repo.InsertInvoice(ctx, s.db, &invoice); err != nil {
		return domain.OrderInvoice{ProviderDocumentID: doc.ID}, execdomain.Internal("persist_failed",
			fmt.Sprintf("document %s was stamped but could not be stored", doc.ID),
			err,
		)
	}

	s.metrics.RecordInvoiceIssued(ctx, string(execdomain.SubjectOrder), "")
	logger.WithContext(ctx, s.log).Info("order invoice issued",
		zap.String("order_details_id", id.String()),
		zap.String("document_id", doc.ID),
		zap.String("total", charging.Display(invoice.Total)),
	)
	return invoice, nil
}

// Trigger runs InvoiceOrder under the execution of the order version.
func (s *Service) Trigger(ctx context.Context, orderDetailsID snowflake.ID) (execdomain.Execution, bool, error) {
	if orderDetailsID == 0 {
		return execdomain.Execution{}, false, domain.ErrInvalidID
	}
	return s.executions.Run(ctx, domain.Subject(orderDetailsID), execdomain.SubjectOrder, func(ctx context.Context) (execdomain.Confirmation, error) {
		invoice, err := s.InvoiceOrder(ctx, orderDetailsID.String())
		conf := execdomain.Confirmation{DocumentID: invoice.ProviderDocumentID}
		if invoice.ID != 0 {
			conf.Reference = invoice.ID.String()
			conf.Detail = strings.TrimSpace(invoice.Series + " " + invoice.Folio)
		}
		return conf, err
	})
}

func (s *Service) GetByOrder(ctx context.Context, orderDetailsID string) (domain.OrderInvoice, error) {
	id, err := parseID(orderDetailsID)
	if err != nil {
		return domain.OrderInvoice{}, err
	}
	invoice, err := s.repo.FindLatestInvoice(ctx, s.db, id)
	if err != nil {
		return domain.OrderInvoice{}, err
	}
	if invoice == nil {
		return domain.OrderInvoice{}, domain.ErrNotFound
	}
	return *invoice, nil
}

func (s *Service) receiver(restaurant domain.RestaurantBusiness, cfg config.InvoicingConfig) invoicing.Receiver {
	if !restaurant.HasTaxIdentity() {
		return invoicing.Receiver{
			TaxID:     cfg.GenericCustomer.TaxID,
			LegalName: cfg.GenericCustomer.LegalName,
			TaxRegime: cfg.GenericCustomer.TaxRegime,
			ZipCode:   cfg.IssuerZipCode,
			CFDIUse:   cfg.GenericCustomer.CFDIUse,
			Email:     restaurant.Email,
		}
	}
	return invoicing.Receiver{
		TaxID:     strings.ToUpper(strings.TrimSpace(restaurant.TaxID)),
		LegalName: restaurant.LegalName,
		TaxRegime: restaurant.TaxRegime,
		ZipCode:   restaurant.ZipCode,
		CFDIUse:   firstNonEmpty(restaurant.CFDIUse, defaultCFDIUse),
		Email:     restaurant.Email,
	}
}

func (s *Service) recordProviderCall(ctx context.Context, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordProviderCall(ctx, s.gateway.Name(), op, outcome)
}

func providerFailure(code string, err error) error {
	classified := execdomain.Classify(err)
	if classified.Kind == execdomain.ErrorProvider {
		return execdomain.Provider(code, classified.Message, err)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
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
