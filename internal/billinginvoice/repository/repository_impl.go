package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/smallbiznis/supplyrail/pkg/db/option"
	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
	"gorm.io/gorm"
)

const invoiceColumns = `id, billing_account_id, period_label, status, payment_timing, provider,
	provider_document_id, series, folio, tax_stamp_uuid, currency, subtotal, tax, total, paid_amount,
	usage_snapshot, pdf_key, xml_key, cancel_motive, issued_at, canceled_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.BillingInvoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.BillingAccountID,
		invoice.PeriodLabel,
		invoice.Status,
		invoice.PaymentTiming,
		invoice.Provider,
		invoice.ProviderDocumentID,
		invoice.Series,
		invoice.Folio,
		invoice.TaxStampUUID,
		invoice.Currency,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Total,
		invoice.PaidAmount,
		invoice.UsageSnapshot,
		invoice.PDFKey,
		invoice.XMLKey,
		invoice.CancelMotive,
		invoice.IssuedAt,
		invoice.CanceledAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertCharges(ctx context.Context, db *gorm.DB, charges []domain.BillingInvoiceCharge) error {
	if len(charges) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&charges).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingInvoice, error) {
	var invoice domain.BillingInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM billing_invoices WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindActiveByPeriod(ctx context.Context, db *gorm.DB, accountID snowflake.ID, periodLabel string) (*domain.BillingInvoice, error) {
	var invoice domain.BillingInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM billing_invoices
		 WHERE billing_account_id = ? AND period_label = ? AND status = ?
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		accountID, periodLabel, domain.StatusActive,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) CountByPeriod(ctx context.Context, db *gorm.DB, accountID snowflake.ID, periodLabel string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_invoices WHERE billing_account_id = ? AND period_label = ?`,
		accountID, periodLabel,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, page pagination.Pagination) ([]*domain.BillingInvoice, error) {
	var items []*domain.BillingInvoice
	stmt := db.WithContext(ctx).
		Model(&domain.BillingInvoice{}).
		Where("billing_account_id = ?", accountID)
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCharges(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.BillingInvoiceCharge, error) {
	var items []domain.BillingInvoiceCharge
	err := db.WithContext(ctx).Raw(
		`SELECT id, billing_invoice_id, charge_id, kind, description, quantity, unit_price, discount,
		        subtotal, tax, total, created_at
		 FROM billing_invoice_charges
		 WHERE billing_invoice_id = ?
		 ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateFiles(ctx context.Context, db *gorm.DB, id snowflake.ID, pdfKey, xmlKey string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_invoices SET pdf_key = ?, xml_key = ?, updated_at = ? WHERE id = ?`,
		pdfKey, xmlKey, updatedAt, id,
	).Error
}

// MarkCanceled reports false when the invoice was no longer active.
func (r *repo) MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, motive string, canceledAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_invoices
		 SET status = ?, cancel_motive = ?, canceled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCanceled, motive, canceledAt, canceledAt,
		id, domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertComplement(ctx context.Context, db *gorm.DB, complement *domain.BillingInvoiceComplement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_invoice_complements
		   (id, billing_invoice_id, installment, provider_document_id, tax_stamp_uuid, payment_form,
		    amount, previous_balance, outstanding_balance, paid_at, issued_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		complement.ID,
		complement.BillingInvoiceID,
		complement.Installment,
		complement.ProviderDocumentID,
		complement.TaxStampUUID,
		complement.PaymentForm,
		complement.Amount,
		complement.PreviousBalance,
		complement.OutstandingBalance,
		complement.PaidAt,
		complement.IssuedAt,
		complement.CreatedAt,
	).Error
}

func (r *repo) ListComplements(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.BillingInvoiceComplement, error) {
	var items []domain.BillingInvoiceComplement
	err := db.WithContext(ctx).Raw(
		`SELECT id, billing_invoice_id, installment, provider_document_id, tax_stamp_uuid, payment_form,
		        amount, previous_balance, outstanding_balance, paid_at, issued_at, created_at
		 FROM billing_invoice_complements
		 WHERE billing_invoice_id = ?
		 ORDER BY installment ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountComplements(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_invoice_complements WHERE billing_invoice_id = ?`,
		invoiceID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) UpdatePaidAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, paid decimal.Decimal, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_invoices SET paid_amount = ?, updated_at = ? WHERE id = ?`,
		paid, updatedAt, id,
	).Error
}
