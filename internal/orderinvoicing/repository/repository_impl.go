package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, order_details_id, supplier_business_id, restaurant_business_id, status, provider,
	provider_document_id, series, folio, tax_stamp_uuid, currency, subtotal, tax, total, issued_at, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindOrderDetails(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.OrderDetails, error) {
	var details domain.OrderDetails
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, version, supplier_business_id, supplier_unit_id, restaurant_business_id,
		        status, currency, created_at, updated_at
		 FROM order_details WHERE id = ?`,
		id,
	).Scan(&details).Error
	if err != nil {
		return nil, err
	}
	if details.ID == 0 {
		return nil, nil
	}
	return &details, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_details_id, description, product_code, unit_code, quantity, unit_price, tax_rate
		 FROM order_items
		 WHERE order_details_id = ?
		 ORDER BY id ASC`,
		orderDetailsID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindRestaurant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RestaurantBusiness, error) {
	var restaurant domain.RestaurantBusiness
	err := db.WithContext(ctx).Raw(
		`SELECT id, legal_name, tax_id, tax_regime, zip_code, cfdi_use, email
		 FROM restaurant_businesses WHERE id = ?`,
		id,
	).Scan(&restaurant).Error
	if err != nil {
		return nil, err
	}
	if restaurant.ID == 0 {
		return nil, nil
	}
	return &restaurant, nil
}

func (r *repo) FindActiveInvoice(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) (*domain.OrderInvoice, error) {
	return r.findInvoice(ctx, db,
		`SELECT `+invoiceColumns+` FROM order_invoices
		 WHERE order_details_id = ? AND status = ?
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		orderDetailsID, domain.InvoiceActive,
	)
}

func (r *repo) FindLatestInvoice(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) (*domain.OrderInvoice, error) {
	return r.findInvoice(ctx, db,
		`SELECT `+invoiceColumns+` FROM order_invoices
		 WHERE order_details_id = ?
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		orderDetailsID,
	)
}

func (r *repo) findInvoice(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.OrderInvoice, error) {
	var invoice domain.OrderInvoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) CountInvoices(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM order_invoices WHERE order_details_id = ?`,
		orderDetailsID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.OrderInvoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrderDetailsID,
		invoice.SupplierBusinessID,
		invoice.RestaurantBusinessID,
		invoice.Status,
		invoice.Provider,
		invoice.ProviderDocumentID,
		invoice.Series,
		invoice.Folio,
		invoice.TaxStampUUID,
		invoice.Currency,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Total,
		invoice.IssuedAt,
		invoice.CreatedAt,
	).Error
}
