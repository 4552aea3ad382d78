package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *BillingInvoice) error
	InsertCharges(ctx context.Context, db *gorm.DB, charges []BillingInvoiceCharge) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingInvoice, error)
	FindActiveByPeriod(ctx context.Context, db *gorm.DB, accountID snowflake.ID, periodLabel string) (*BillingInvoice, error)
	CountByPeriod(ctx context.Context, db *gorm.DB, accountID snowflake.ID, periodLabel string) (int64, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, page pagination.Pagination) ([]*BillingInvoice, error)
	ListCharges(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]BillingInvoiceCharge, error)
	UpdateFiles(ctx context.Context, db *gorm.DB, id snowflake.ID, pdfKey, xmlKey string, updatedAt time.Time) error
	MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, motive string, canceledAt time.Time) (bool, error)

	InsertComplement(ctx context.Context, db *gorm.DB, complement *BillingInvoiceComplement) error
	ListComplements(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]BillingInvoiceComplement, error)
	CountComplements(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
	UpdatePaidAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, paid decimal.Decimal, updatedAt time.Time) error
}
