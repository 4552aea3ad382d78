package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CountFoliosIssued(ctx context.Context, db *gorm.DB, businessID snowflake.ID, since, until time.Time) (int64, error)
	LatestInvoiceIssuedAt(ctx context.Context, db *gorm.DB, billingAccountID snowflake.ID) (*time.Time, error)
}
