package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindOrderDetails(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OrderDetails, error)
	ListItems(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) ([]OrderItem, error)
	FindRestaurant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RestaurantBusiness, error)
	FindActiveInvoice(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) (*OrderInvoice, error)
	FindLatestInvoice(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) (*OrderInvoice, error)
	CountInvoices(ctx context.Context, db *gorm.DB, orderDetailsID snowflake.ID) (int64, error)
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *OrderInvoice) error
}
