package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindSupplierUnit(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SupplierUnit, error)
	FindRelation(ctx context.Context, db *gorm.DB, supplierUnitID, restaurantBusinessID snowflake.ID) (*SupplierRestaurantRelation, error)
}
