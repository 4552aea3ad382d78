package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSupplierUnit(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SupplierUnit, error) {
	var unit domain.SupplierUnit
	err := db.WithContext(ctx).Raw(
		`SELECT id, supplier_business_id, automated_invoicing, triggered_at, created_at, updated_at
		 FROM supplier_units WHERE id = ?`,
		id,
	).Scan(&unit).Error
	if err != nil {
		return nil, err
	}
	if unit.ID == 0 {
		return nil, nil
	}
	return &unit, nil
}

func (r *repo) FindRelation(ctx context.Context, db *gorm.DB, supplierUnitID, restaurantBusinessID snowflake.ID) (*domain.SupplierRestaurantRelation, error) {
	var relation domain.SupplierRestaurantRelation
	err := db.WithContext(ctx).Raw(
		`SELECT id, supplier_unit_id, restaurant_business_id, automated_invoicing, triggered_at, created_at, updated_at
		 FROM supplier_restaurant_relations
		 WHERE supplier_unit_id = ? AND restaurant_business_id = ?`,
		supplierUnitID, restaurantBusinessID,
	).Scan(&relation).Error
	if err != nil {
		return nil, err
	}
	if relation.ID == 0 {
		return nil, nil
	}
	return &relation, nil
}
