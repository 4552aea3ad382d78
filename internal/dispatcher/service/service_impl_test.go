package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	"github.com/smallbiznis/supplyrail/internal/dispatcher/repository"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	execrepository "github.com/smallbiznis/supplyrail/internal/invoicingexecution/repository"
	execservice "github.com/smallbiznis/supplyrail/internal/invoicingexecution/service"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	orderrepository "github.com/smallbiznis/supplyrail/internal/orderinvoicing/repository"
	orderservice "github.com/smallbiznis/supplyrail/internal/orderinvoicing/service"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	unitID       = snowflake.ID(5101)
	restaurantID = snowflake.ID(9001)
	orderID      = snowflake.ID(7001)
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&orderdomain.OrderDetails{},
		&orderdomain.OrderItem{},
		&orderdomain.RestaurantBusiness{},
		&orderdomain.OrderInvoice{},
		&execdomain.Execution{},
		&domain.SupplierUnit{},
		&domain.SupplierRestaurantRelation{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, time.April, 2, 14, 0, 0, 0, time.UTC))

	executions := execservice.New(execservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  execrepository.Provide(),
	})
	orders := orderservice.New(orderservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Repo:       orderrepository.Provide(),
		Executions: executions,
		Gateway:    noop.New(),
		Invoicing:  config.NewStaticInvoicingConfigHolder(config.DefaultInvoicingConfig()),
	})
	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Repo:       repository.Provide(),
		Orders:     orders,
		Executions: executions,
	}).(*Service)

	seedOrder(t, db)
	return svc, db
}

func seedOrder(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&orderdomain.RestaurantBusiness{
		ID:        restaurantID,
		LegalName: "Fonda Dona Lupe",
		TaxID:     "FDL010101AAA",
		TaxRegime: "626",
		ZipCode:   "06700",
	}).Error)
	require.NoError(t, db.Create(&orderdomain.OrderDetails{
		ID:                   orderID,
		OrderID:              snowflake.ID(7000),
		Version:              1,
		SupplierBusinessID:   snowflake.ID(5001),
		SupplierUnitID:       unitID,
		RestaurantBusinessID: restaurantID,
		Status:               "ACCEPTED",
		Currency:             "MXN",
		CreatedAt:            now,
		UpdatedAt:            now,
	}).Error)
	require.NoError(t, db.Create(&orderdomain.OrderItem{
		ID:             snowflake.ID(8001),
		OrderDetailsID: orderID,
		Description:    "Chile poblano",
		Quantity:       decimal.NewFromInt(3),
		UnitPrice:      decimal.NewFromInt(40),
	}).Error)
}

func seedUnit(t *testing.T, db *gorm.DB, automated bool, point domain.TriggerPoint) {
	t.Helper()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&domain.SupplierUnit{
		ID:                 unitID,
		SupplierBusinessID: snowflake.ID(5001),
		AutomatedInvoicing: automated,
		TriggeredAt:        point,
		CreatedAt:          now,
		UpdatedAt:          now,
	}).Error)
}

func seedRelation(t *testing.T, db *gorm.DB, automated *bool, point *domain.TriggerPoint) {
	t.Helper()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&domain.SupplierRestaurantRelation{
		ID:                   snowflake.ID(6001),
		SupplierUnitID:       unitID,
		RestaurantBusinessID: restaurantID,
		AutomatedInvoicing:   automated,
		TriggeredAt:          point,
		CreatedAt:            now,
		UpdatedAt:            now,
	}).Error)
}

func countExecutions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&execdomain.Execution{}).Count(&count).Error)
	return count
}

func TestAcceptedTriggersAtPurchase(t *testing.T) {
	svc, db := setupService(t)
	seedUnit(t, db, true, domain.TriggerAtPurchase)

	outcome, err := svc.OnSubjectStatusChanged(context.Background(), orderID.String(), "accepted")
	require.NoError(t, err)
	assert.True(t, outcome.Triggered)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, domain.ReasonTriggered, outcome.Reason)
	require.NotNil(t, outcome.Execution)
	assert.Equal(t, "order:7001", outcome.Execution.SubjectID)
	assert.Equal(t, execdomain.StatusSuccess, outcome.Execution.Status)
	assert.Equal(t, domain.SourceUnit, outcome.Policy.Source)
}

func TestMismatchedTransitionIsNoOp(t *testing.T) {
	svc, db := setupService(t)
	seedUnit(t, db, true, domain.TriggerAtDelivery)

	outcome, err := svc.OnSubjectStatusChanged(context.Background(), orderID.String(), "ACCEPTED")
	require.NoError(t, err)
	assert.False(t, outcome.Triggered)
	assert.Equal(t, domain.ReasonMismatch, outcome.Reason)
	assert.Nil(t, outcome.Execution)
	assert.Zero(t, countExecutions(t, db))
}

func TestRelationOverridesUnitDefault(t *testing.T) {
	svc, db := setupService(t)
	seedUnit(t, db, false, domain.TriggerAtPurchase)
	enabled := true
	delivery := domain.TriggerAtDelivery
	seedRelation(t, db, &enabled, &delivery)
	ctx := context.Background()

	policy, err := svc.ResolvePolicy(ctx, "order:7001")
	require.NoError(t, err)
	assert.Equal(t, domain.Policy{AutomatedInvoicing: true, TriggeredAt: domain.TriggerAtDelivery, Source: domain.SourceRelation}, policy)

	outcome, err := svc.OnSubjectStatusChanged(ctx, orderID.String(), "ACCEPTED")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonMismatch, outcome.Reason)
	assert.Zero(t, countExecutions(t, db))

	outcome, err = svc.OnSubjectStatusChanged(ctx, orderID.String(), "DELIVERED")
	require.NoError(t, err)
	assert.True(t, outcome.Triggered)
	assert.True(t, outcome.Succeeded)
}

func TestRelationInheritsUnsetFields(t *testing.T) {
	svc, db := setupService(t)
	seedUnit(t, db, true, domain.TriggerAtDelivery)
	disabled := false
	seedRelation(t, db, &disabled, nil)

	policy, err := svc.ResolvePolicy(context.Background(), orderID.String())
	require.NoError(t, err)
	assert.False(t, policy.AutomatedInvoicing)
	assert.Equal(t, domain.TriggerAtDelivery, policy.TriggeredAt)

	outcome, err := svc.OnSubjectStatusChanged(context.Background(), orderID.String(), "DELIVERED")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDisabled, outcome.Reason)
	assert.Zero(t, countExecutions(t, db))
}

func TestMissingUnitDisablesAutomation(t *testing.T) {
	svc, db := setupService(t)

	outcome, err := svc.OnSubjectStatusChanged(context.Background(), orderID.String(), "ACCEPTED")
	require.NoError(t, err)
	assert.False(t, outcome.Triggered)
	assert.Equal(t, domain.ReasonDisabled, outcome.Reason)
	assert.Equal(t, domain.SourceDefault, outcome.Policy.Source)
	assert.Zero(t, countExecutions(t, db))
}

func TestDuplicateEventDoesNotRerun(t *testing.T) {
	svc, db := setupService(t)
	seedUnit(t, db, true, domain.TriggerAtPurchase)
	ctx := context.Background()

	first, err := svc.OnSubjectStatusChanged(ctx, orderID.String(), "ACCEPTED")
	require.NoError(t, err)
	require.True(t, first.Succeeded)

	second, err := svc.OnSubjectStatusChanged(ctx, orderID.String(), "ACCEPTED")
	require.NoError(t, err)
	assert.False(t, second.Triggered)
	assert.True(t, second.Succeeded)
	assert.Equal(t, domain.ReasonAlreadySucceeded, second.Reason)
	require.NotNil(t, second.Execution)
	assert.Equal(t, 1, second.Execution.Attempts)

	var invoices int64
	require.NoError(t, db.Model(&orderdomain.OrderInvoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(1), invoices)
}

func TestOnSubjectStatusChangedRejectsBadInput(t *testing.T) {
	svc, db := setupService(t)
	seedUnit(t, db, true, domain.TriggerAtPurchase)
	ctx := context.Background()

	_, err := svc.OnSubjectStatusChanged(ctx, "abc", "ACCEPTED")
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)

	_, err = svc.OnSubjectStatusChanged(ctx, orderID.String(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = svc.OnSubjectStatusChanged(ctx, "404", "ACCEPTED")
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	outcome, err := svc.OnSubjectStatusChanged(ctx, "404", "CANCELED")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNotBillable, outcome.Reason)
	assert.Zero(t, countExecutions(t, db))
}
