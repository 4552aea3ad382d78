package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	dispatcherdomain "github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	return nil
}

// Models lists every persisted model, in dependency order.
func Models() []any {
	return []any{
		&billingaccountdomain.BillingAccount{},
		&billingaccountdomain.Charge{},
		&billingaccountdomain.ChargeDiscount{},
		&execdomain.Execution{},
		&billinginvoicedomain.BillingInvoice{},
		&billinginvoicedomain.BillingInvoiceCharge{},
		&billinginvoicedomain.BillingInvoiceComplement{},
		&orderdomain.RestaurantBusiness{},
		&orderdomain.OrderDetails{},
		&orderdomain.OrderItem{},
		&orderdomain.OrderInvoice{},
		&dispatcherdomain.SupplierUnit{},
		&dispatcherdomain.SupplierRestaurantRelation{},
	}
}

const activePeriodIndex = "ux_billing_invoices_active_period"

// activePeriodIndexSQL keeps one ACTIVE invoice per account and period.
// MySQL has no partial indexes; a functional key that is NULL for other
// statuses gives the same guarantee because NULLs never collide.
func activePeriodIndexSQL(dialect string) string {
	if dialect == "mysql" {
		return `CREATE UNIQUE INDEX ` + activePeriodIndex + ` ON billing_invoices
		  ((CAST(CASE WHEN status = 'ACTIVE' THEN CONCAT(billing_account_id, ':', period_label) END AS CHAR(64))))`
	}
	return `CREATE UNIQUE INDEX ` + activePeriodIndex + ` ON billing_invoices
	  (billing_account_id, period_label) WHERE status = 'ACTIVE'`
}

// AutoMigrate builds the schema from the models for the sqlite and mysql
// dialects, which the embedded postgres scripts do not target.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if conn.Migrator().HasIndex(&billinginvoicedomain.BillingInvoice{}, activePeriodIndex) {
		return nil
	}
	if err := conn.Exec(activePeriodIndexSQL(conn.Dialector.Name())).Error; err != nil {
		return fmt.Errorf("create %s: %w", activePeriodIndex, err)
	}
	return nil
}
