package migration

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:automigrate?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{
		"billing_accounts",
		"charges",
		"charge_discounts",
		"invoicing_executions",
		"billing_invoices",
		"billing_invoice_charges",
		"billing_invoice_complements",
		"restaurant_businesses",
		"order_details",
		"order_items",
		"order_invoices",
		"supplier_units",
		"supplier_restaurant_relations",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestAutoMigrateKeepsOneActiveInvoicePerPeriod(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:active_period?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(conn))
	require.NoError(t, AutoMigrate(conn), "second run must be a no-op")
	assert.True(t, conn.Migrator().HasIndex(&billinginvoicedomain.BillingInvoice{}, activePeriodIndex))
	assert.True(t, conn.Migrator().HasIndex(&billinginvoicedomain.BillingInvoiceComplement{}, "ux_billing_invoice_complements_installment"))

	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	invoice := func(id int64, status billinginvoicedomain.Status) *billinginvoicedomain.BillingInvoice {
		return &billinginvoicedomain.BillingInvoice{
			ID:               snowflake.ID(id),
			BillingAccountID: snowflake.ID(500),
			PeriodLabel:      "2025-06",
			Status:           status,
			PaymentTiming:    "PUE",
			Provider:         "noop",
			Currency:         "MXN",
			IssuedAt:         now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	require.NoError(t, conn.Create(invoice(1, billinginvoicedomain.StatusCanceled)).Error)
	require.NoError(t, conn.Create(invoice(2, billinginvoicedomain.StatusActive)).Error)
	assert.Error(t, conn.Create(invoice(3, billinginvoicedomain.StatusActive)).Error)
}

func TestActivePeriodIndexSQL(t *testing.T) {
	mysql := activePeriodIndexSQL("mysql")
	assert.Contains(t, mysql, "CASE WHEN status = 'ACTIVE'")
	assert.NotContains(t, mysql, "WHERE")

	assert.Contains(t, activePeriodIndexSQL("sqlite"), "WHERE status = 'ACTIVE'")
}
