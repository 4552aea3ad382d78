//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/billingaccount"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/dispatcher"
	dispatcherdomain "github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution"
	"github.com/smallbiznis/supplyrail/internal/migration"
	"github.com/smallbiznis/supplyrail/internal/observability"
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	"github.com/smallbiznis/supplyrail/internal/providers"
	"github.com/smallbiznis/supplyrail/internal/server"
	"github.com/smallbiznis/supplyrail/internal/usage"
	"github.com/smallbiznis/supplyrail/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	db      *gorm.DB
	genID   *snowflake.Node
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestE2E_MonthlyBillingIsIssuedOnce(t *testing.T) {
	resetDatabase(t, env.db)

	resp, body := doJSON(t, http.MethodPost, "/api/v1/billing-accounts", map[string]any{
		"business_id":  env.genID.Generate().String(),
		"legal_name":   "Distribuidora del Bajio",
		"tax_id":       "DBA010101AAA",
		"tax_regime":   "601",
		"zip_code":     "37000",
		"email":        "facturas@bajio.example",
		"plan":         "commercial_monthly",
		"active_units": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		Data struct {
			Account struct {
				ID string `json:"id"`
			} `json:"account"`
			Charges []json.RawMessage `json:"charges"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	accountID := created.Data.Account.ID
	require.NotEmpty(t, accountID)
	assert.NotEmpty(t, created.Data.Charges)

	invoicesURL := "/api/v1/billing-accounts/" + accountID + "/invoices"
	resp, body = doJSON(t, http.MethodPost, invoicesURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, decodeExecution(t, body).Succeeded, string(body))

	// the period is settled; a second trigger is a recorded warning, not a new folio
	resp, body = doJSON(t, http.MethodPost, invoicesURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.False(t, decodeExecution(t, body).Succeeded)

	resp, body = doJSON(t, http.MethodGet, invoicesURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var listed struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, "ACTIVE", listed.Data[0].Status)

	resp, body = doJSON(t, http.MethodGet, "/api/v1/billing-invoices/"+listed.Data[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestE2E_OrderInvoicedAtDelivery(t *testing.T) {
	resetDatabase(t, env.db)
	orderID := seedOrder(t, dispatcherdomain.TriggerAtDelivery)
	statusURL := "/api/v1/subjects/" + orderID.String() + "/status"

	resp, body := doJSON(t, http.MethodPost, statusURL, map[string]string{"status": "ACCEPTED"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	outcome := decodeOutcome(t, body)
	assert.False(t, outcome.Triggered)
	assert.Equal(t, dispatcherdomain.ReasonMismatch, outcome.Reason)

	resp, body = doJSON(t, http.MethodPost, statusURL, map[string]string{"status": "DELIVERED"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	outcome = decodeOutcome(t, body)
	assert.True(t, outcome.Triggered)
	assert.True(t, outcome.Succeeded)

	// redelivered event
	resp, body = doJSON(t, http.MethodPost, statusURL, map[string]string{"status": "DELIVERED"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, dispatcherdomain.ReasonAlreadySucceeded, decodeOutcome(t, body).Reason)

	resp, body = doJSON(t, http.MethodGet, "/api/v1/orders/"+orderID.String()+"/invoice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, "/api/v1/invoicing-executions/"+orderdomain.Subject(orderID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"SUCCESS"`)
	assert.Contains(t, string(body), `"attempts":1`)
}

func TestE2E_UnknownOrderIsNotFound(t *testing.T) {
	resetDatabase(t, env.db)

	resp, body := doJSON(t, http.MethodPost, "/api/v1/subjects/424242/status", map[string]string{"status": "ACCEPTED"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))
}

func startEnv() (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		cfg    config.Config
		genID  *snowflake.Node
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,
		providers.Module,
		invoicingexecution.Module,
		billingaccount.Module,
		usage.Module,
		billinginvoice.Module,
		orderinvoicing.Module,
		dispatcher.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn, &cfg, &genID),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(cfg.DBType)) != "postgres" {
		_ = app.Stop(context.Background())
		return nil, fmt.Errorf("expected postgres db, got %s", cfg.DBType)
	}

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		app:     app,
		db:      dbConn,
		genID:   genID,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("DATABASE_TYPE", "postgres")
	setEnvIfEmpty("INVOICING_PROVIDER", "noop")
	setEnvIfEmpty("KAFKA_ENABLED", "false")
	setEnvIfEmpty("REDIS_ENABLED", "false")
	setEnvIfEmpty("LOG_LEVEL", "error")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	type tableRow struct {
		Name string `gorm:"column:tablename"`
	}
	var rows []tableRow
	require.NoError(t, dbConn.Raw(
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`,
	).Scan(&rows).Error)

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			continue
		}
		tables = append(tables, `"`+row.Name+`"`)
	}
	if len(tables) == 0 {
		return
	}
	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	require.NoError(t, dbConn.Exec(stmt).Error)
}

func seedOrder(t *testing.T, trigger dispatcherdomain.TriggerPoint) snowflake.ID {
	t.Helper()
	now := time.Now().UTC()

	restaurant := orderdomain.RestaurantBusiness{
		ID:        env.genID.Generate(),
		LegalName: "Cocina Central",
		TaxID:     "CCE010101CCC",
		TaxRegime: "601",
		ZipCode:   "64000",
	}
	require.NoError(t, env.db.Create(&restaurant).Error)

	unit := dispatcherdomain.SupplierUnit{
		ID:                 env.genID.Generate(),
		SupplierBusinessID: env.genID.Generate(),
		AutomatedInvoicing: true,
		TriggeredAt:        trigger,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, env.db.Create(&unit).Error)

	details := orderdomain.OrderDetails{
		ID:                   env.genID.Generate(),
		OrderID:              env.genID.Generate(),
		Version:              1,
		SupplierBusinessID:   unit.SupplierBusinessID,
		SupplierUnitID:       unit.ID,
		RestaurantBusinessID: restaurant.ID,
		Status:               "DELIVERED",
		Currency:             "MXN",
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, env.db.Create(&details).Error)

	item := orderdomain.OrderItem{
		ID:             env.genID.Generate(),
		OrderDetailsID: details.ID,
		Description:    "Jitomate saladet",
		Quantity:       decimal.NewFromInt(12),
		UnitPrice:      decimal.RequireFromString("18.5"),
	}
	require.NoError(t, env.db.Create(&item).Error)
	return details.ID
}

type executionResult struct {
	Succeeded bool `json:"succeeded"`
}

func decodeExecution(t *testing.T, body []byte) executionResult {
	t.Helper()
	var envelope struct {
		Data executionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Data
}

func decodeOutcome(t *testing.T, body []byte) dispatcherdomain.Outcome {
	t.Helper()
	var envelope struct {
		Data dispatcherdomain.Outcome `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Data
}

func doJSON(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}
