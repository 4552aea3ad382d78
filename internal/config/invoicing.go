package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// InvoicingConfig is the numeric and fiscal policy used when pricing and
// issuing invoices. It is reloaded from invoicing.yml without a restart.
type InvoicingConfig struct {
	TaxRate               float64                 `mapstructure:"taxRate"`
	IncludedFoliosPerUnit int64                   `mapstructure:"includedFoliosPerUnit"`
	Currency              string                  `mapstructure:"currency"`
	IssuerZipCode         string                  `mapstructure:"issuerZipCode"`
	Series                string                  `mapstructure:"series"`
	GenericCustomer       GenericCustomer         `mapstructure:"genericCustomer"`
	Products              map[string]ProductCode  `mapstructure:"products"`
	Plans                 map[string][]PlanCharge `mapstructure:"plans"`
}

// GenericCustomer is the public receiver used when the buyer has no tax id on file.
type GenericCustomer struct {
	TaxID     string `mapstructure:"taxId"`
	LegalName string `mapstructure:"legalName"`
	TaxRegime string `mapstructure:"taxRegime"`
	CFDIUse   string `mapstructure:"cfdiUse"`
}

type ProductCode struct {
	ProductCode string `mapstructure:"productCode"`
	UnitCode    string `mapstructure:"unitCode"`
	Description string `mapstructure:"description"`
}

// PlanCharge is one default charge created for a plan.
type PlanCharge struct {
	Kind       string  `mapstructure:"kind"`
	Amount     float64 `mapstructure:"amount"`
	AmountKind string  `mapstructure:"amountKind"`
}

func DefaultInvoicingConfig() InvoicingConfig {
	commercial := []PlanCharge{
		{Kind: "SAAS_FEE", Amount: 1290, AmountKind: "fixed"},
		{Kind: "REPORTS", Amount: 350, AmountKind: "fixed"},
		{Kind: "INVOICE_FOLIO_OVERAGE", Amount: 1.5, AmountKind: "fixed"},
	}
	pro := []PlanCharge{
		{Kind: "SAAS_FEE", Amount: 2490, AmountKind: "fixed"},
		{Kind: "REPORTS", Amount: 350, AmountKind: "fixed"},
		{Kind: "INVOICE_FOLIO_OVERAGE", Amount: 1.5, AmountKind: "fixed"},
		{Kind: "PAYMENT_TRANSACTION", Amount: 4.5, AmountKind: "fixed"},
	}
	return InvoicingConfig{
		TaxRate:               0.16,
		IncludedFoliosPerUnit: 200,
		Currency:              "MXN",
		IssuerZipCode:         "06600",
		Series:                "SR",
		GenericCustomer: GenericCustomer{
			TaxID:     "XAXX010101000",
			LegalName: "PUBLICO EN GENERAL",
			TaxRegime: "616",
			CFDIUse:   "S01",
		},
		Products: map[string]ProductCode{
			"SAAS_FEE":              {ProductCode: "81112101", UnitCode: "E48", Description: "Suscripcion plataforma de pedidos"},
			"REPORTS":               {ProductCode: "81112101", UnitCode: "E48", Description: "Modulo de reportes"},
			"INVOICE_FOLIO_OVERAGE": {ProductCode: "84111506", UnitCode: "E48", Description: "Folios de facturacion adicionales"},
			"PAYMENT_TRANSACTION":   {ProductCode: "84141602", UnitCode: "E48", Description: "Conciliacion de transferencias"},
			"ORDER":                 {ProductCode: "50000000", UnitCode: "H87", Description: "Producto"},
		},
		Plans: map[string][]PlanCharge{
			"commercial_monthly": commercial,
			"commercial_annual":  commercial,
			"pro_monthly":        pro,
			"pro_annual":         pro,
		},
	}
}

type InvoicingConfigHolder struct {
	current atomic.Value // holds InvoicingConfig
}

// NewStaticInvoicingConfigHolder pins a config; used by tests and tooling.
func NewStaticInvoicingConfigHolder(cfg InvoicingConfig) *InvoicingConfigHolder {
	holder := &InvoicingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewInvoicingConfigHolder() (*InvoicingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("invoicing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/supplyrail/config")
	v.AddConfigPath("/etc/supplyrail")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SUPPLYRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultInvoicingConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return NewStaticInvoicingConfigHolder(cfg), nil
	}

	if err := v.UnmarshalKey("invoicing", &cfg); err != nil {
		return nil, err
	}
	if err := validateInvoicingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticInvoicingConfigHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultInvoicingConfig()
		if err := v.UnmarshalKey("invoicing", &updated); err != nil {
			log.Printf("[invoicing-config] reload failed: %v", err)
			return
		}
		if err := validateInvoicingConfig(updated); err != nil {
			log.Printf("[invoicing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[invoicing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *InvoicingConfigHolder) Get() InvoicingConfig {
	if h == nil {
		return DefaultInvoicingConfig()
	}
	cfg, ok := h.current.Load().(InvoicingConfig)
	if !ok {
		return DefaultInvoicingConfig()
	}
	return cfg
}

func validateInvoicingConfig(cfg InvoicingConfig) error {
	if cfg.TaxRate < 0 || cfg.TaxRate >= 1 {
		return fmt.Errorf("invoicing.taxRate out of range: %v", cfg.TaxRate)
	}
	if cfg.IncludedFoliosPerUnit < 0 {
		return errors.New("invoicing.includedFoliosPerUnit cannot be negative")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("invoicing.currency cannot be empty")
	}
	if strings.TrimSpace(cfg.GenericCustomer.TaxID) == "" {
		return errors.New("invoicing.genericCustomer.taxId cannot be empty")
	}
	for plan, charges := range cfg.Plans {
		if len(charges) == 0 {
			return fmt.Errorf("invoicing.plans.%s has no charges", plan)
		}
	}
	return nil
}
