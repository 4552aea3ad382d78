package charging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2024, time.May, 14, 9, 0, 0, 0, time.UTC)

func account(plan domain.PlanCode, units int) domain.BillingAccount {
	return domain.BillingAccount{
		ID:          snowflake.ID(10),
		BusinessID:  snowflake.ID(20),
		Plan:        plan,
		ActiveUnits: units,
		CreatedAt:   created,
	}
}

func charge(id int64, kind domain.ChargeKind, amount string) domain.Charge {
	return domain.Charge{
		ID:         snowflake.ID(id),
		Kind:       kind,
		UnitAmount: decimal.RequireFromString(amount),
		AmountKind: domain.AmountFixed,
		Currency:   "MXN",
		Active:     true,
	}
}

func discount(id, chargeID int64, position int, kind domain.AmountKind, amount string) domain.ChargeDiscount {
	return domain.ChargeDiscount{
		ID:         snowflake.ID(id),
		ChargeID:   snowflake.ID(chargeID),
		Amount:     decimal.RequireFromString(amount),
		AmountKind: kind,
		Position:   position,
	}
}

func lineOf(t *testing.T, out PricedInvoice, kind domain.ChargeKind) LineItem {
	t.Helper()
	for _, line := range out.Lines {
		if line.Kind == kind {
			return line
		}
	}
	t.Fatalf("line %s not found", kind)
	return LineItem{}
}

func hasLine(out PricedInvoice, kind domain.ChargeKind) bool {
	for _, line := range out.Lines {
		if line.Kind == kind {
			return true
		}
	}
	return false
}

func TestDiscountStackingThenTax(t *testing.T) {
	in := Input{
		Account: account(domain.PlanCommercialMonthly, 1),
		Charges: []domain.Charge{charge(1, domain.ChargeSaaSFee, "100")},
		Discounts: []domain.ChargeDiscount{
			discount(3, 1, 2, domain.AmountPercentage, "10"),
			discount(2, 1, 1, domain.AmountFixed, "20"),
		},
		ReferenceDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	}

	out, err := ComputeTotalDue(in)
	require.NoError(t, err)

	line := lineOf(t, out, domain.ChargeSaaSFee)
	assert.Equal(t, "72.00", Display(line.Subtotal))
	assert.Equal(t, "83.52", Display(line.Total))
	assert.Equal(t, "11.52", Display(line.Tax))
	assert.Equal(t, "28.00", Display(line.Discount))
	assert.Equal(t, "83.52", Display(out.TotalDue))
}

func TestDiscountFloorsAtZero(t *testing.T) {
	in := Input{
		Account: account(domain.PlanCommercialMonthly, 1),
		Charges: []domain.Charge{charge(1, domain.ChargeReports, "50")},
		Discounts: []domain.ChargeDiscount{
			discount(2, 1, 1, domain.AmountFixed, "80"),
			discount(3, 1, 2, domain.AmountFixed, "5"),
		},
		ReferenceDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	}

	out, err := ComputeTotalDue(in)
	require.NoError(t, err)
	assert.True(t, lineOf(t, out, domain.ChargeReports).Total.IsZero())
	assert.True(t, out.IsEmpty())
}

func TestTotalsAreConsistent(t *testing.T) {
	in := Input{
		Account: account(domain.PlanProMonthly, 3),
		Charges: []domain.Charge{
			charge(1, domain.ChargeSaaSFee, "1290.3333"),
			charge(2, domain.ChargeReports, "349.99"),
			charge(3, domain.ChargeInvoiceFolioOverage, "1.37"),
			charge(4, domain.ChargePaymentTransaction, "4.51"),
		},
		Discounts: []domain.ChargeDiscount{
			discount(5, 1, 1, domain.AmountPercentage, "7.5"),
		},
		Usage: Usage{
			FoliosIssued:      731,
			PaymentTransfers:  17,
			PaymentsAvailable: true,
		},
		ReferenceDate: time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	}

	out, err := ComputeTotalDue(in)
	require.NoError(t, err)
	require.Len(t, out.Lines, 4)

	subtotal := decimal.Zero
	total := decimal.Zero
	for _, line := range out.Lines {
		assert.True(t, line.Total.Equal(line.Subtotal.Add(line.Tax)))
		assert.True(t, line.Total.Equal(line.Total.Round(AmountPrecision)))
		subtotal = subtotal.Add(line.Subtotal)
		total = total.Add(line.Total)
	}
	assert.True(t, out.SubtotalDue.Equal(subtotal))
	assert.True(t, out.TotalDue.Equal(total))
	assert.True(t, out.TotalDue.Equal(out.SubtotalDue.Add(out.TaxDue)))
	assert.True(t, out.TaxDue.Equal(out.TotalDue.Sub(out.SubtotalDue).Round(AmountPrecision)))
	assert.Equal(t, "2025-03", out.PeriodLabel)
}

func TestFolioOverageThreshold(t *testing.T) {
	base := Input{
		Account:       account(domain.PlanCommercialMonthly, 1),
		Charges:       []domain.Charge{charge(1, domain.ChargeInvoiceFolioOverage, "1.5")},
		ReferenceDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	}

	under := base
	under.Usage = Usage{FoliosIssued: 150}
	out, err := ComputeTotalDue(under)
	require.NoError(t, err)
	assert.False(t, hasLine(out, domain.ChargeInvoiceFolioOverage))
	assert.True(t, out.TotalDue.IsZero())

	exact := base
	exact.Usage = Usage{FoliosIssued: 200}
	out, err = ComputeTotalDue(exact)
	require.NoError(t, err)
	assert.False(t, hasLine(out, domain.ChargeInvoiceFolioOverage))

	over := base
	over.Usage = Usage{FoliosIssued: 250}
	out, err = ComputeTotalDue(over)
	require.NoError(t, err)
	line := lineOf(t, out, domain.ChargeInvoiceFolioOverage)
	assert.True(t, line.Quantity.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "75.00", Display(line.Subtotal))
}

func TestFolioOverageScalesWithUnits(t *testing.T) {
	in := Input{
		Account:       account(domain.PlanCommercialMonthly, 3),
		Charges:       []domain.Charge{charge(1, domain.ChargeInvoiceFolioOverage, "1")},
		Usage:         Usage{FoliosIssued: 650},
		ReferenceDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	}
	out, err := ComputeTotalDue(in)
	require.NoError(t, err)
	assert.True(t, lineOf(t, out, domain.ChargeInvoiceFolioOverage).Quantity.Equal(decimal.NewFromInt(50)))
}

func TestAnnualPlanGating(t *testing.T) {
	in := Input{
		Account: account(domain.PlanCommercialAnnual, 2),
		Charges: []domain.Charge{
			charge(1, domain.ChargeSaaSFee, "100"),
			charge(2, domain.ChargeReports, "10"),
			charge(3, domain.ChargeInvoiceFolioOverage, "1"),
		},
		Usage:  Usage{FoliosIssued: 410},
		Policy: DefaultPolicy(),
	}

	in.ReferenceDate = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	first, err := ComputeTotalDue(in)
	require.NoError(t, err)
	second, err := ComputeTotalDue(in)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
	assert.False(t, first.AnnualCheckout)
	assert.False(t, hasLine(first, domain.ChargeSaaSFee))
	assert.False(t, hasLine(first, domain.ChargeReports))
	assert.True(t, hasLine(first, domain.ChargeInvoiceFolioOverage))

	in.ReferenceDate = time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	checkout, err := ComputeTotalDue(in)
	require.NoError(t, err)
	assert.True(t, checkout.AnnualCheckout)

	saas := lineOf(t, checkout, domain.ChargeSaaSFee)
	assert.True(t, saas.UnitPrice.Equal(decimal.NewFromInt(1200)))
	assert.True(t, saas.Quantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "2400.00", Display(saas.Subtotal))

	reports := lineOf(t, checkout, domain.ChargeReports)
	assert.True(t, reports.Quantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "120.00", Display(reports.Subtotal))
}

func TestMonthlyPlanBillsEveryPeriod(t *testing.T) {
	in := Input{
		Account:       account(domain.PlanCommercialMonthly, 2),
		Charges:       []domain.Charge{charge(1, domain.ChargeSaaSFee, "100"), charge(2, domain.ChargeReports, "10")},
		ReferenceDate: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	}
	out, err := ComputeTotalDue(in)
	require.NoError(t, err)
	assert.Equal(t, "200.00", Display(lineOf(t, out, domain.ChargeSaaSFee).Subtotal))
	assert.Equal(t, "10.00", Display(lineOf(t, out, domain.ChargeReports).Subtotal))
	assert.False(t, out.AnnualCheckout)
}

func TestPaymentTransactionsOnlyOnPro(t *testing.T) {
	charges := []domain.Charge{charge(1, domain.ChargePaymentTransaction, "4.5")}
	usage := Usage{PaymentTransfers: 10, PaymentsAvailable: true}
	ref := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	out, err := ComputeTotalDue(Input{
		Account: account(domain.PlanCommercialMonthly, 1), Charges: charges, Usage: usage,
		ReferenceDate: ref, Policy: DefaultPolicy(),
	})
	require.NoError(t, err)
	assert.False(t, hasLine(out, domain.ChargePaymentTransaction))

	out, err = ComputeTotalDue(Input{
		Account: account(domain.PlanProMonthly, 1), Charges: charges, Usage: usage,
		ReferenceDate: ref, Policy: DefaultPolicy(),
	})
	require.NoError(t, err)
	assert.Equal(t, "45.00", Display(lineOf(t, out, domain.ChargePaymentTransaction).Subtotal))

	out, err = ComputeTotalDue(Input{
		Account: account(domain.PlanProAnnual, 1), Charges: charges,
		Usage:         Usage{PaymentTransfers: 10, PaymentsAvailable: false},
		ReferenceDate: ref, Policy: DefaultPolicy(),
	})
	require.NoError(t, err)
	assert.False(t, hasLine(out, domain.ChargePaymentTransaction))
}

func TestInactiveChargesAreIgnored(t *testing.T) {
	inactive := charge(1, domain.ChargeSaaSFee, "100")
	inactive.Active = false
	out, err := ComputeTotalDue(Input{
		Account:       account(domain.PlanCommercialMonthly, 1),
		Charges:       []domain.Charge{inactive},
		ReferenceDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		Policy:        DefaultPolicy(),
	})
	require.NoError(t, err)
	assert.Empty(t, out.Lines)
	assert.True(t, out.IsEmpty())
}

func TestValidateRejectsMalformedConfig(t *testing.T) {
	ref := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	percentCharge := charge(1, domain.ChargePaymentTransaction, "101")
	percentCharge.AmountKind = domain.AmountPercentage

	unknownKind := charge(1, domain.ChargeSaaSFee, "10")
	unknownKind.AmountKind = "ratio"

	usd := charge(2, domain.ChargeReports, "10")
	usd.Currency = "USD"

	cases := map[string]Input{
		"percentage charge over 100": {
			Account: account(domain.PlanCommercialMonthly, 1), Charges: []domain.Charge{percentCharge},
			ReferenceDate: ref, Policy: DefaultPolicy(),
		},
		"unknown amount kind": {
			Account: account(domain.PlanCommercialMonthly, 1), Charges: []domain.Charge{unknownKind},
			ReferenceDate: ref, Policy: DefaultPolicy(),
		},
		"negative amount": {
			Account: account(domain.PlanCommercialMonthly, 1), Charges: []domain.Charge{charge(1, domain.ChargeSaaSFee, "-1")},
			ReferenceDate: ref, Policy: DefaultPolicy(),
		},
		"mixed currency": {
			Account: account(domain.PlanCommercialMonthly, 1), Charges: []domain.Charge{charge(1, domain.ChargeSaaSFee, "1"), usd},
			ReferenceDate: ref, Policy: DefaultPolicy(),
		},
		"discount over 100 percent": {
			Account:   account(domain.PlanCommercialMonthly, 1),
			Charges:   []domain.Charge{charge(1, domain.ChargeSaaSFee, "1")},
			Discounts: []domain.ChargeDiscount{discount(2, 1, 1, domain.AmountPercentage, "101")},
			ReferenceDate: ref, Policy: DefaultPolicy(),
		},
		"missing reference date": {
			Account: account(domain.PlanCommercialMonthly, 1), Policy: DefaultPolicy(),
		},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ComputeTotalDue(in)
			assert.ErrorIs(t, err, ErrInvalidChargeConfig)
		})
	}
}

func TestPercentageChargeIsPricedOnFixedLines(t *testing.T) {
	ref := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	fee := charge(1, domain.ChargeSaaSFee, "100")
	transactions := charge(2, domain.ChargePaymentTransaction, "2.5")
	transactions.AmountKind = domain.AmountPercentage

	in := Input{
		Account:       account(domain.PlanProMonthly, 2),
		Charges:       []domain.Charge{transactions, fee},
		Discounts:     []domain.ChargeDiscount{discount(3, 1, 1, domain.AmountFixed, "40")},
		Usage:         Usage{PaymentTransfers: 7, PaymentsAvailable: true},
		ReferenceDate: ref,
		Policy:        DefaultPolicy(),
	}
	out, err := ComputeTotalDue(in)
	require.NoError(t, err)
	require.Len(t, out.Lines, 2)

	// (2 x 100 - 40) x 2.5% = 4
	line := lineOf(t, out, domain.ChargePaymentTransaction)
	assert.True(t, line.Quantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "4.00", Display(line.Subtotal))
	assert.Equal(t, "4.64", Display(line.Total))
	assert.Equal(t, "164.00", Display(out.SubtotalDue))
	assert.True(t, out.TotalDue.Equal(out.SubtotalDue.Add(out.TaxDue)))

	in.Account = account(domain.PlanCommercialMonthly, 2)
	out, err = ComputeTotalDue(in)
	require.NoError(t, err)
	assert.False(t, hasLine(out, domain.ChargePaymentTransaction))
}

func TestForPlanUnknown(t *testing.T) {
	_, err := ForPlan(domain.PlanCode("enterprise"))
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = ComputeTotalDue(Input{Account: account("enterprise", 1)})
	assert.ErrorIs(t, err, ErrUnknownPlan)
}
