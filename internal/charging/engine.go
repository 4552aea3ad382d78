package charging

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
)

const monthsPerYear = 12

var hundred = decimal.NewFromInt(100)

type rules struct {
	annual              bool
	paymentTransactions bool
}

// Validate checks that the input can be priced.
func Validate(in Input) error {
	if !in.Account.Plan.Valid() {
		return ErrUnknownPlan
	}
	if in.Account.ActiveUnits < 0 {
		return fmt.Errorf("%w: negative active units", ErrInvalidChargeConfig)
	}
	if in.ReferenceDate.IsZero() {
		return fmt.Errorf("%w: missing reference date", ErrInvalidChargeConfig)
	}
	if in.Policy.TaxRate.IsNegative() || in.Policy.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tax rate out of range", ErrInvalidChargeConfig)
	}
	if in.Policy.IncludedFoliosPerUnit < 0 {
		return fmt.Errorf("%w: negative included folios", ErrInvalidChargeConfig)
	}

	currency := ""
	for _, charge := range in.Charges {
		if !charge.Active {
			continue
		}
		if !charge.Kind.Valid() {
			return fmt.Errorf("%w: unknown charge kind %q", ErrInvalidChargeConfig, charge.Kind)
		}
		if !charge.AmountKind.Valid() {
			return fmt.Errorf("%w: charge %s has amount kind %q", ErrInvalidChargeConfig, charge.ID, charge.AmountKind)
		}
		if charge.UnitAmount.IsNegative() {
			return fmt.Errorf("%w: charge %s has a negative amount", ErrInvalidChargeConfig, charge.ID)
		}
		if charge.AmountKind == domain.AmountPercentage && charge.UnitAmount.GreaterThan(hundred) {
			return fmt.Errorf("%w: charge %s exceeds 100%%", ErrInvalidChargeConfig, charge.ID)
		}
		c := strings.ToUpper(strings.TrimSpace(charge.Currency))
		if currency == "" {
			currency = c
		} else if c != "" && c != currency {
			return fmt.Errorf("%w: mixed currencies %s and %s", ErrInvalidChargeConfig, currency, c)
		}
	}

	for _, discount := range in.Discounts {
		if !discount.AmountKind.Valid() || discount.Amount.IsNegative() {
			return fmt.Errorf("%w: discount %s is malformed", ErrInvalidChargeConfig, discount.ID)
		}
		if discount.AmountKind == domain.AmountPercentage && discount.Amount.GreaterThan(hundred) {
			return fmt.Errorf("%w: discount %s exceeds 100%%", ErrInvalidChargeConfig, discount.ID)
		}
	}
	return nil
}

func compute(in Input, r rules) (PricedInvoice, error) {
	if err := Validate(in); err != nil {
		return PricedInvoice{}, err
	}

	ref := in.ReferenceDate.UTC()
	checkout := r.annual && ref.Month() == in.Account.CreatedAt.UTC().Month()

	out := PricedInvoice{
		AccountID:      in.Account.ID,
		Plan:           in.Account.Plan,
		PeriodLabel:    PeriodLabel(ref),
		ReferenceDate:  ref,
		Currency:       currencyOf(in),
		TaxRate:        in.Policy.TaxRate,
		AnnualCheckout: checkout,
		Lines:          []LineItem{},
		SubtotalDue:    decimal.Zero,
		TaxDue:         decimal.Zero,
		TotalDue:       decimal.Zero,
	}

	discounts := discountsByCharge(in.Discounts)
	var percentages []domain.Charge

	for _, charge := range in.Charges {
		if !charge.Active {
			continue
		}
		quantity, unitPrice, ok := measure(in, r, checkout, charge)
		if !ok {
			continue
		}
		if charge.AmountKind == domain.AmountPercentage {
			percentages = append(percentages, charge)
			continue
		}
		out.add(priceLine(charge, quantity, unitPrice, discounts[charge.ID], in.Policy.TaxRate))
	}

	// Percentage charges are priced on the discounted fixed lines only, so
	// they never compound on each other.
	base := out.SubtotalDue
	for _, charge := range percentages {
		unitPrice := round(base.Mul(charge.UnitAmount).Div(hundred))
		out.add(priceLine(charge, decimal.NewFromInt(1), unitPrice, discounts[charge.ID], in.Policy.TaxRate))
	}

	out.TaxDue = out.TotalDue.Sub(out.SubtotalDue)
	return out, nil
}

// measure decides whether a charge applies to the period and returns its
// quantity and unit price.
func measure(in Input, r rules, checkout bool, charge domain.Charge) (decimal.Decimal, decimal.Decimal, bool) {
	unitPrice := charge.UnitAmount
	switch charge.Kind {
	case domain.ChargeSaaSFee, domain.ChargeReports:
		if r.annual {
			if !checkout {
				return decimal.Zero, decimal.Zero, false
			}
			unitPrice = unitPrice.Mul(decimal.NewFromInt(monthsPerYear))
		}
		if charge.Kind == domain.ChargeSaaSFee {
			return decimal.NewFromInt(int64(in.Account.ActiveUnits)), unitPrice, true
		}
		return decimal.NewFromInt(1), unitPrice, true
	case domain.ChargeInvoiceFolioOverage:
		included := in.Policy.IncludedFoliosPerUnit * int64(in.Account.ActiveUnits)
		excess := in.Usage.FoliosIssued - included
		if excess <= 0 {
			return decimal.Zero, decimal.Zero, false
		}
		return decimal.NewFromInt(excess), unitPrice, true
	case domain.ChargePaymentTransaction:
		if !r.paymentTransactions || !in.Usage.PaymentsAvailable || in.Usage.PaymentTransfers <= 0 {
			return decimal.Zero, decimal.Zero, false
		}
		return decimal.NewFromInt(in.Usage.PaymentTransfers), unitPrice, true
	default:
		return decimal.Zero, decimal.Zero, false
	}
}

func (p *PricedInvoice) add(line LineItem) {
	p.Lines = append(p.Lines, line)
	p.SubtotalDue = p.SubtotalDue.Add(line.Subtotal)
	p.TotalDue = p.TotalDue.Add(line.Total)
}

// priceLine applies discounts in order on the running amount, flooring at
// zero, then adds tax on the discounted subtotal.
func priceLine(charge domain.Charge, quantity, unitPrice decimal.Decimal, discounts []domain.ChargeDiscount, taxRate decimal.Decimal) LineItem {
	gross := round(quantity.Mul(unitPrice))
	running := gross
	for _, d := range discounts {
		switch d.AmountKind {
		case domain.AmountFixed:
			running = running.Sub(d.Amount)
		case domain.AmountPercentage:
			running = running.Mul(decimal.NewFromInt(1).Sub(d.Amount.Div(hundred)))
		}
		if running.IsNegative() {
			running = decimal.Zero
		}
	}

	subtotal := round(running)
	total := round(subtotal.Mul(decimal.NewFromInt(1).Add(taxRate)))

	return LineItem{
		ChargeID:  charge.ID,
		Kind:      charge.Kind,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Gross:     gross,
		Discount:  gross.Sub(subtotal),
		Subtotal:  subtotal,
		Tax:       total.Sub(subtotal),
		Total:     total,
	}
}

func discountsByCharge(discounts []domain.ChargeDiscount) map[snowflake.ID][]domain.ChargeDiscount {
	ordered := make([]domain.ChargeDiscount, len(discounts))
	copy(ordered, discounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ChargeID != ordered[j].ChargeID {
			return ordered[i].ChargeID < ordered[j].ChargeID
		}
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := make(map[snowflake.ID][]domain.ChargeDiscount, len(ordered))
	for _, d := range ordered {
		out[d.ChargeID] = append(out[d.ChargeID], d)
	}
	return out
}

func currencyOf(in Input) string {
	for _, charge := range in.Charges {
		if charge.Active && strings.TrimSpace(charge.Currency) != "" {
			return strings.ToUpper(strings.TrimSpace(charge.Currency))
		}
	}
	if in.Policy.Currency != "" {
		return in.Policy.Currency
	}
	return "MXN"
}
