package charging

// CommercialMonthly bills the full fee set every month.
type CommercialMonthly struct{}

func (CommercialMonthly) ComputeTotalDue(in Input) (PricedInvoice, error) {
	return compute(in, rules{})
}

// CommercialAnnual bills twelve months of fixed fees once a year, in the
// month the account was created. Overage is billed monthly.
type CommercialAnnual struct{}

func (CommercialAnnual) ComputeTotalDue(in Input) (PricedInvoice, error) {
	return compute(in, rules{annual: true})
}

// ProMonthly adds reconciled payment transactions on top of the commercial fees.
type ProMonthly struct{}

func (ProMonthly) ComputeTotalDue(in Input) (PricedInvoice, error) {
	return compute(in, rules{paymentTransactions: true})
}

type ProAnnual struct{}

func (ProAnnual) ComputeTotalDue(in Input) (PricedInvoice, error) {
	return compute(in, rules{annual: true, paymentTransactions: true})
}
