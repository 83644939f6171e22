package domain

import "github.com/shopspring/decimal"

// TaxWithholdingRate applies when no valid tax form is on file.
var TaxWithholdingRate = decimal.RequireFromString("0.24")

// Breakdown line kinds.
const (
	LineCredit = "credit"
	LineDebit  = "debit"
)

// BreakdownLine is one row of the canonical payout breakdown used by documents.
type BreakdownLine struct {
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

// NetPayoutCalculation is the net amount and how it was reached. Amounts are in minor units.
type NetPayoutCalculation struct {
	Gross           int64           `json:"gross"`
	RetentionFee    int64           `json:"retention_fee"`
	TaxWithholding  int64           `json:"tax_withholding"`
	Net             int64           `json:"net"`
	HasValidTaxForm bool            `json:"has_valid_tax_form"`
	Breakdown       []BreakdownLine `json:"breakdown"`
}

// TaxWithholding is round(gross * 0.24) to the nearest minor unit, half away from zero.
func TaxWithholding(gross int64) int64 {
	return decimal.NewFromInt(gross).Mul(TaxWithholdingRate).Round(0).IntPart()
}

// CalculateNetPayout subtracts the retention fee and, without a tax form, the withholding.
func CalculateNetPayout(gross, retentionFee int64, hasValidTaxForm bool) NetPayoutCalculation {
	calc := NetPayoutCalculation{
		Gross:           gross,
		RetentionFee:    retentionFee,
		HasValidTaxForm: hasValidTaxForm,
		Breakdown: []BreakdownLine{
			{Label: "Gross payout", Kind: LineCredit, Amount: gross},
			{Label: "Retention fee", Kind: LineDebit, Amount: retentionFee},
		},
	}

	net := gross - retentionFee
	if !hasValidTaxForm {
		calc.TaxWithholding = TaxWithholding(gross)
		net -= calc.TaxWithholding
		calc.Breakdown = append(calc.Breakdown, BreakdownLine{Label: "Tax withholding (24%)", Kind: LineDebit, Amount: calc.TaxWithholding})
	}

	calc.Net = net
	calc.Breakdown = append(calc.Breakdown, BreakdownLine{Label: "Net payout", Kind: LineCredit, Amount: net})
	return calc
}
