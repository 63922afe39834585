package models

import (
	"github.com/shopspring/decimal"
)

// InvoiceLine is the pricing part of an invoice item.
type InvoiceLine struct {
	Quantity int
	Amount   decimal.Decimal
	Discount decimal.Decimal
}

// Total is quantity × amount − discount.
func (l InvoiceLine) Total() decimal.Decimal {
	return decimal.NewFromInt(int64(l.Quantity)).Mul(l.Amount).Sub(l.Discount)
}

type InvoiceTotals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// CalculateInvoiceTotals always starts from the full item list; totals are never adjusted incrementally.
func CalculateInvoiceTotals(lines []InvoiceLine, tax decimal.Decimal) InvoiceTotals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}
	return InvoiceTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// ProposalLine is the pricing part of a proposal item. Quantity 0 means unspecified.
type ProposalLine struct {
	Quantity int
	Price    decimal.Decimal
}

func (l ProposalLine) EffectiveQuantity() int {
	if l.Quantity <= 0 {
		return 1
	}
	return l.Quantity
}

func CalculateProposalTotal(lines []ProposalLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(decimal.NewFromInt(int64(l.EffectiveQuantity())).Mul(l.Price))
	}
	return total
}

// FormatMoney renders a value with two decimals at the API boundary.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func FormatMoneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := FormatMoney(*d)
	return &s
}
