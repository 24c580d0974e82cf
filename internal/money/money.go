// Package money centralises monetary arithmetic. Every VAT figure in the
// service is derived here so invoice VAT and job-budget VAT stay
// reconcilable.
package money

import "github.com/shopspring/decimal"

// Round rounds an amount to two decimal places, half away from zero.
func Round(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(2).InexactFloat64()
}

// VAT computes the VAT due on subtotal at rate (e.g. 0.2 for 20%).
func VAT(subtotal, rate float64) float64 {
	return decimal.NewFromFloat(subtotal).
		Mul(decimal.NewFromFloat(rate)).
		Round(2).
		InexactFloat64()
}

// Total returns subtotal + vat rounded to two decimal places.
func Total(subtotal, vat float64) float64 {
	return decimal.NewFromFloat(subtotal).
		Add(decimal.NewFromFloat(vat)).
		Round(2).
		InexactFloat64()
}

// Line computes quantity × unitCost rounded to two decimal places.
func Line(quantity, unitCost float64) float64 {
	return decimal.NewFromFloat(quantity).
		Mul(decimal.NewFromFloat(unitCost)).
		Round(2).
		InexactFloat64()
}
