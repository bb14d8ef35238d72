// internal/services/money.go
package services

import (
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Amounts are held as decimal euros in the database and converted to integer
// cents for any arithmetic or processor call.

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

// ComputeDepositAmount returns maxPrice × percentage / 100 rounded half away
// from zero to the cent.
func ComputeDepositAmount(maxPrice, percentage float64) float64 {
	cents := math.Round(float64(toCents(maxPrice)) * percentage / 100)
	return fromCents(int64(cents))
}

// ComputeProfit is sale price minus seller cost, computed in cents.
func ComputeProfit(salePrice, sellerCost float64) float64 {
	return fromCents(toCents(salePrice) - toCents(sellerCost))
}

var moneyPrinter = message.NewPrinter(language.French)

// formatMoney renders a euro amount for notification payloads.
func formatMoney(amount float64) string {
	return moneyPrinter.Sprint(currency.Symbol(currency.EUR.Amount(amount)))
}
