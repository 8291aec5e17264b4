// Package currency converts gateway amounts into ledger tokens using a fixed rate table.
package currency

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Base is the currency every rate is expressed against.
	Base = "USD"
	// TokensPerBaseUnit is how many tokens one unit of Base buys.
	TokensPerBaseUnit = 100
	// RatesVersion identifies the rate table below. Bump it whenever a rate changes.
	RatesVersion = "2024-06"

	// MaxAmountScale and MaxAmountIntDigits match the NUMERIC(20,8) amount columns.
	MaxAmountScale     = 8
	MaxAmountIntDigits = 12
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// rates holds base units per one unit of the keyed currency.
var rates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"EUR": decimal.RequireFromString("1.08"),
	"GBP": decimal.RequireFromString("1.27"),
	"CHF": decimal.RequireFromString("1.12"),
	"CAD": decimal.RequireFromString("0.74"),
	"AUD": decimal.RequireFromString("0.66"),
	"PLN": decimal.RequireFromString("0.25"),
	"UAH": decimal.RequireFromString("0.024"),
}

var (
	tokensPerBase = decimal.NewFromInt(TokensPerBaseUnit)
	maxTokens     = decimal.NewFromInt(math.MaxInt64)
	amountCeiling = decimal.New(1, MaxAmountIntDigits)
)

// Rate returns the base-currency rate for code.
func Rate(code string) (decimal.Decimal, error) {
	r, ok := rates[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return r, nil
}

// IsSupported reports whether code has an entry in the rate table.
func IsSupported(code string) bool {
	_, err := Rate(code)
	return err == nil
}

// Supported lists the currency codes in the rate table.
func Supported() []string {
	codes := make([]string, 0, len(rates))
	for c := range rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ValidateAmount rejects amounts that are not positive or that the ledger
// could not store without rounding.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Truncate(MaxAmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), MaxAmountScale)
	}
	if amount.GreaterThanOrEqual(amountCeiling) {
		return fmt.Errorf("%w: %s exceeds %d integer digits", ErrInvalidAmount, amount.String(), MaxAmountIntDigits)
	}
	return nil
}

// ToTokens converts amount of code into tokens.
// The product amount*rate*TokensPerBaseUnit is computed exactly and rounded once,
// half away from zero, which is round-half-up for the positive amounts accepted here.
func ToTokens(amount decimal.Decimal, code string) (int64, error) {
	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}
	rate, err := Rate(code)
	if err != nil {
		return 0, err
	}
	tokens := amount.Mul(rate).Mul(tokensPerBase).Round(0)
	if tokens.GreaterThan(maxTokens) {
		return 0, fmt.Errorf("%w: %s %s overflows the token counter", ErrInvalidAmount, amount.String(), code)
	}
	return tokens.IntPart(), nil
}
