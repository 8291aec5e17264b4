package currency

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToTokens(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{name: "whole base units", amount: "10.00", currency: "USD", want: 1000},
		{name: "lower case code", amount: "10", currency: "usd", want: 1000},
		{name: "euro rounds up from .92", amount: "19.99", currency: "EUR", want: 2159},
		{name: "pound rounds up from .73", amount: "19.99", currency: "GBP", want: 2539},
		{name: "exact half rounds up", amount: "0.125", currency: "USD", want: 13},
		{name: "x.995 boundary rounds up", amount: "10.005", currency: "USD", want: 1001},
		{name: "just below half rounds down", amount: "10.004", currency: "USD", want: 1000},
		{name: "x.995 in dollars", amount: "19.995", currency: "USD", want: 2000},
		{name: "hryvnia small rate", amount: "19.99", currency: "UAH", want: 48},
		{name: "single cent", amount: "0.01", currency: "USD", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToTokens(decimal.RequireFromString(tt.amount), tt.currency)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("tokens: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToTokensMatchesRoundedProduct(t *testing.T) {
	// round(19.99 * R * 100) for every rate in the table
	amount := decimal.RequireFromString("19.99")
	for _, code := range Supported() {
		rate, err := Rate(code)
		if err != nil {
			t.Fatalf("rate %s: %v", code, err)
		}
		want := amount.Mul(rate).Mul(decimal.NewFromInt(TokensPerBaseUnit)).Round(0).IntPart()
		got, err := ToTokens(amount, code)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", code, err)
		}
		if got != want {
			t.Fatalf("%s: got %d, want %d", code, got, want)
		}
	}
}

func TestToTokensErrors(t *testing.T) {
	if _, err := ToTokens(decimal.RequireFromString("5"), "XYZ"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("unknown currency: got %v, want ErrUnsupportedCurrency", err)
	}
	if _, err := ToTokens(decimal.Zero, "USD"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := ToTokens(decimal.RequireFromString("-1"), "USD"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestToTokensRejectsUnstorableAmounts(t *testing.T) {
	tests := []struct {
		name   string
		amount string
	}{
		{name: "nine decimal places", amount: "10.000000001"},
		{name: "thirteen integer digits", amount: "1000000000000"},
		{name: "beyond the token counter", amount: "92233720368547758.08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ToTokens(decimal.RequireFromString(tt.amount), "USD"); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("got %v, want ErrInvalidAmount", err)
			}
		})
	}
}

func TestToTokensAcceptsStorableBounds(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"10.000000000", 1000},
		{"0.00000001", 0},
		{"999999999999.99999999", 100000000000000},
	}
	for _, tt := range tests {
		got, err := ToTokens(decimal.RequireFromString(tt.amount), "USD")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.amount, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestSupported(t *testing.T) {
	codes := Supported()
	if len(codes) != len(rates) {
		t.Fatalf("got %d codes, want %d", len(codes), len(rates))
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] > codes[i] {
			t.Fatalf("codes not sorted: %v", codes)
		}
	}
	if !IsSupported(Base) {
		t.Fatalf("base currency %s must be supported", Base)
	}
}
