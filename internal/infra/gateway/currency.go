package gateway

import (
	"math"
	"strconv"
	"strings"
)

// zeroDecimalCurrencies have no minor unit: amounts on the wire are already in
// whole currency units (factor 1). Everything else uses cents (factor 100).
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// MinorUnitFactor returns the multiplier that converts a major-unit amount of
// the currency to the gateway's minor-unit convention.
func MinorUnitFactor(currency string) int64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 1
	}
	return 100
}

// ToMinorUnits converts a decimal major-unit amount to minor units, rounding
// to the nearest unit to absorb float representation error.
func ToMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * float64(MinorUnitFactor(currency))))
}

// FromMinorUnits exactly reverses ToMinorUnits.
func FromMinorUnits(minor int64, currency string) float64 {
	return float64(minor) / float64(MinorUnitFactor(currency))
}

// FormatAmount renders a major-unit amount the way form-based gateways expect:
// no exponent, no trailing zeros ("99", "0.01", "12.5").
func FormatAmount(amount float64, currency string) string {
	if MinorUnitFactor(currency) == 1 {
		return strconv.FormatInt(int64(math.Round(amount)), 10)
	}
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// ParseAmount parses a gateway-formatted amount string back to major units.
func ParseAmount(s string, currency string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	// Normalize through minor units so the round trip is exact.
	return FromMinorUnits(ToMinorUnits(v, currency), currency), nil
}
