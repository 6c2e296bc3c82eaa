//go:build !integration

package gateway

import "testing"

func TestMinorUnitFactor(t *testing.T) {
	cases := map[string]int64{
		"USD": 100,
		"usd": 100,
		"CNY": 100,
		"EUR": 100,
		"JPY": 1,
		"KRW": 1,
		"VND": 1,
		"XOF": 1,
	}
	for cur, want := range cases {
		if got := MinorUnitFactor(cur); got != want {
			t.Errorf("MinorUnitFactor(%s) = %d, want %d", cur, got, want)
		}
	}
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	cases := []struct {
		amount   float64
		currency string
		minor    int64
	}{
		{99, "USD", 9900},
		{0.01, "USD", 1},
		{19.99, "EUR", 1999},
		{99, "JPY", 99},
		{1234, "KRW", 1234},
		{0.1, "CNY", 10},
	}
	for _, c := range cases {
		if got := ToMinorUnits(c.amount, c.currency); got != c.minor {
			t.Errorf("ToMinorUnits(%v,%s) = %d, want %d", c.amount, c.currency, got, c.minor)
		}
		if back := FromMinorUnits(c.minor, c.currency); back != c.amount {
			t.Errorf("FromMinorUnits(%d,%s) = %v, want %v", c.minor, c.currency, back, c.amount)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   float64
		currency string
		want     string
	}{
		{99, "USD", "99"},
		{0.01, "USD", "0.01"},
		{19.90, "USD", "19.9"},
		{100, "JPY", "100"},
	}
	for _, c := range cases {
		if got := FormatAmount(c.amount, c.currency); got != c.want {
			t.Errorf("FormatAmount(%v,%s) = %q, want %q", c.amount, c.currency, got, c.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("19.99", "USD")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if got != 19.99 {
		t.Errorf("ParseAmount = %v, want 19.99", got)
	}
	if _, err := ParseAmount("not-a-number", "USD"); err == nil {
		t.Error("expected error for malformed amount")
	}
}
