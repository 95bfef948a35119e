package util

import (
	"math"
	"testing"
)

func TestIsDigits(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{in: "101", want: true},
		{in: "0", want: true},
		{in: "", want: false},
		{in: " 101", want: false},
		{in: "-5", want: false},
		{in: "0.5", want: false},
		{in: "1e3", want: false},
	}
	for _, tc := range cases {
		if got := IsDigits(tc.in); got != tc.want {
			t.Fatalf("IsDigits(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestDigitTokens(t *testing.T) {
	got := DigitTokens("101, 202,x,303,,4.5", ",")
	want := []string{"101", "202", "303"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  float64
		ok    bool
	}{
		{name: "plain", input: "12.5", want: 12.5, ok: true},
		{name: "decimal comma", input: "1,5", want: 1.5, ok: true},
		{name: "decimal comma two places", input: "12,50", want: 12.5, ok: true},
		{name: "thousands separator", input: "1,234", ok: false},
		{name: "two commas", input: "1,234,567", ok: false},
		{name: "spaces", input: " 7 ", want: 7, ok: true},
		{name: "nan", input: "NaN", ok: false},
		{name: "text", input: "abc", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseDecimal(tc.input)
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestParseInteger(t *testing.T) {
	if v, ok := ParseInteger("3.0"); !ok || v != 3 {
		t.Fatalf("got %v %v", v, ok)
	}
	if _, ok := ParseInteger("3.5"); ok {
		t.Fatal("3.5 should not parse as integer")
	}
	for _, in := range []string{"9223372036854775808", "9.223372036854775808e18", "1e19"} {
		if v, ok := ParseInteger(in); ok {
			t.Fatalf("ParseInteger(%q) = %d, want out of range", in, v)
		}
	}
	if v, ok := ParseInteger("-9223372036854775808"); !ok || v != math.MinInt64 {
		t.Fatalf("min int64: got %v %v", v, ok)
	}
}
