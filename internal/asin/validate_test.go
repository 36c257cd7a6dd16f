package asin

import "testing"

func TestValidateASIN(t *testing.T) {
	cases := map[string]bool{
		"B00ZVA3XL6": true,
		"b00zva3xl6": true, // case-normalized before matching
		"1234567890": false,
		"B0000000":   false, // too short
		"XOOZVA3XL6": false, // wrong leading char
		"":           false,
	}
	for input, want := range cases {
		if got := ValidateASIN(input); got != want {
			t.Errorf("ValidateASIN(%q) = %v, want %v", input, got, want)
		}
	}
}
