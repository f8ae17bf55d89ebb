package symbol

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"   ":        "",
		"eth":        "ETH",
		" ETH/USDC ": "ETH",
		"hype/usdc":  "HYPE",
		"BTC":        "BTC",
		"PURR/USDT":  "PURR/USDT",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsStableCash(t *testing.T) {
	if !IsStableCash("USDC") {
		t.Fatal("USDC should be stable cash")
	}
	if IsStableCash("ETH") {
		t.Fatal("ETH is not stable cash")
	}
}

func TestIsPairID(t *testing.T) {
	if !IsPairID("@107") {
		t.Fatal("@107 should be a pair id")
	}
	if IsPairID("@") || IsPairID("HYPE") {
		t.Fatal("unexpected pair id match")
	}
}
