// Package symbol canonicalises exchange asset identifiers.
package symbol

import "strings"

const pairSuffix = "/USDC"

var stableCash = map[string]struct{}{
	"USDC":  {},
	"USDT":  {},
	"USDE":  {},
	"USDH":  {},
	"USDT0": {},
}

// Normalize canonicalises an exchange symbol to the key used for coin buckets.
// An empty result means the symbol is unresolvable and the record must be skipped.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.TrimSuffix(s, pairSuffix)
	return strings.TrimSpace(s)
}

// IsStableCash reports whether the normalized symbol is a stable cash balance.
func IsStableCash(normalized string) bool {
	_, ok := stableCash[normalized]
	return ok
}

// IsPairID reports whether raw is a spot pair id such as "@107".
func IsPairID(raw string) bool {
	raw = strings.TrimSpace(raw)
	return len(raw) > 1 && raw[0] == '@'
}
