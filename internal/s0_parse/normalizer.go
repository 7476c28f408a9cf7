package s0_parse

import (
	"strings"
)

// Market prefixes recognised on raw stock identifiers
const (
	MarketShanghai = "SH"
	MarketShenzhen = "SZ"
	MarketBeijing  = "BJ"
)

var marketPrefixes = []string{MarketShanghai, MarketShenzhen, MarketBeijing}

// NormalizedCode is the result of stripping a market prefix
type NormalizedCode struct {
	Original string
	Code     string
	Market   string // SH, SZ, BJ or empty
}

// NormalizeCode strips a leading SH/SZ/BJ prefix (any case) when at least one
// character follows it. Anything else passes through unchanged with an empty
// market. Never fails.
// ⭐ SSOT: stock identifier normalization happens here only
func NormalizeCode(raw string) NormalizedCode {
	original := strings.TrimSpace(raw)
	out := NormalizedCode{Original: original, Code: original}

	if len(original) <= 2 {
		return out
	}

	head := strings.ToUpper(original[:2])
	for _, p := range marketPrefixes {
		if head == p {
			out.Market = p
			out.Code = original[2:]
			return out
		}
	}

	return out
}

// IsNumericCode reports whether code is a six digit exchange code
func IsNumericCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
