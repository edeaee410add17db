package adapters

import (
	"strings"
)

// Market identifies the exchange a stock trades on.
type Market string

const (
	MarketShanghai Market = "sh"
	MarketShenzhen Market = "sz"
	MarketBeijing  Market = "bj"
)

// StockIdentifier is the canonical stock id: the bare numeric code. The
// market is derived from the leading digit, never stored separately, so
// the value stays a pure function of the code.
type StockIdentifier struct {
	code string
}

// NewStockIdentifier wraps an already-bare numeric code.
func NewStockIdentifier(code string) StockIdentifier {
	return StockIdentifier{code: strings.TrimSpace(code)}
}

// Code returns the bare numeric code, e.g. "600519".
func (s StockIdentifier) Code() string { return s.code }

// Market infers the exchange from the leading digit:
// 6 -> Shanghai, 0/3 -> Shenzhen, 8/4 -> Beijing.
//
// Codes with any other leading digit (including malformed or empty input)
// resolve to Shanghai. That default is a legacy quirk the rest of the
// pipeline depends on; it can hide bad input upstream, so don't "fix" it
// here without migrating stored watchlists.
func (s StockIdentifier) Market() Market {
	if s.code == "" {
		return MarketShanghai
	}
	switch s.code[0] {
	case '6':
		return MarketShanghai
	case '0', '3':
		return MarketShenzhen
	case '8', '4':
		return MarketBeijing
	default:
		return MarketShanghai
	}
}

func (s StockIdentifier) String() string { return s.code }

// CodeScheme names a provider's code decoration convention.
type CodeScheme string

const (
	// SchemeSuffixDotted renders "600519.SH" (tushare).
	SchemeSuffixDotted CodeScheme = "suffix_dotted"
	// SchemePrefixDotted renders "sh.600519" (baostock).
	SchemePrefixDotted CodeScheme = "prefix_dotted"
	// SchemePrefixBare renders "sh600519" (tencent/sina style).
	SchemePrefixBare CodeScheme = "prefix_bare"
	// SchemeBare renders the undecorated code "600519" (eastmoney).
	SchemeBare CodeScheme = "bare"
)

// providerSchemes maps provider names to their code scheme. New providers
// register here; callers never switch on provider names directly.
var providerSchemes = map[string]CodeScheme{
	"tushare":   SchemeSuffixDotted,
	"baostock":  SchemePrefixDotted,
	"tencent":   SchemePrefixBare,
	"eastmoney": SchemeBare,
}

// SchemeFor returns the code scheme for a provider, defaulting to bare.
func SchemeFor(provider string) CodeScheme {
	if s, ok := providerSchemes[provider]; ok {
		return s
	}
	return SchemeBare
}

// ToProviderFormat renders the identifier in the given scheme. The
// translation is deterministic and side-effect-free.
func ToProviderFormat(id StockIdentifier, scheme CodeScheme) string {
	market := string(id.Market())
	switch scheme {
	case SchemeSuffixDotted:
		return id.Code() + "." + strings.ToUpper(market)
	case SchemePrefixDotted:
		return market + "." + id.Code()
	case SchemePrefixBare:
		return market + id.Code()
	default:
		return id.Code()
	}
}

// NormalizeCode converts a raw code string into the provider scheme. Codes
// already decorated for the target scheme pass through unchanged; codes
// decorated for another scheme are reduced to canonical form first.
func NormalizeCode(raw string, scheme CodeScheme) string {
	if hasScheme(raw, scheme) {
		return raw
	}
	return ToProviderFormat(FromCanonical(raw), scheme)
}

// FromCanonical parses any supported decoration back to the canonical
// identifier. This is the inverse direction used when re-tagging rows a
// provider returns under its own scheme.
func FromCanonical(raw string) StockIdentifier {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)

	// "sh.600519" / "sz.000001"
	if len(raw) > 3 && raw[2] == '.' && isMarketTag(lower[:2]) {
		return NewStockIdentifier(raw[3:])
	}
	// "600519.SH"
	if i := strings.LastIndexByte(raw, '.'); i > 0 && isMarketTag(lower[i+1:]) {
		return NewStockIdentifier(raw[:i])
	}
	// "sh600519"
	if len(raw) > 2 && isMarketTag(lower[:2]) && isDigits(raw[2:]) {
		return NewStockIdentifier(raw[2:])
	}
	return NewStockIdentifier(raw)
}

func hasScheme(raw string, scheme CodeScheme) bool {
	lower := strings.ToLower(raw)
	switch scheme {
	case SchemeSuffixDotted:
		i := strings.LastIndexByte(raw, '.')
		return i > 0 && isMarketTag(lower[i+1:])
	case SchemePrefixDotted:
		return len(raw) > 3 && raw[2] == '.' && isMarketTag(lower[:2])
	case SchemePrefixBare:
		return len(raw) > 2 && isMarketTag(lower[:2]) && isDigits(raw[2:])
	default:
		return isDigits(raw)
	}
}

func isMarketTag(s string) bool {
	switch s {
	case "sh", "sz", "bj":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
