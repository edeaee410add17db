package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketFromLeadingDigit(t *testing.T) {
	cases := []struct {
		code string
		want Market
	}{
		{"600519", MarketShanghai},
		{"688111", MarketShanghai},
		{"000001", MarketShenzhen},
		{"300750", MarketShenzhen},
		{"830799", MarketBeijing},
		{"430047", MarketBeijing},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NewStockIdentifier(tc.code).Market(), "code %s", tc.code)
	}
}

func TestMarketDefaultsToShanghai(t *testing.T) {
	// leading digits outside the known set fall back to Shanghai
	assert.Equal(t, MarketShanghai, NewStockIdentifier("999999").Market())
	assert.Equal(t, MarketShanghai, NewStockIdentifier("123456").Market())
	assert.Equal(t, MarketShanghai, NewStockIdentifier("").Market())
}

func TestToProviderFormat(t *testing.T) {
	id := NewStockIdentifier("600519")
	assert.Equal(t, "600519.SH", ToProviderFormat(id, SchemeSuffixDotted))
	assert.Equal(t, "sh.600519", ToProviderFormat(id, SchemePrefixDotted))
	assert.Equal(t, "sh600519", ToProviderFormat(id, SchemePrefixBare))
	assert.Equal(t, "600519", ToProviderFormat(id, SchemeBare))

	sz := NewStockIdentifier("000001")
	assert.Equal(t, "000001.SZ", ToProviderFormat(sz, SchemeSuffixDotted))
	assert.Equal(t, "sz.000001", ToProviderFormat(sz, SchemePrefixDotted))

	bj := NewStockIdentifier("830799")
	assert.Equal(t, "830799.BJ", ToProviderFormat(bj, SchemeSuffixDotted))
	assert.Equal(t, "bj830799", ToProviderFormat(bj, SchemePrefixBare))
}

func TestFromCanonicalRoundTrip(t *testing.T) {
	codes := []string{"600519", "000001", "300750", "830799", "430047"}
	schemes := []CodeScheme{SchemeSuffixDotted, SchemePrefixDotted, SchemePrefixBare, SchemeBare}
	for _, code := range codes {
		id := NewStockIdentifier(code)
		for _, scheme := range schemes {
			decorated := ToProviderFormat(id, scheme)
			back := FromCanonical(decorated)
			require.Equal(t, code, back.Code(), "%s via %s", code, scheme)
		}
	}
}

func TestFromCanonicalParsesAllDecorations(t *testing.T) {
	assert.Equal(t, "600519", FromCanonical("600519.SH").Code())
	assert.Equal(t, "600519", FromCanonical("sh.600519").Code())
	assert.Equal(t, "600519", FromCanonical("sh600519").Code())
	assert.Equal(t, "600519", FromCanonical("600519").Code())
	assert.Equal(t, "000001", FromCanonical("SZ.000001").Code())
	assert.Equal(t, "000001", FromCanonical("000001.sz").Code())
}

func TestNormalizeCodeIdempotent(t *testing.T) {
	// already-decorated input passes through unchanged
	assert.Equal(t, "sh.600519", NormalizeCode("sh.600519", SchemePrefixDotted))
	assert.Equal(t, "600519.SH", NormalizeCode("600519.SH", SchemeSuffixDotted))
	assert.Equal(t, "sh600519", NormalizeCode("sh600519", SchemePrefixBare))
	assert.Equal(t, "600519", NormalizeCode("600519", SchemeBare))

	// twice normalizes the same as once
	once := NormalizeCode("600519", SchemePrefixDotted)
	assert.Equal(t, once, NormalizeCode(once, SchemePrefixDotted))
}

func TestNormalizeCodeCrossScheme(t *testing.T) {
	// input decorated for one provider re-decorates for another
	assert.Equal(t, "600519.SH", NormalizeCode("sh.600519", SchemeSuffixDotted))
	assert.Equal(t, "sz.000001", NormalizeCode("000001.SZ", SchemePrefixDotted))
	assert.Equal(t, "600519", NormalizeCode("sh600519", SchemeBare))
}

func TestNormalizeCodeForProviders(t *testing.T) {
	assert.Equal(t, "600519.SH", NormalizeCode("600519", SchemeFor("tushare")))
	assert.Equal(t, "sh.600519", NormalizeCode("600519", SchemeFor("baostock")))
	assert.Equal(t, "sh600519", NormalizeCode("600519", SchemeFor("tencent")))
	assert.Equal(t, "600519", NormalizeCode("600519", SchemeFor("eastmoney")))
	assert.Equal(t, "sz.000001", NormalizeCode("000001", SchemeFor("baostock")))
}

func TestSchemeForUnknownProviderDefaultsBare(t *testing.T) {
	assert.Equal(t, SchemeBare, SchemeFor("somebody-new"))
}
