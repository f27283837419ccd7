package domain

// AssetMeta describes venue-level trading parameters for one asset.
type AssetMeta struct {
	Asset        string
	SizeDecimals int
	TickSize     float64
	MaxLeverage  int
}

// DefaultSizeDecimals covers the majors when the venue meta query is down.
// Unknown assets fall back to FallbackSizeDecimals.
var DefaultSizeDecimals = map[string]int{
	"BTC":   4,
	"ETH":   3,
	"SOL":   1,
	"AVAX":  1,
	"MATIC": 0,
	"DOGE":  0,
}

const FallbackSizeDecimals = 3
