package execution

import "github.com/shopspring/decimal"

// QtyPlaces is the finest fractional quantity the crypto venue accepts.
const QtyPlaces = 8

var (
	thousand = decimal.NewFromInt(1000)
	one      = decimal.NewFromInt(1)
)

// PricePlaces returns the tick precision for a price: coarse for expensive
// assets, fine for sub-dollar ones.
func PricePlaces(price decimal.Decimal) int32 {
	switch {
	case price.GreaterThanOrEqual(thousand):
		return 2
	case price.GreaterThanOrEqual(one):
		return 4
	default:
		return 6
	}
}

// RoundPrice rounds half away from zero to the tier chosen by the unrounded
// price.
func RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(PricePlaces(price))
}

// TargetPrice is the limit sell price for a fill at avgFill.
func TargetPrice(avgFill decimal.Decimal, p Policy) decimal.Decimal {
	return RoundPrice(avgFill.Mul(p.Markup()))
}

// FormatPrice renders a rounded price with its tier's fixed decimals.
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(PricePlaces(price))
}

func FormatQty(qty decimal.Decimal) string {
	return qty.StringFixed(QtyPlaces)
}
