package cardcheck

import (
	"strconv"

	"github.com/alovak/cardflow-checkout/internal/cardgen"
)

// Brand is a display hint derived from the card number prefix. It is never
// used to accept or reject a card.
type Brand string

const (
	BrandUnknown    Brand = "Unknown"
	BrandVisa       Brand = "Visa"
	BrandMastercard Brand = "Mastercard"
	BrandAmex       Brand = "Amex"
	BrandDiscover   Brand = "Discover"
	BrandJCB        Brand = "JCB"
)

func DetectBrand(number string) Brand {
	n := cardgen.NormalizePAN(number)
	if n == "" || !cardgen.IsDigits(n) {
		return BrandUnknown
	}
	p2 := prefix(n, 2)
	p4 := prefix(n, 4)
	switch {
	case n[0] == '4':
		return BrandVisa
	case p2 == 34 || p2 == 37:
		return BrandAmex
	case p2 >= 51 && p2 <= 55, p2 >= 22 && p2 <= 27:
		return BrandMastercard
	case p4 == 6011 || p2 == 65:
		return BrandDiscover
	case p4 == 2131 || p4 == 1800 || p2 == 35:
		return BrandJCB
	}
	return BrandUnknown
}

// prefix returns the first n digits as an int, or -1 when s is shorter.
func prefix(s string, n int) int {
	if len(s) < n {
		return -1
	}
	v, err := strconv.Atoi(s[:n])
	if err != nil {
		return -1
	}
	return v
}
