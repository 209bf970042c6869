package util

import (
	"fmt"
	"strings"
)

// FormatPrice formats a price with precision scaled to its magnitude:
// micro-cap prices keep up to 8 decimals with trailing zeros trimmed,
// while prices from ten upward use two decimals with thousands
// separators.
func FormatPrice(price float64) string {
	switch {
	case price < 0:
		return fmt.Sprintf("-%s", FormatPrice(-price))
	case price < 0.001:
		return "$" + trimZeros(fmt.Sprintf("%.8f", price))
	case price < 0.01:
		s := fmt.Sprintf("$%.5f", price)
		return strings.TrimSuffix(s, "0")
	case price < 0.1:
		return "$" + trimZeros(fmt.Sprintf("%.5f", price))
	case price < 1:
		return "$" + trimZeros(fmt.Sprintf("%.4f", price))
	case price < 10:
		return fmt.Sprintf("$%.3f", price)
	default:
		return "$" + thousands(fmt.Sprintf("%.2f", price))
	}
}

func trimZeros(s string) string {
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// thousands inserts comma separators into the integer part of a fixed
// decimal string.
func thousands(s string) string {
	dot := strings.IndexByte(s, '.')
	intPart, frac := s, ""
	if dot >= 0 {
		intPart, frac = s[:dot], s[dot:]
	}

	n := len(intPart)
	if n <= 3 {
		return intPart + frac
	}

	var b strings.Builder
	rem := n % 3
	if rem > 0 {
		b.WriteString(intPart[:rem])
	}
	for i := rem; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return b.String() + frac
}
