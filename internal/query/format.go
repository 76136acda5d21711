package query

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatValue renders v for display according to the metric's unit.
func FormatValue(v float64, unit string) string {
	switch unit {
	case "ms":
		return fmt.Sprintf("%dms", int64(math.Round(v)))
	case "users", "messages":
		p := message.NewPrinter(language.English)
		return p.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
	case "rating":
		return fmt.Sprintf("%.1f/5", v)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
