// Package dms formats geographic coordinates as degree/minute/second text.
package dms

import (
	"fmt"
	"math"

	"github.com/sqlnice/graticule/internal/geo"
)

// Format renders value as DMS text at the requested precision, with a
// trailing hemisphere tag. Longitude values tag E/W, latitude values N/S,
// and exactly zero carries no tag. Degree precision truncates to whole
// degrees; minute and second precision round the absolute value to the
// nearest whole minute or second and carry overflow into the larger
// units, so 45.99987 at second precision reads 46°0'0" rather than
// 45°59'60".
func Format(value float64, isLongitude bool, p geo.Precision) (string, error) {
	v := math.Abs(value)
	tag := hemisphere(value, isLongitude)
	switch p {
	case geo.PrecisionDegree:
		return fmt.Sprintf("%d°%s", int(math.Floor(v)), tag), nil
	case geo.PrecisionMinute:
		total := int(math.Round(v * 60))
		return fmt.Sprintf("%d°%d'%s", total/60, total%60, tag), nil
	case geo.PrecisionSecond:
		total := int(math.Round(v * 3600))
		return fmt.Sprintf("%d°%d'%d\"%s", total/3600, (total/60)%60, total%60, tag), nil
	default:
		return "", &geo.UnsupportedFormatError{Format: string(p)}
	}
}

func hemisphere(value float64, isLongitude bool) string {
	switch {
	case value > 0:
		if isLongitude {
			return "E"
		}
		return "N"
	case value < 0:
		if isLongitude {
			return "W"
		}
		return "S"
	default:
		return ""
	}
}
