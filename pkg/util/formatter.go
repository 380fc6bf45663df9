package util

import (
	"fmt"
	"math"
)

// FormatValueFactor prints a value with an engineering prefix, "12.500 m".
func FormatValueFactor(value float64, unit string) string {
	absValue := math.Abs(value)
	switch {
	case absValue == 0:
		return fmt.Sprintf("%.3f %s", value, unit)
	case absValue >= 1e6:
		return fmt.Sprintf("%.3e %s", value, unit)
	case absValue >= 1e3:
		return fmt.Sprintf("%.3f k%s", value/1e3, unit)
	case absValue >= 1:
		return fmt.Sprintf("%.3f %s", value, unit)
	case absValue >= 1e-3:
		return fmt.Sprintf("%.3f m%s", value*1e3, unit)
	case absValue >= 1e-6:
		return fmt.Sprintf("%.3f u%s", value*1e6, unit)
	case absValue >= 1e-9:
		return fmt.Sprintf("%.3f n%s", value*1e9, unit)
	case absValue >= 1e-12:
		return fmt.Sprintf("%.3f p%s", value*1e12, unit)
	default:
		return fmt.Sprintf("%.3e %s", value, unit)
	}
}

// FormatTime prints a simulation time for tables and logs.
func FormatTime(t float64) string {
	if t != 0 && (math.Abs(t) < 1e-3 || math.Abs(t) >= 1e6) {
		return fmt.Sprintf("%10.4e", t)
	}
	return fmt.Sprintf("%10.4f", t)
}

// FormatQuantity prints a solved value in a fixed width column.
func FormatQuantity(value float64) string {
	if value != 0 && (math.Abs(value) >= 1e5 || math.Abs(value) < 1e-3) {
		return fmt.Sprintf("%12.4e", value)
	}
	return fmt.Sprintf("%12.6f", value)
}
