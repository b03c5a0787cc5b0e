package exporter

import (
	"strconv"
)

// formatValue formats a float64 value with the shortest representation
// that round-trips through strconv.ParseFloat. NaN renders as "NaN".
func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// formatInt formats an int value for CSV output
func formatInt(i int) string {
	return strconv.Itoa(i)
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
