// Package humanize formats counters, byte sizes and ratios for dump reports.
package humanize

import (
	gohumanize "github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Count formats n with thousands separators, e.g. 1234567 -> "1,234,567".
func Count[T ~int | ~int64 | ~uint64 | ~uint32](n T) string {
	return message.NewPrinter(language.English).Sprintf("%d", int64(n))
}

// Bytes formats n as a binary size, e.g. 1536 -> "1.5 KiB".
func Bytes[T ~int | ~int64 | ~uint64](n T) string {
	if n < 0 {
		return "-" + gohumanize.IBytes(uint64(-int64(n)))
	}
	return gohumanize.IBytes(uint64(n))
}

// Percent formats part/total as a percentage with one decimal.
func Percent(part, total int64) string {
	if total <= 0 {
		return "0.0%"
	}
	return message.NewPrinter(language.English).Sprintf("%.1f%%", float64(part)*100/float64(total))
}
