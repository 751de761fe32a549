// Package naming renders character numbers as English wiki page names.
package naming

import (
	"strconv"
	"strings"
)

// NameCeiling is the first number rendered as bare digits instead of words.
const NameCeiling = 1_000_000_000_000_000

var smallNames = [20]string{
	"Zero", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight",
	"Nine", "Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen",
	"Sixteen", "Seventeen", "Eighteen", "Nineteen",
}

var tensNames = [10]string{
	"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy",
	"Eighty", "Ninety",
}

var scales = []struct {
	value uint64
	word  string
}{
	{1_000_000_000_000, "Trillion"},
	{1_000_000_000, "Billion"},
	{1_000_000, "Million"},
	{1_000, "Thousand"},
}

// Name renders n as its English word form, matching the wiki's page-naming
// convention: space-separated words, compound tens hyphenated with a
// lowercase second part ("Twenty-one"). Exact multiples of a scale word omit
// the remainder clause ("Three Hundred", never "Three Hundred Zero").
// Numbers at or above NameCeiling fall back to their decimal digits.
func Name(n uint64) string {
	if n >= NameCeiling {
		return strconv.FormatUint(n, 10)
	}
	return build(n)
}

func build(n uint64) string {
	switch {
	case n < 20:
		return smallNames[n]
	case n < 100:
		tens := tensNames[n/10]
		if rem := n % 10; rem != 0 {
			return tens + "-" + strings.ToLower(smallNames[rem])
		}
		return tens
	case n < 1000:
		head := smallNames[n/100] + " Hundred"
		if rem := n % 100; rem != 0 {
			return head + " " + build(rem)
		}
		return head
	}
	for _, scale := range scales {
		if n < scale.value {
			continue
		}
		head := build(n/scale.value) + " " + scale.word
		if rem := n % scale.value; rem != 0 {
			return head + " " + build(rem)
		}
		return head
	}
	// Unreachable: every n < NameCeiling matches a branch above.
	return strconv.FormatUint(n, 10)
}

// Slug converts a number to its wiki page slug, joining name words with
// underscores the way the wiki titles its pages.
func Slug(n uint64) string {
	return strings.ReplaceAll(Name(n), " ", "_")
}
