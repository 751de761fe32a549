// Package scrapeworth decides which character numbers justify a remote
// wiki lookup. The wiki only has pages for a thin slice of the number line
// once past the teaching range, so the policy keeps remote-call volume to a
// small fraction of any requested range.
package scrapeworth

import (
	"fmt"
	"math"

	"github.com/nwhited/characterimg/internal/naming"
)

// namedMagnitudes lists the round numbers past 1000 the wiki gives pages to:
// whole thousand, million and billion steps plus every power of ten between.
var namedMagnitudes = buildNamedMagnitudes()

func buildNamedMagnitudes() map[uint64]struct{} {
	m := make(map[uint64]struct{})
	for _, base := range []uint64{1_000, 1_000_000, 1_000_000_000} {
		for k := uint64(2); k <= 9; k++ {
			m[k*base] = struct{}{}
		}
	}
	for p := uint64(10); p <= 1_000_000_000_000; p *= 10 {
		m[p] = struct{}{}
	}
	return m
}

// Worth reports whether a remote lookup should be attempted for n. Cached
// numbers bypass this policy entirely; callers consult the cache index first.
func Worth(n uint64) bool {
	switch {
	case n <= 100:
		return true
	case n <= 1000:
		return n%10 == 0 || n%25 == 0 || n%50 == 0 ||
			isPerfectSquare(n) || isPowerOfTwo(n) || isRepdigit(n)
	default:
		if isPowerOfTen(n) {
			return true
		}
		_, ok := namedMagnitudes[n]
		return ok
	}
}

func isPerfectSquare(n uint64) bool {
	root := uint64(math.Sqrt(float64(n)))
	// Float truncation can land one off near the boundary.
	for _, r := range []uint64{root, root + 1} {
		if r*r == n {
			return true
		}
	}
	return false
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func isPowerOfTen(n uint64) bool {
	if n == 0 {
		return false
	}
	for n%10 == 0 {
		n /= 10
	}
	return n == 1
}

func isRepdigit(n uint64) bool {
	digit := n % 10
	for n > 0 {
		if n%10 != digit {
			return false
		}
		n /= 10
	}
	return true
}

// ScaleGuide returns a short structural hint bounding the synthetic
// generation prompt, so prompts for huge numbers describe arrangement
// rather than enumerating blocks.
func ScaleGuide(n uint64) string {
	switch {
	case n <= 10:
		return fmt.Sprintf("a tower of exactly %d unit blocks", n)
	case n <= 100:
		return fmt.Sprintf("%d unit blocks arranged in rows of ten", n)
	case n <= 1000:
		return fmt.Sprintf("%s, shown as stacked hundred-squares", naming.Name(n))
	default:
		return fmt.Sprintf("an abstract figure representing %s, with its numeral displayed prominently", naming.Name(n))
	}
}
