// Package extract selects the most plausible character image URL from a raw
// wiki document. It is a best-effort ordered rule list over string patterns,
// not an HTML parser: the contract is candidate selection, and the
// precision/recall tradeoff of regex matching is accepted.
package extract

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/nwhited/characterimg/internal/naming"
)

// wordFormCeiling bounds the structural fallbacks: past this point page
// templates are unreliable and only a literal numeric filename match counts.
const wordFormCeiling = 1000

var defaultAllowedHosts = []string{
	"static.wikia.nocookie.net",
	"vignette.wikia.nocookie.net",
	"images.wikia.com",
}

// denyPatterns reject known non-character assets regardless of anything else
// in the URL, including a matching number string.
var denyPatterns = []string{
	"favicon", "icon", "logo", "banner", "placeholder", "avatar",
	"badge", "sprite", "wordmark", "site-background", "watermark",
}

var imageURLPattern = regexp.MustCompile(`https?://[^"'\s<>\\]+?\.(?:png|jpe?g|gif|webp)[^"'\s<>\\]*`)

// infoboxPatterns match the source wiki's infobox/card template markup, in
// priority order. Each must capture the image URL in group 1.
var infoboxPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<figure[^>]*class="[^"]*pi-image[^"]*"[^>]*>.*?src="([^"]+)"`),
	regexp.MustCompile(`(?is)<aside[^>]*class="[^"]*portable-infobox[^"]*"[^>]*>.*?src="([^"]+)"`),
	regexp.MustCompile(`(?i)class="[^"]*(?:pi-image-thumbnail|image-thumbnail)[^"]*"[^>]*src="([^"]+)"`),
}

var (
	scaleSegment    = regexp.MustCompile(`/(?:scale-to-width-down|scale-to-height-down|zoom-crop|top-crop|smart)/\d+`)
	revisionTrailer = regexp.MustCompile(`(/revision/latest)/[^?]*`)
)

// singleDigitPatterns match one digit delimited by non-digits, since single
// digits appear in nearly every filename.
var singleDigitPatterns = func() [10]*regexp.Regexp {
	var patterns [10]*regexp.Regexp
	for d := range patterns {
		patterns[d] = regexp.MustCompile(`(^|[^0-9])` + strconv.Itoa(d) + `([^0-9]|$)`)
	}
	return patterns
}()

// Extractor applies the ordered extraction rules with a configurable host
// allow-list.
type Extractor struct {
	allowedHosts map[string]struct{}
}

// New builds an Extractor. With no hosts given, the source wiki's CDN hosts
// are allowed.
func New(allowedHosts ...string) *Extractor {
	if len(allowedHosts) == 0 {
		allowedHosts = defaultAllowedHosts
	}
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return &Extractor{allowedHosts: allowed}
}

// CandidateImage returns the best image URL for the number found in the raw
// document, with transform segments stripped, or ok=false when nothing
// plausible survives the rules.
func (e *Extractor) CandidateImage(doc string, number uint64) (string, bool) {
	survivors := e.survivingCandidates(doc)
	if len(survivors) == 0 {
		return "", false
	}

	// Rule 1: a filename carrying the literal number wins outright. For
	// large numbers this is the only signal page structure can't fake.
	for _, candidate := range survivors {
		if filenameContainsNumber(candidate, number) {
			return stripTransforms(candidate), true
		}
	}

	if number > wordFormCeiling {
		return "", false
	}

	// Rule 2: infobox/card container markup characteristic of the wiki.
	for _, pattern := range infoboxPatterns {
		m := pattern.FindStringSubmatch(doc)
		if m == nil {
			continue
		}
		candidate := htmlUnescape(m[1])
		if e.acceptable(candidate) {
			return stripTransforms(candidate), true
		}
	}

	// Rule 3: filename matching the number's word form.
	want := normalizeToken(naming.Name(number))
	for _, candidate := range survivors {
		if strings.Contains(normalizeToken(filenameOf(candidate)), want) {
			return stripTransforms(candidate), true
		}
	}

	return "", false
}

func (e *Extractor) survivingCandidates(doc string) []string {
	matches := imageURLPattern.FindAllString(doc, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	survivors := make([]string, 0, len(matches))
	for _, raw := range matches {
		candidate := htmlUnescape(raw)
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		if e.acceptable(candidate) {
			survivors = append(survivors, candidate)
		}
	}
	return survivors
}

func (e *Extractor) acceptable(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, pattern := range denyPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	_, ok := e.allowedHosts[strings.ToLower(u.Hostname())]
	return ok
}

func filenameOf(candidate string) string {
	u, err := url.Parse(candidate)
	if err != nil {
		return candidate
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Transform suffixes put the real filename mid-path; take the last
	// segment that has an image extension.
	for i := len(segments) - 1; i >= 0; i-- {
		if hasImageExtension(segments[i]) {
			return segments[i]
		}
	}
	return path.Base(u.Path)
}

func hasImageExtension(segment string) bool {
	lower := strings.ToLower(segment)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+"/") {
			return true
		}
	}
	return false
}

func filenameContainsNumber(candidate string, number uint64) bool {
	name := filenameOf(candidate)
	plain := strconv.FormatUint(number, 10)
	if number < 10 {
		return singleDigitPatterns[number].MatchString(name)
	}
	if strings.Contains(name, plain) {
		return true
	}
	grouped := groupThousands(plain)
	return strings.Contains(name, grouped) ||
		strings.Contains(name, strings.ReplaceAll(grouped, ",", "%2C"))
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// normalizeToken lowercases and drops everything but letters and digits, so
// "Twenty-one" matches "Twenty_One.png" and "twentyone.webp" alike.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripTransforms removes resize/crop path segments so the full-resolution
// original is returned instead of a thumbnail variant.
func stripTransforms(candidate string) string {
	stripped := scaleSegment.ReplaceAllString(candidate, "")
	return revisionTrailer.ReplaceAllString(stripped, "$1")
}

func htmlUnescape(s string) string {
	replacer := strings.NewReplacer("&amp;", "&", "&#39;", "'", "&quot;", `"`)
	return replacer.Replace(s)
}
