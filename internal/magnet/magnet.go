// Package magnet normalizes magnet URIs and bare info-hashes so the same
// torrent is recognized regardless of trackers or display names.
package magnet

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const (
	// Prefix is the scheme prefix of BitTorrent info-hash magnet links.
	Prefix    = "magnet:?"
	btihURN   = "urn:btih:"
	canonical = Prefix + "xt=" + btihURN
)

var (
	bareHashRe  = regexp.MustCompile(`^(?:[0-9a-fA-F]{40}|[0-9a-fA-F]{32})$`)
	btihRe      = regexp.MustCompile(`^(?:[0-9a-fA-F]{40}|[0-9a-zA-Z]{32})$`)
	textMagnet  = regexp.MustCompile(`magnet:\?[^\s"'<>\x{80}-\x{10FFFF}]+`)
	textBareHex = regexp.MustCompile(`\b(?:[0-9a-fA-F]{40}|[0-9a-fA-F]{32})\b`)
)

// IsMagnet reports whether s is a magnet link.
func IsMagnet(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), Prefix)
}

// ExtractHash returns the lowercased info-hash of a magnet URI or a bare
// 32/40-char hex string. Malformed input yields "".
func ExtractHash(s string) string {
	s = strings.TrimSpace(s)
	if IsMagnet(s) {
		return hashFromURI(s)
	}
	if bareHashRe.MatchString(s) {
		return strings.ToLower(s)
	}
	return ""
}

func hashFromURI(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	// Partial results are fine: a broken dn= must not hide a valid xt=.
	q, _ := url.ParseQuery(u.RawQuery)
	for _, xt := range q["xt"] {
		if len(xt) < len(btihURN) || !strings.EqualFold(xt[:len(btihURN)], btihURN) {
			continue
		}
		h := xt[len(btihURN):]
		if btihRe.MatchString(h) {
			return strings.ToLower(h)
		}
	}
	return ""
}

// Canonicalize returns the minimal magnet form when a hash can be extracted
// and the trimmed input otherwise.
func Canonicalize(s string) string {
	if h := ExtractHash(s); h != "" {
		return FromHash(h)
	}
	return strings.TrimSpace(s)
}

// FromHash builds the canonical magnet for an already extracted hash.
func FromHash(hash string) string { return canonical + strings.ToLower(hash) }

// Equal reports whether a and b identify the same item.
func Equal(a, b string) bool { return Canonicalize(a) == Canonicalize(b) }

// Dedupe canonicalizes urls, drops blanks and removes duplicates while
// keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		c := Canonicalize(raw)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ExtractAllFromText finds magnet links and bare hashes in free text and
// returns one canonical magnet per unique hash, in order of first
// appearance.
func ExtractAllFromText(text string) []string {
	type hit struct {
		pos  int
		hash string
	}
	var hits []hit
	var spans [][]int
	for _, loc := range textMagnet.FindAllStringIndex(text, -1) {
		link := strings.TrimRight(text[loc[0]:loc[1]], trailingPunct)
		// A link we cannot read leaves its span open to the bare-hash scan.
		if h := hashFromURI(link); h != "" {
			spans = append(spans, []int{loc[0], loc[0] + len(link)})
			hits = append(hits, hit{pos: loc[0], hash: h})
		}
	}
	for _, loc := range textBareHex.FindAllStringIndex(text, -1) {
		if insideAny(loc[0], spans) {
			continue
		}
		hits = append(hits, hit{pos: loc[0], hash: strings.ToLower(text[loc[0]:loc[1]])})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]struct{}, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.hash]; ok {
			continue
		}
		seen[h.hash] = struct{}{}
		out = append(out, FromHash(h.hash))
	}
	return out
}

// trailingPunct is sentence punctuation that ends a link pasted into prose.
const trailingPunct = ".,;:!?)]}"

func insideAny(pos int, spans [][]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}
