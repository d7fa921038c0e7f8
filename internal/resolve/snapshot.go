package resolve

import (
	"regexp"
	"strings"
)

// Prune abridges a full-page HTML document around the places that mention
// target, so the AI Locator Adapter's request stays within a model's
// context budget (spec §4.4). This is a best-effort textual approximation,
// not a DOM parse: for each case-insensitive occurrence of target anywhere
// in the HTML it keeps a window of 600*depth/4 characters on either side.
// Ancestor elements are not walked. A document of at most 12000 characters,
// or an empty target, is returned whole; the result is whitespace-collapsed
// and cut to 12000 characters.
func Prune(html, target string, depth int) string {
	const maxSnapshot = 12000
	const contextChars = 600

	if target == "" || len(html) <= maxSnapshot {
		return truncate(html, maxSnapshot)
	}

	lower := strings.ToLower(html)
	needle := strings.ToLower(target)

	var b strings.Builder
	seen := map[int]bool{}
	start := 0
	for {
		idx := strings.Index(lower[start:], needle)
		if idx < 0 {
			break
		}
		pos := start + idx
		from := pos - contextChars*depth/4
		if from < 0 {
			from = 0
		}
		to := pos + len(target) + contextChars*depth/4
		if to > len(html) {
			to = len(html)
		}
		if !seen[from] {
			seen[from] = true
			b.WriteString(html[from:to])
			b.WriteString("\n...\n")
		}
		start = pos + len(target)
		if b.Len() > maxSnapshot {
			break
		}
	}

	out := b.String()
	if out == "" {
		return truncate(html, maxSnapshot)
	}
	return truncate(out, maxSnapshot)
}

func truncate(s string, max int) string {
	s = collapseWhitespace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var reWhitespace = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return reWhitespace.ReplaceAllString(s, " ")
}
