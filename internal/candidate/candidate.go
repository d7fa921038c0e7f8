// Package candidate defines the internal selector value type used by the
// strategy generator, independent of any one driver's query dialect, and a
// lowering step that renders it to Playwright-go's locator/selector syntax.
package candidate

import "strings"

// Kind distinguishes the two query dialects a Candidate may carry.
type Kind int

const (
	// CSSChain is a sequence of CSS-like fragments (optionally extended
	// with has-text(...)) composed with the engine's " >> " operator.
	CSSChain Kind = iota
	// XPath is a literal XPath expression.
	XPath
)

// Candidate is one element-query attempt, preserved in generator order.
type Candidate struct {
	Kind  Kind
	Parts []string // CSSChain: one or more chain segments; XPath: single element
	Notes string   // free-form provenance, e.g. which §4.2 rule produced this
}

// CSS builds a single-segment CSS chain candidate.
func CSS(selector string, notes string) Candidate {
	return Candidate{Kind: CSSChain, Parts: []string{selector}, Notes: notes}
}

// Chain builds a multi-segment composable chain (segments joined by " >> ").
func Chain(notes string, segments ...string) Candidate {
	return Candidate{Kind: CSSChain, Parts: segments, Notes: notes}
}

// XP builds an XPath candidate from a raw (unprefixed) expression.
func XP(expr string, notes string) Candidate {
	return Candidate{Kind: XPath, Parts: []string{expr}, Notes: notes}
}

// Lower renders a Candidate to the driver-native selector string Playwright
// expects: a plain CSS-chain joined by " >> ", or an "xpath=" literal.
func (c Candidate) Lower() string {
	switch c.Kind {
	case XPath:
		return "xpath=" + c.Parts[0]
	default:
		return strings.Join(c.Parts, " >> ")
	}
}

// String is the human-readable / loggable form, identical to Lower but
// kept distinct so callers can add it to structured log fields by name.
func (c Candidate) String() string { return c.Lower() }

// HasText renders the `:has-text('T')` extension for a base tag/selector.
func HasText(base, text string) string {
	return base + ":has-text(" + quoteArg(text) + ")"
}

// quoteArg renders a literal for embedding inside a pseudo-class argument,
// escaping single quotes the way Playwright's selector engine expects.
func quoteArg(s string) string {
	escaped := strings.ReplaceAll(s, `'`, `\'`)
	return "'" + escaped + "'"
}

// XPathLiteral renders a string literal safe for embedding in an XPath
// expression, switching to concat() when the value itself contains both
// quote characters.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	var b strings.Builder
	b.WriteString("concat(")
	parts := strings.Split(s, "'")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + p + "'")
	}
	b.WriteString(")")
	return b.String()
}
