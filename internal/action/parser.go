package action

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reDoubleQuoted = regexp.MustCompile(`"((?:[^"]|"")*)"`)
	reSingleQuoted = regexp.MustCompile(`'((?:[^']|'')*)'`)
)

// marker wraps an index so it never collides with ordinary step text.
func marker(i int) string { return "\x00Q" + strconv.Itoa(i) + "\x00" }

// extractQuoted pulls out quoted substrings in order (double-quote pairs
// preferred; single-quote pairs are used only when the line has no
// double-quote pair at all; per the fill-order rule the first quoted group
// maps to the first template slot).
func extractQuoted(line string) (marked string, values []string) {
	re := reDoubleQuoted
	matches := re.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		re = reSingleQuoted
		matches = re.FindAllStringSubmatchIndex(line, -1)
	}
	if len(matches) == 0 {
		return line, nil
	}
	var b strings.Builder
	last := 0
	for i, m := range matches {
		b.WriteString(line[last:m[0]])
		b.WriteString(marker(i))
		values = append(values, unescapeDoubledQuotes(line[m[2]:m[3]]))
		last = m[1]
	}
	b.WriteString(line[last:])
	return b.String(), values
}

// unescapeDoubledQuotes undoes the "" escaping rule for quote characters
// inside a value (spec §6.1).
func unescapeDoubledQuotes(s string) string {
	s = strings.ReplaceAll(s, `""`, `"`)
	s = strings.ReplaceAll(s, `''`, `'`)
	return s
}

type template struct {
	re    *regexp.Regexp
	build func(values []string, groups []string) Action
}

func q(i int) string { return regexp.QuoteMeta(marker(i)) }

var templates = []template{
	{
		re: regexp.MustCompile(`(?i)^type\s+` + q(0) + `\s+into\s+textarea\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindFillTextarea, Target: v[1], Value: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^fill\s+textarea\s+` + q(0) + `\s+with\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindFillTextarea, Target: v[0], Value: v[1]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^type\s+` + q(0) + `\s+into\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindFill, Target: v[1], Value: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^fill\s+` + q(0) + `\s+with\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindFill, Target: v[0], Value: v[1]}
		},
	},
	{
		// fill T with V — T is an unquoted run up to "with"; V is the single quoted slot.
		re: regexp.MustCompile(`(?i)^fill\s+(.+?)\s+with\s+` + q(0) + `$`),
		build: func(v []string, g []string) Action {
			return Action{Kind: KindFill, Target: strings.TrimSpace(g[0]), Value: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^select\s+` + q(0) + `\s+from\s+dropdown\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindSelect, Target: v[1], Value: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^select\s+` + q(0) + `\s+from\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindSelect, Target: v[1], Value: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^verify\s+` + q(0) + `\s+is\s+visible$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindVerify, Text: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^verify\s+` + q(0) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindVerify, Text: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^upload\s+file\s+` + q(0) + `\s+to\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindUpload, FilePath: v[0], Target: v[1]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^upload\s+` + q(0) + `\s+to\s+` + q(1) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindUpload, FilePath: v[0], Target: v[1]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^upload\s+` + q(0) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindUpload, FilePath: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^uncheck\s+` + q(0) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindCheck, Target: v[0], CheckState: false}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^check\s+` + q(0) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindCheck, Target: v[0], CheckState: true}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^click\s+` + q(0) + `$`),
		build: func(v []string, _ []string) Action {
			return Action{Kind: KindClick, Target: v[0]}
		},
	},
	{
		re: regexp.MustCompile(`(?i)^click\s+(.+)$`),
		build: func(_ []string, g []string) Action {
			return Action{Kind: KindClick, Target: strings.TrimSpace(g[0])}
		},
	},
}

var reWait = regexp.MustCompile(`(?i)^wait\s+for\s+([0-9]*\.?[0-9]+)\s+seconds?$`)

// ParseLine lifts one step line into an Action. The second return value is
// false for blank lines and comment lines ("#..."), which produce no
// Action at all. ParseLine never panics and never returns an error; a line
// that cannot be matched becomes Action{Kind: KindUnknown}. This is the
// parser's totality guarantee.
func ParseLine(line string) (Action, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Action{}, false
	}

	if m := reWait.FindStringSubmatch(trimmed); m != nil {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return withRaw(Unknown(line), line), true
		}
		return withRaw(Action{Kind: KindWait, Seconds: secs}, line), true
	}

	marked, values := extractQuoted(trimmed)
	for _, t := range templates {
		m := t.re.FindStringSubmatch(marked)
		if m == nil {
			continue
		}
		a := t.build(values, m[1:])
		return withRaw(a, line), true
	}

	return withRaw(Unknown(line), line), true
}

func withRaw(a Action, raw string) Action {
	a.Raw = raw
	return a
}

// ParseLines parses an entire step list, skipping blanks and comments.
// Per P1 it always terminates and never panics.
func ParseLines(text string) []Action {
	var actions []Action
	for _, line := range strings.Split(text, "\n") {
		a, ok := ParseLine(line)
		if !ok {
			continue
		}
		actions = append(actions, a)
	}
	return actions
}

// Normalize produces the Learning Store key for a target: lowercased,
// internal whitespace collapsed to underscores, punctuation removed.
func Normalize(target string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(target)) {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '_':
			if !lastWasSpace && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastWasSpace = true
		case isAlnum(r):
			b.WriteRune(r)
			lastWasSpace = false
		default:
			// punctuation: drop
		}
	}
	return strings.Trim(b.String(), "_")
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
}
