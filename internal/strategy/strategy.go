// Package strategy implements the Selector Strategy Generator (C2): given a
// target label, an action kind, and a framework context, it produces a
// deterministic, ordered list of Candidate queries for the resolution
// engine to try in sequence. Ordering is regression-critical (spec §4.2,
// properties P2-P4) and must never depend on time, environment, or
// randomness.
package strategy

import (
	"regexp"
	"strings"

	"github.com/brightloop/formwright/internal/action"
	"github.com/brightloop/formwright/internal/candidate"
)

// Context carries framework hints. Lightning/SLDS is the only framework
// this generator targets today; the field exists so a future framework
// profile does not require changing every call site.
type Context struct {
	Framework string // "lightning" (default) is the only recognized value today
}

func DefaultContext() Context { return Context{Framework: "lightning"} }

// Generate returns the ordered candidate list for (target, kind, ctx). It
// never returns an error and is a pure function of its inputs (P2).
func Generate(target string, kind action.Kind, ctx Context) []candidate.Candidate {
	switch kind {
	case action.KindClick:
		return clickCandidates(target)
	case action.KindFill:
		return fillCandidates(target, false)
	case action.KindFillTextarea:
		return fillCandidates(target, true)
	case action.KindSelect:
		return selectTriggerCandidates(target)
	case action.KindCheck:
		return checkCandidates(target)
	case action.KindUpload:
		return uploadCandidates(target)
	default:
		return nil
	}
}

// OptionCandidates returns the candidate list for the opened-listbox option
// matching value V, per §4.2.3's post-open option search.
func OptionCandidates(value string) []candidate.Candidate {
	ht := candidate.HasText
	return []candidate.Candidate{
		candidate.Chain("option list role", "[role='listbox'] [role='option']"+suffixHasText(ht, value)),
		candidate.CSS(ht("span.slds-listbox__option-text", value), "SLDS option text"),
		candidate.CSS(ht("div.slds-listbox__option", value), "SLDS option div"),
		candidate.CSS("[data-label="+cssAttr(value)+"]", "data-label option"),
	}
}

func suffixHasText(ht func(string, string) string, v string) string {
	full := ht("x", v)
	return strings.TrimPrefix(full, "x")
}

// formRowPattern matches targets of the shape "Form N: Name" that trigger
// the row-aware click extension (spec §4.2.1).
var formRowPattern = regexp.MustCompile(`(?i)^form\s+\d+\s*:\s*.+`)

func clickCandidates(t string) []candidate.Candidate {
	var out []candidate.Candidate
	xl := candidate.XPathLiteral(t)

	if formRowPattern.MatchString(strings.TrimSpace(t)) {
		out = append(out,
			candidate.XP("//p[contains(normalize-space(.), "+xl+")]/following::span[normalize-space(text())='Start' or normalize-space(text())='Edit'][2]/ancestor::a[1]", "form-row start/edit span[2]"),
			candidate.XP("//p[contains(normalize-space(.), "+xl+")]/following::a[contains(., 'Start') or contains(., 'Edit')][1]", "form-row following link"),
		)
	}

	out = append(out,
		// 1. tag-targeted text-click elements
		candidate.CSS(candidate.HasText("button", t), "button has-text"),
		candidate.CSS(candidate.HasText("a", t), "anchor has-text"),
		candidate.CSS(candidate.HasText("lightning-button", t), "lightning-button has-text"),

		// 2. xpath whole-subtree normalized text equality
		candidate.XP("//span[normalize-space(.)="+xl+"]", "xpath span normalize-space(.)"),
		candidate.XP("//div[normalize-space(.)="+xl+"]", "xpath div normalize-space(.)"),
		candidate.XP("//a[normalize-space(.)="+xl+"]", "xpath a normalize-space(.)"),
		candidate.XP("//button[normalize-space(.)="+xl+"]", "xpath button normalize-space(.)"),
		candidate.XP("//*[normalize-space(.)="+xl+" and not(self::script) and not(self::style)]", "xpath any normalize-space(.)"),

		// 3. framework-known text containers
		candidate.CSS(candidate.HasText("span.slds-page-header__title", t), "SLDS page header title"),
		candidate.CSS(candidate.HasText("span.slds-truncate", t), "SLDS truncate"),
		candidate.CSS(candidate.HasText("h1", t), "h1 has-text"),
		candidate.CSS(candidate.HasText("h2", t), "h2 has-text"),

		// 4. list/menu role containers
		candidate.CSS(candidate.HasText("li", t), "li has-text"),
		candidate.CSS(candidate.HasText("[role='option']", t), "role=option has-text"),
		candidate.CSS(candidate.HasText("[role='menuitem']", t), "role=menuitem has-text"),
		candidate.CSS(candidate.HasText("[role='listitem']", t), "role=listitem has-text"),

		// 5. attribute-title selectors
		candidate.CSS("a[title="+cssAttr(t)+"]", "a[title]"),
		candidate.CSS("span[title="+cssAttr(t)+"]", "span[title]"),

		// 6. generic text-engine
		candidate.CSS("text="+cssAttr(t), "text= exact"),
		candidate.CSS("text=/"+regexp.QuoteMeta(t)+"/i", "text= regex"),
		candidate.CSS(candidate.HasText("span", t), "span has-text"),
		candidate.CSS(candidate.HasText("div", t), "div has-text"),

		// 7. attribute fallbacks, deprioritized
		candidate.CSS("[title="+cssAttr(t)+"]", "[title] fallback"),
		candidate.CSS("[aria-label="+cssAttr(t)+"]", "[aria-label] fallback"),
		candidate.CSS("[data-label="+cssAttr(t)+"]", "[data-label] fallback"),

		// 8. last resort
		candidate.CSS(candidate.HasText("*", t), "any has-text"),
	)
	return out
}

func fillCandidates(t string, textarea bool) []candidate.Candidate {
	xl := candidate.XPathLiteral(t)
	if textarea {
		return []candidate.Candidate{
			candidate.CSS("textarea[placeholder="+cssAttr(t)+"]", "direct placeholder"),
			candidate.CSS("textarea[aria-label="+cssAttr(t)+"]", "direct aria-label"),
			candidate.Chain("LWC textarea component", "lightning-textarea[data-label="+cssAttr(t)+"]", "textarea"),
			candidate.XP("//*[normalize-space(text())="+xl+"]//following::textarea[1]", "label exact -> following textarea"),
			candidate.XP("//*[contains(normalize-space(text()), "+xl+")]//following::textarea[1]", "label contains -> following textarea"),
			candidate.Chain("SLDS form element group", "div.slds-form-element"+suffixHasTextStr(t), "textarea"),
			candidate.CSS("textarea.slds-textarea", "sole textarea last resort"),
		}
	}
	return []candidate.Candidate{
		candidate.CSS("input[placeholder="+cssAttr(t)+"]", "direct placeholder"),
		candidate.CSS("input[aria-label="+cssAttr(t)+"]", "direct aria-label"),
		candidate.Chain("LWC input component", "lightning-input[data-label="+cssAttr(t)+"]", "input"),
		candidate.XP("//*[normalize-space(text())="+xl+"]//following::input[1]", "label exact -> following input"),
		candidate.XP("//*[contains(normalize-space(text()), "+xl+")]//following::input[1]", "label contains -> following input"),
		candidate.Chain("SLDS form element group", "div.slds-form-element"+suffixHasTextStr(t), "input"),
	}
}

func suffixHasTextStr(t string) string {
	full := candidate.HasText("x", t)
	return strings.TrimPrefix(full, "x")
}

func selectTriggerCandidates(t string) []candidate.Candidate {
	xl := candidate.XPathLiteral(t)
	return []candidate.Candidate{
		candidate.CSS("select[aria-label="+cssAttr(t)+"]", "native select by label"),
		candidate.CSS("select[name="+cssAttr(t)+"]", "native select by name"),
		candidate.CSS("lightning-combobox[data-label="+cssAttr(t)+"]", "LWC combobox by label"),
		candidate.Chain("text-anchored combobox", "text="+cssAttr(t), "xpath=following::input[@role='combobox'][1]"),
		candidate.XP("//*[normalize-space(text())="+xl+"]//following::input[@role='combobox'][1]", "label -> following combobox"),
		candidate.CSS("input[role='combobox'][aria-label*="+cssAttr(t)+"]", "combobox aria-label contains"),
		candidate.CSS(candidate.HasText("div[role='combobox']", t), "div role=combobox"),
		candidate.CSS(candidate.HasText("button[aria-haspopup='listbox']", t), "button-based dropdown (lowest priority)"),
	}
}

func checkCandidates(t string) []candidate.Candidate {
	xl := candidate.XPathLiteral(t)
	return []candidate.Candidate{
		candidate.CSS("input[type=checkbox][aria-label="+cssAttr(t)+"]", "checkbox aria-label"),
		candidate.Chain("label-wrapped checkbox", candidate.HasText("label", t), "input[type=checkbox]"),
		candidate.XP("//*[normalize-space(text())="+xl+"]//following::input[1]", "label -> following input"),
	}
}

// uploadCandidates drives the two-phase upload ladder (spec §4.2.4): phase A
// candidates name a visible "Upload"/"Upload Files"/T button that opens a
// native file chooser; phase B candidates name an input[type=file] directly,
// since controller.AttemptUpload sets files on the matched element when it
// is itself an <input> and clicks-and-intercepts otherwise.
func uploadCandidates(t string) []candidate.Candidate {
	xl := candidate.XPathLiteral(t)
	out := []candidate.Candidate{
		// Phase A: visible trigger button.
		candidate.CSS(candidate.HasText("button", "Upload Files"), "button 'Upload Files'"),
		candidate.CSS(candidate.HasText("button", "Upload"), "button 'Upload'"),
	}
	if t != "" {
		out = append(out,
			candidate.CSS(candidate.HasText("button", t), "button has-text target"),
			candidate.CSS(candidate.HasText("a", t), "anchor has-text target"),
			candidate.CSS(candidate.HasText("[role='button']", t), "role=button has-text target"),
		)
	}
	out = append(out, candidate.CSS("[role='button']"+suffixHasTextStr("Upload"), "role=button 'Upload'"))

	// Phase B: the file input directly.
	if t != "" {
		out = append(out,
			candidate.CSS("input[type=file][aria-label="+cssAttr(t)+"]", "file input aria-label"),
			candidate.CSS("input[type=file][name="+cssAttr(t)+"]", "file input name"),
			candidate.CSS("input[type=file][id="+cssAttr(t)+"]", "file input id"),
			candidate.XP("//*[normalize-space(text())="+xl+"]//following::input[@type='file'][1]", "label -> following file input"),
		)
	}
	out = append(out, candidate.CSS("input[type=file]", "sole file input last resort"))
	return out
}

// cssAttr renders a CSS attribute-selector value literal, quoting and
// escaping embedded double quotes.
func cssAttr(v string) string {
	escaped := strings.ReplaceAll(v, `"`, `\"`)
	return `"` + escaped + `"`
}
