package strategy

import (
	"strings"
	"testing"

	"github.com/brightloop/formwright/internal/action"
	"github.com/brightloop/formwright/internal/candidate"
)

func render(cands []candidate.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Lower()
	}
	return out
}

func indexOfSubstring(list []string, sub string) int {
	for i, s := range list {
		if strings.Contains(s, sub) {
			return i
		}
	}
	return -1
}

// P2: determinism across repeated calls.
func TestGenerateIsDeterministic(t *testing.T) {
	ctx := DefaultContext()
	a := render(Generate("Recently Viewed", action.KindClick, ctx))
	b := render(Generate("Recently Viewed", action.KindClick, ctx))
	if len(a) != len(b) {
		t.Fatalf("length differs across calls: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("candidate %d differs: %q vs %q", i, a[i], b[i])
		}
	}
}

// P3: the first XPath with normalize-space(.)='T' appears strictly before
// [aria-label='T'].
func TestClickOrderingP3(t *testing.T) {
	list := render(Generate("Recently Viewed", action.KindClick, DefaultContext()))
	xpathIdx := indexOfSubstring(list, "normalize-space(.)=")
	ariaIdx := indexOfSubstring(list, "[aria-label=")
	if xpathIdx < 0 || ariaIdx < 0 {
		t.Fatalf("expected both candidate families present: xpath=%d aria=%d", xpathIdx, ariaIdx)
	}
	if !(xpathIdx < ariaIdx) {
		t.Fatalf("xpath normalize-space(.) candidate (idx %d) must precede [aria-label] candidate (idx %d)", xpathIdx, ariaIdx)
	}
}

// P4: any candidate containing input[role='combobox'] precedes any
// button-based dropdown candidate.
func TestSelectOrderingP4(t *testing.T) {
	list := render(selectTriggerCandidatesForTest("Changes to Target Population Measures"))
	comboIdx := -1
	buttonIdx := -1
	for i, s := range list {
		if strings.Contains(s, "role='combobox']") && comboIdx < 0 {
			comboIdx = i
		}
		if strings.Contains(s, "aria-haspopup='listbox'") {
			buttonIdx = i
		}
	}
	if comboIdx < 0 || buttonIdx < 0 {
		t.Fatalf("expected both families present: combo=%d button=%d", comboIdx, buttonIdx)
	}
	if !(comboIdx < buttonIdx) {
		t.Fatalf("combobox candidate (idx %d) must precede button dropdown (idx %d)", comboIdx, buttonIdx)
	}
}

func selectTriggerCandidatesForTest(t string) []candidate.Candidate {
	return selectTriggerCandidates(t)
}

// S2: form-row candidates are emitted and precede the generic click ladder.
func TestClickFormRowCandidatesPrecedeGeneric(t *testing.T) {
	list := render(Generate("Form 2: Sustainability", action.KindClick, DefaultContext()))
	rowIdx := indexOfSubstring(list, "following::span")
	genericIdx := indexOfSubstring(list, "button:has-text")
	if rowIdx < 0 {
		t.Fatalf("expected row-aware candidate for Form N: Name target")
	}
	if genericIdx >= 0 && rowIdx > genericIdx {
		t.Fatalf("row-aware candidate (idx %d) must precede generic click candidates (idx %d)", rowIdx, genericIdx)
	}
}

// Upload: phase A (visible trigger button) candidates precede phase B
// (input[type=file]) candidates, per §4.2.4's two-phase ladder.
func TestUploadPhaseAPrecedesPhaseB(t *testing.T) {
	list := render(Generate("Supporting Document", action.KindUpload, DefaultContext()))
	if len(list) == 0 {
		t.Fatal("expected non-empty candidate list for KindUpload")
	}
	buttonIdx := indexOfSubstring(list, "button:has-text")
	inputIdx := indexOfSubstring(list, "input[type=file]")
	if buttonIdx < 0 || inputIdx < 0 {
		t.Fatalf("expected both families present: button=%d input=%d", buttonIdx, inputIdx)
	}
	if !(buttonIdx < inputIdx) {
		t.Fatalf("button candidate (idx %d) must precede file input candidate (idx %d)", buttonIdx, inputIdx)
	}
}

// S4: fill-textarea candidates include the label-anchored following::textarea form.
func TestFillTextareaLabelAnchored(t *testing.T) {
	list := render(Generate("Please specify the names of the counties served.", action.KindFillTextarea, DefaultContext()))
	idx := indexOfSubstring(list, "following::textarea[1]")
	if idx < 0 {
		t.Fatalf("expected label-anchored following::textarea candidate, got %v", list)
	}
}
