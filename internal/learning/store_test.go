package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/brightloop/formwright/internal/action"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "learning.json")
	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, path
}

// P11: forget then record-success round trip.
func TestForgetThenRecordRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Forget("recently_viewed"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if err := s.RecordSuccess("recently_viewed", "span.slds-page-header__title:has-text('Recently Viewed')", "Recently Viewed", action.KindClick); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	e, ok := s.Lookup("recently_viewed")
	if !ok {
		t.Fatalf("expected entry present")
	}
	if e.Selector != "span.slds-page-header__title:has-text('Recently Viewed')" {
		t.Fatalf("unexpected selector: %q", e.Selector)
	}
}

func TestRecordSuccessIncrementsAndOverwrites(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.RecordSuccess("k", "sel1", "T", action.KindClick); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSuccess("k", "sel2", "T", action.KindClick); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Lookup("k")
	if e.Selector != "sel2" {
		t.Fatalf("expected overwrite to sel2, got %q", e.Selector)
	}
	if e.SuccessCount != 2 {
		t.Fatalf("expected success_count=2, got %d", e.SuccessCount)
	}
}

// P5/atomicity smoke test: file is valid JSON after each write, never absent mid-sequence.
func TestWritesProduceParseableFile(t *testing.T) {
	s, path := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.RecordSuccess("k", "sel", "T", action.KindClick); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("file not parseable JSON after write %d: %v", i, err)
		}
	}
}

// P12: load, re-serialize, field set preserved including unknown fields.
func TestLoadPreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learning.json")
	raw := `{"k":{"selector":"sel","target":"T","action":"click","success_count":3,"first_learned":"2024-01-01T00:00:00Z","last_used":"2024-01-01T00:00:00Z","future_field":"kept"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSuccess("other", "sel2", "U", action.KindFill); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["k"]["future_field"]; !ok {
		t.Fatalf("expected future_field preserved on rewrite, got %v", out["k"])
	}
}
