package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleCSV = "Scenario Type,Data Used,Username,Password\n" +
	"'Positive','False','u1@example.com','p1'\n" +
	"'Positive','False','u2','p2'\n" +
	"'Negative','False','bad','bad'\n"

// S5: positive preference selects row 1 first, then row 2 on a second reservation.
func TestReserveSelectsFirstAvailableInFileOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, sampleCSV)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r1, err := c.Reserve(Positive)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Fields["Username"] != "u1@example.com" {
		t.Fatalf("expected first positive row, got %v", r1.Fields)
	}

	r2, err := c.Reserve(Positive)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Fields["Username"] != "u2" {
		t.Fatalf("expected second positive row, got %v", r2.Fields)
	}

	if _, err := c.Reserve(Positive); err != ErrNoDataAvailable {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
}

// P7 (single-process slice): no two reservations return the same row.
func TestReserveNeverDoubleAssigns(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, sampleCSV)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		r, err := c.Reserve(Positive)
		if err != nil {
			t.Fatal(err)
		}
		key := r.Fields["Username"]
		if seen[key] {
			t.Fatalf("row %q reserved twice", key)
		}
		seen[key] = true
	}
}

func TestCommitMarksOnlyThatRowUsed(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, sampleCSV)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r1, err := c.Reserve(Positive)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(r1); err != nil {
		t.Fatal(err)
	}

	c2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c2.Reserve(Positive)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Fields["Username"] != "u2" {
		t.Fatalf("expected row 2 still available after committing row 1, got %v", r2.Fields)
	}
}

func TestReleaseReturnsRowToPool(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, sampleCSV)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r1, err := c.Reserve(Positive)
	if err != nil {
		t.Fatal(err)
	}
	c.Release(r1)
	r2, err := c.Reserve(Positive)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Fields["Username"] != "u1@example.com" {
		t.Fatalf("expected released row available again, got %v", r2.Fields)
	}
}

func TestExpandPlaceholders(t *testing.T) {
	row := &Row{Fields: map[string]string{"Username": "bob"}}
	got, err := Expand(`Type "%Username%" into "Login"`, row)
	if err != nil {
		t.Fatal(err)
	}
	want := `Type "bob" into "Login"`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandUnknownPlaceholder(t *testing.T) {
	row := &Row{Fields: map[string]string{"Username": "bob"}}
	_, err := Expand(`Type "%Email%" into "Login"`, row)
	if _, ok := err.(ErrUnknownPlaceholder); !ok {
		t.Fatalf("expected ErrUnknownPlaceholder, got %v", err)
	}
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "missing.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Empty() {
		t.Fatalf("expected Empty() true for missing file")
	}
}
