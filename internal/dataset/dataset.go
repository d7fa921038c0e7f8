// Package dataset implements the Placeholder/Data Consumer (C6): it loads
// generated test data rows from a CSV file, reserves exactly one row per
// Session under a process-wide lock, and expands `%Field%` placeholder
// tokens against the reserved row (spec §4.6, §6.3).
//
// Cross-process double-consumption of the same CSV is not prevented; the
// lock here is in-process only (spec §9 open question, resolved in
// DESIGN.md). Multi-process isolation requires an external row broker.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Preference selects which scenario rows a Session may consume.
type Preference string

const (
	Positive Preference = "positive"
	Negative Preference = "negative"
	Mixed    Preference = "mixed"
)

// Row is one data row plus its position in the backing file, needed to
// write the `Data Used` flag back in place.
type Row struct {
	Scenario string
	Used     bool
	Fields   map[string]string

	index int // position in Consumer.rows, used internally for marking
}

// ErrNoDataAvailable is returned when no row matches the requested
// preference (spec error taxonomy: NoDataAvailable).
var ErrNoDataAvailable = fmt.Errorf("dataset: no data available for requested preference")

// ErrUnknownPlaceholder is returned when a `%Name%` token has no matching
// column in the selected row (spec error taxonomy: PlaceholderUnresolved).
type ErrUnknownPlaceholder struct{ Name string }

func (e ErrUnknownPlaceholder) Error() string {
	return fmt.Sprintf("dataset: unknown placeholder %%%s%%", e.Name)
}

// Consumer owns the on-disk CSV and brokers row reservation across
// concurrently running Sessions.
type Consumer struct {
	mu      sync.Mutex
	path    string
	header  []string // field columns only, excluding the two fixed prefix columns
	rows    []Row
}

// Load reads the CSV at path. A missing file is not an error here: it yields
// an empty Consumer (Empty reports true). Neither this package nor Session
// generates a dataset; a Session whose steps contain placeholders fails with
// NoDataAvailable when the Consumer is empty.
func Load(path string) (*Consumer, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Consumer{path: path}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: parse csv: %w", err)
	}
	if len(records) == 0 {
		return &Consumer{path: path}, nil
	}
	header := records[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("dataset: csv header missing Scenario Type/Data Used columns")
	}
	fieldNames := header[2:]

	c := &Consumer{path: path, header: fieldNames}
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("dataset: row %d has %d columns, want %d", i+1, len(rec), len(header))
		}
		fields := make(map[string]string, len(fieldNames))
		for j, name := range fieldNames {
			fields[name] = unquoteCSVLiteral(rec[2+j])
		}
		c.rows = append(c.rows, Row{
			Scenario: unquoteCSVLiteral(rec[0]),
			Used:     strings.EqualFold(unquoteCSVLiteral(rec[1]), "True"),
			Fields:   fields,
			index:    i,
		})
	}
	return c, nil
}

// unquoteCSVLiteral strips the single-quote wrapping the sample rows in
// spec §6.3 show ('Positive', 'False', ...); plain unquoted values pass
// through unchanged.
func unquoteCSVLiteral(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		return s[1 : len(s)-1]
	}
	return s
}

// Empty reports whether no dataset has been loaded yet (file absent).
func (c *Consumer) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header == nil
}

// Reserve selects the first available row (in file order) matching pref
// and marks it reserved so no other Session can receive it. Reservation
// is in-memory only; the on-disk `Data Used` flag flips on Commit, not
// here, so a Session that ultimately fails leaves the row available on
// disk (spec: "on Session failure the row is left available").
func (c *Consumer) Reserve(pref Preference) (*Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		row := &c.rows[i]
		if row.Used {
			continue
		}
		if !matches(row.Scenario, pref) {
			continue
		}
		row.Used = true // in-memory reservation, prevents a second Session from picking it
		cp := *row
		return &cp, nil
	}
	return nil, ErrNoDataAvailable
}

func matches(scenario string, pref Preference) bool {
	switch pref {
	case Positive:
		return strings.EqualFold(scenario, "Positive")
	case Negative:
		return strings.EqualFold(scenario, "Negative")
	default:
		return true
	}
}

// Release returns a reserved row to the available pool, for a Session that
// failed before completing (spec: "on Session failure the row is left
// available").
func (c *Consumer) Release(row *Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row.index >= 0 && row.index < len(c.rows) {
		c.rows[row.index].Used = false
	}
}

// Commit marks row used=true on disk, rewriting the CSV atomically. Called
// on successful Session completion only.
func (c *Consumer) Commit(row *Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row.index >= 0 && row.index < len(c.rows) {
		c.rows[row.index].Used = true
	}
	// Rows reserved by other in-flight Sessions are Used in memory only, so
	// start from the on-disk flags and flip just this row.
	disk, err := Load(c.path)
	if err != nil {
		return err
	}
	if row.index >= 0 && row.index < len(disk.rows) {
		disk.rows[row.index].Used = true
	}
	return writeAtomicCSV(c.path, disk.header, disk.rows)
}

func writeAtomicCSV(path string, header []string, rows []Row) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dataset-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	full := append([]string{"Scenario Type", "Data Used"}, header...)
	if err := w.Write(full); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	for _, row := range rows {
		used := "'False'"
		if row.Used {
			used = "'True'"
		}
		rec := append([]string{"'" + row.Scenario + "'", used}, fieldsInOrder(header, row.Fields)...)
		if err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func fieldsInOrder(header []string, fields map[string]string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		out[i] = "'" + fields[name] + "'"
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`%([^%]+)%`)

// Expand replaces every `%Name%` token in s with row.Fields[Name]. It
// returns ErrUnknownPlaceholder if a referenced name is absent from the
// row.
func Expand(s string, row *Row) (string, error) {
	if row == nil || !strings.Contains(s, "%") {
		return s, nil
	}
	var outErr error
	result := placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		val, ok := row.Fields[name]
		if !ok {
			outErr = ErrUnknownPlaceholder{Name: name}
			return m
		}
		return val
	})
	if outErr != nil {
		return "", outErr
	}
	return result, nil
}

// HasPlaceholders reports whether any step text contains a %Name% token.
func HasPlaceholders(lines []string) bool {
	for _, l := range lines {
		if placeholderPattern.MatchString(l) {
			return true
		}
	}
	return false
}
