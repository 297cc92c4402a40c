// Package labels loads class-name tables for the detection and
// segmentation models. Each model ships a plain text file with one
// label per line; line number is the class index.
package labels

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Table maps class indices to label strings. Loaded once at startup
// and read-only afterwards.
type Table struct {
	names []string
}

// Load reads a label file with one label per line. Blank lines and
// lines starting with '#' are skipped without consuming an index.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label file: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read label file %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("label file %s contains no labels", path)
	}
	return &Table{names: names}, nil
}

// FromSlice builds a table directly, for tests and built-in defaults.
func FromSlice(names []string) *Table {
	copied := make([]string, len(names))
	copy(copied, names)
	return &Table{names: copied}
}

// Name returns the label for a class index. Out-of-range indices get a
// synthetic "class_N" name so a model/label-file mismatch degrades to
// readable output instead of a panic.
func (t *Table) Name(idx int) string {
	if t == nil || idx < 0 || idx >= len(t.names) {
		return fmt.Sprintf("class_%d", idx)
	}
	return t.names[idx]
}

// Len returns the number of labels in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}
