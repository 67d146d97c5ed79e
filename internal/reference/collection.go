// Package reference loads the collection of known formulas used for
// existence lookups and retrieval repair.
package reference

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rand/chatbattery/internal/formula"
)

// FormulaColumn is the CSV header that holds formulas.
const FormulaColumn = "formula"

var (
	// ErrNoFormulaColumn is returned when a CSV has no formula header.
	ErrNoFormulaColumn = errors.New("csv has no formula column")
)

// Collection is an ordered, read-only list of known formulas.
type Collection struct {
	formulas []formula.Formula
	index    formula.Set
}

// NewCollection builds a collection from fs. Blank entries and repeats are
// dropped; the first occurrence keeps its position.
func NewCollection(fs []formula.Formula) *Collection {
	c := &Collection{index: formula.NewSet()}
	for _, f := range fs {
		f = formula.Formula(strings.TrimSpace(string(f)))
		if f == "" || c.index.Has(f) {
			continue
		}
		c.index.Add(f)
		c.formulas = append(c.formulas, f)
	}
	return c
}

// Formulas returns a copy of the collection in order.
func (c *Collection) Formulas() []formula.Formula {
	if c == nil {
		return nil
	}
	out := make([]formula.Formula, len(c.formulas))
	copy(out, c.formulas)
	return out
}

// Len returns the number of formulas.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.formulas)
}

// Contains reports whether f is in the collection, by exact match.
func (c *Collection) Contains(f formula.Formula) bool {
	if c == nil {
		return false
	}
	return c.index.Has(f)
}

// ReadCSV reads formulas from the formula column of a CSV stream.
func ReadCSV(r io.Reader) (*Collection, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoFormulaColumn
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := -1
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if strings.EqualFold(strings.TrimSpace(name), FormulaColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoFormulaColumn
	}

	var fs []formula.Formula
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if col < len(rec) {
			fs = append(fs, formula.Formula(rec[col]))
		}
	}
	return NewCollection(fs), nil
}

// LoadCSV reads a collection from a CSV file.
func LoadCSV(path string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference csv: %w", err)
	}
	defer f.Close()

	c, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Load reads a collection from path, which is either a CSV file or a SQLite
// database produced by Store.Import.
func Load(ctx context.Context, path string) (*Collection, error) {
	if !IsDatabase(path) {
		return LoadCSV(path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open reference db: %w", err)
	}
	s, err := NewStore(Options{Path: path})
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Load(ctx)
}

// IsDatabase reports whether path names a SQLite file by its extension.
func IsDatabase(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}
