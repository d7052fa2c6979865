// Package csv implements the lenient delimited-text reader used by catalog
// imports. Supplier exports are not RFC 4180 clean: fields may be quoted or
// bare, quotes escape as "", and padding whitespace is common. Bare fields
// are trimmed; explicitly quoted fields are preserved verbatim.
package csv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is one parsed record. Values are raw strings; typed coercion happens
// downstream.
type Row struct {
	// Line is the 1-based line number in the source file
	Line   int
	fields []string
	index  map[string]int
}

// Get returns the value of the named column, or "" when the column is unknown
func (r Row) Get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// Has reports whether the named column exists in the header
func (r Row) Has(col string) bool {
	_, ok := r.index[col]
	return ok
}

// Fields returns the positional values of the row
func (r Row) Fields() []string {
	return r.fields
}

// RowError describes a malformed row that was excluded from the output
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Table holds the parsed header and the surviving rows
type Table struct {
	Header []string
	Rows   []Row

	index map[string]int
}

// HasColumn reports whether the header declares the named column
func (t *Table) HasColumn(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Parse reads delimited text into a Table. The first non-blank line is the
// header. Rows whose field count differs from the header's are excluded and
// reported; parsing continues. Whitespace-only lines are skipped silently.
// The returned error is non-nil only when the input itself cannot be read or
// holds no header at all.
func Parse(r io.Reader) (*Table, []RowError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		table   *Table
		rowErrs []RowError
		lineNum int
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitFields(line)

		if table == nil {
			index := make(map[string]int, len(fields))
			for i, name := range fields {
				index[name] = i
			}
			table = &Table{Header: fields, index: index}
			continue
		}

		if len(fields) != len(table.Header) {
			rowErrs = append(rowErrs, RowError{
				Line:   lineNum,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(table.Header), len(fields)),
			})
			continue
		}

		table.Rows = append(table.Rows, Row{
			Line:   lineNum,
			fields: fields,
			index:  table.index,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read input: %w", err)
	}
	if table == nil {
		return nil, nil, errors.New("input has no header row")
	}

	return table, rowErrs, nil
}

// splitFields splits one comma-separated line. Double quotes open a quoted
// field when they appear before any non-blank content; inside quotes, ""
// escapes a literal quote and commas lose their meaning. Text after a closing
// quote is discarded up to the next delimiter.
func splitFields(line string) []string {
	var (
		fields     []string
		cur        strings.Builder
		inQuotes   bool
		quoted     bool // current field was opened with a quote
		afterQuote bool // closing quote seen, waiting for delimiter
	)

	push := func() {
		v := cur.String()
		if !quoted {
			v = strings.TrimSpace(v)
		}
		fields = append(fields, v)
		cur.Reset()
		quoted = false
		afterQuote = false
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inQuotes {
			if c == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					cur.WriteRune('"')
					i++
					continue
				}
				inQuotes = false
				afterQuote = true
				continue
			}
			cur.WriteRune(c)
			continue
		}

		switch {
		case c == ',':
			push()
		case afterQuote:
			// stray text between a closing quote and the delimiter
		case c == '"' && !quoted && strings.TrimSpace(cur.String()) == "":
			cur.Reset()
			inQuotes = true
			quoted = true
		default:
			cur.WriteRune(c)
		}
	}
	push()

	return fields
}
