package ingest

// decode.go turns an uploaded byte stream into retained CSV records.
//
// The stream is read exactly once. Every record keeps the line it started on
// so later stages can report and correlate rows without relying on position.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when the caller does not declare one.
const DefaultEncoding = "utf-8"

// LookupEncoding resolves a WHATWG encoding label ("utf-8", "latin1",
// "windows-1251", ...). An empty label means DefaultEncoding.
func LookupEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, label)
	}
	return enc, nil
}

// Decode wraps r so that reads yield UTF-8 text decoded from the declared
// encoding. A leading byte order mark overrides the declaration and is
// stripped. Invalid UTF-8 input is replaced with U+FFFD rather than failing.
func Decode(r io.Reader, label string) (io.Reader, error) {
	enc, err := LookupEncoding(label)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// sizeLimitedReader counts bytes read and fails once more than limit bytes
// have been seen. A non-positive limit disables the check.
type sizeLimitedReader struct {
	reader    io.Reader
	limit     int64
	BytesRead int64
}

func newSizeLimitedReader(r io.Reader, limit int64) *sizeLimitedReader {
	return &sizeLimitedReader{reader: r, limit: limit}
}

func (r *sizeLimitedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.limit > 0 && r.BytesRead > r.limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrSizeLimitExceeded, r.limit)
	}
	return n, err
}

// record is one decoded data row.
type record struct {
	line  int
	cells []string
}

// blank reports whether every cell is empty after trimming.
func (r record) blank() bool {
	for _, c := range r.cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// table is a fully decoded CSV: the header plus all data rows.
type table struct {
	header  []string
	records []record
}

// readTable decodes every record from r. The first record is the header;
// its names are trimmed. Rows may be wider or narrower than the header.
func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, malformed(0, "", "", "empty file")
	}
	if err != nil {
		return nil, wrapReadError(err)
	}

	t := &table{header: make([]string, len(header))}
	for i, h := range header {
		t.header[i] = strings.TrimSpace(h)
	}

	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapReadError(err)
		}
		line, _ := cr.FieldPos(0)
		t.records = append(t.records, record{line: line, cells: cells})
	}

	return t, nil
}

// wrapReadError classifies errors surfaced by the CSV reader.
func wrapReadError(err error) error {
	var pe *csv.ParseError
	switch {
	case errors.Is(err, ErrSizeLimitExceeded):
		return err
	case errors.As(err, &pe):
		return &RowError{Line: pe.Line, Err: fmt.Errorf("%w: invalid csv: %v", ErrMalformedInput, pe.Err)}
	default:
		return fmt.Errorf("read csv: %w", err)
	}
}

// headerIndex maps header names to their position and rejects duplicates.
func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := idx[h]; dup {
			return nil, malformed(0, h, "", "duplicate column")
		}
		idx[h] = i
	}
	return idx, nil
}

// cell returns the trimmed value at pos, or "" when the row is too short.
func cell(cells []string, pos int) string {
	if pos < 0 || pos >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[pos])
}
