package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hazyhaar/fiscalflow/pkg/money"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// ErrUnreadable is returned when no candidate encoding could read a file.
var ErrUnreadable = errors.New("unreadable file")

// DefaultEncodings is the primary encoding followed by the legacy fallback
// used by older government exports.
var DefaultEncodings = []string{"utf-8", "latin1"}

// NumericMode selects how monetary columns are converted.
type NumericMode int

const (
	// RawLocale converts with money.ParseChecked ("1.234,56"), counting
	// fallbacks to zero.
	RawLocale NumericMode = iota
	// DecimalComma parses the pipeline's own output convention strictly.
	DecimalComma
)

// Reader reads delimited files, trying each encoding in turn.
type Reader struct {
	Delimiter rune
	Encodings []string
	Numeric   NumericMode
	// Columns lists the monetary columns to convert. Other columns stay text.
	Columns []string
}

// ReadFile reads path with the first encoding that decodes and tokenizes it
// without error.
func (r *Reader) ReadFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	encs := r.Encodings
	if len(encs) == 0 {
		encs = DefaultEncodings
	}

	var attempts []string
	for _, name := range encs {
		dec, err := decoderFor(name)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		f, err := r.parse(transform.NewReader(bytes.NewReader(data), dec))
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		f.Source = path
		f.Encoding = name
		return f, nil
	}
	return nil, fmt.Errorf("%w %s (%s)", ErrUnreadable, path, strings.Join(attempts, "; "))
}

// decoderFor resolves an encoding name. UTF-8 is validated strictly so that a
// Latin-1 file fails the attempt instead of decoding to replacement runes.
func decoderFor(name string) (transform.Transformer, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "utf-8", "utf8":
		return encoding.UTF8Validator, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	}
	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	return e.NewDecoder(), nil
}

func (r *Reader) parse(src io.Reader) (*Frame, error) {
	cr := csv.NewReader(src)
	if r.Delimiter != 0 {
		cr.Comma = r.Delimiter
	} else {
		cr.Comma = ';'
	}
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	numeric := make([]bool, len(header))
	for i, h := range header {
		for _, c := range r.Columns {
			if h == c {
				numeric[i] = true
			}
		}
	}

	f := &Frame{Header: header, Fallbacks: make(map[string]int)}
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", line, len(record), len(header))
		}

		row := make([]Cell, len(header))
		for i := range header {
			var raw string
			if i < len(record) {
				raw = record[i]
			}
			if !numeric[i] || strings.TrimSpace(raw) == "" {
				row[i] = TextCell(raw)
				continue
			}
			cell, err := r.convert(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", line, header[i], err)
			}
			if !cell.Numeric {
				f.Fallbacks[header[i]]++
				cell = AmountCell(cell.Amount)
			}
			cell.Text = raw
			row[i] = cell
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// convert returns a numeric cell, or a non-numeric one holding zero when a
// raw value fell back.
func (r *Reader) convert(raw string) (Cell, error) {
	if r.Numeric == DecimalComma {
		d, err := money.ParseDecimalComma(raw)
		if err != nil {
			return Cell{}, err
		}
		return AmountCell(d), nil
	}
	d, ok := money.ParseChecked(raw)
	if !ok {
		return Cell{Amount: d}, nil
	}
	return AmountCell(d), nil
}
