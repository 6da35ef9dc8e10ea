package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// Record is one target line of an import file.
type Record struct {
	Investigation string   `json:"investigation,omitempty"`
	Type          string   `json:"type"`
	Value         string   `json:"value"`
	Description   string   `json:"description,omitempty"`
	Tools         []string `json:"tools,omitempty"`
}

// Validate normalizes the record in place.
func (r *Record) Validate() error {
	t, err := osint.ParseTargetType(r.Type)
	if err != nil {
		return err
	}
	r.Type = string(t)
	r.Value = strings.TrimSpace(r.Value)
	if r.Value == "" {
		return errors.New("target value is required")
	}
	r.Investigation = strings.TrimSpace(r.Investigation)
	tools := r.Tools[:0]
	for _, tool := range r.Tools {
		if tool = strings.ToLower(strings.TrimSpace(tool)); tool != "" {
			tools = append(tools, tool)
		}
	}
	r.Tools = tools
	return nil
}

// ParseRecord decodes and validates a single JSON object.
func ParseRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// RecordFunc receives each parsed record, or the error for the given line.
type RecordFunc func(line int, rec Record, err error)

// maxLineBytes caps a single JSONL line.
const maxLineBytes = 1024 * 1024

// ReadJSONL reads newline-delimited records. It returns the number of bytes
// consumed so callers can resume from that offset. A final line without a
// newline is consumed only when it already holds a complete record, so a line
// still being written is picked up again on the next read.
func ReadJSONL(r io.Reader, fn RecordFunc) (int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var consumed int64
	line := 0
	for {
		raw, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return consumed, err
		}
		if len(raw) > maxLineBytes {
			return consumed, fmt.Errorf("line %d exceeds %d bytes", line+1, maxLineBytes)
		}
		terminated := len(raw) > 0 && raw[len(raw)-1] == '\n'
		if len(raw) > 0 {
			line++
			text := bytes.TrimSpace(raw)
			switch {
			case terminated:
				consumed += int64(len(raw))
				if len(text) > 0 && text[0] != '#' {
					rec, perr := ParseRecord(text)
					fn(line, rec, perr)
				}
			case len(text) == 0:
				consumed += int64(len(raw))
			default:
				if rec, perr := ParseRecord(text); perr == nil {
					consumed += int64(len(raw))
					fn(line, rec, nil)
				}
			}
		}
		if err == io.EOF {
			return consumed, nil
		}
	}
}

// ReadJSON reads a single object or an array of objects.
func ReadJSON(data []byte, fn RecordFunc) error {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil
	}
	if trim[0] != '[' {
		rec, err := ParseRecord(trim)
		fn(1, rec, err)
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(trim, &arr); err != nil {
		return fmt.Errorf("invalid json array: %w", err)
	}
	for i, raw := range arr {
		rec, err := ParseRecord(raw)
		fn(i+1, rec, err)
	}
	return nil
}

// ReadCSV reads a CSV file with a header row. Required columns are type and
// value; description, tools (separated by ';') and investigation are optional.
func ReadCSV(r io.Reader, fn RecordFunc) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["type"]; !ok {
		return errors.New("csv header must include a type column")
	}
	if _, ok := cols["value"]; !ok {
		return errors.New("csv header must include a value column")
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return fmt.Errorf("read csv: %w", err)
			}
			fn(line, Record{}, err)
			continue
		}
		rec := Record{
			Type:          field(row, "type"),
			Value:         field(row, "value"),
			Description:   field(row, "description"),
			Investigation: field(row, "investigation"),
		}
		if tools := field(row, "tools"); tools != "" {
			rec.Tools = strings.Split(tools, ";")
		}
		err = rec.Validate()
		fn(line, rec, err)
	}
}
