// Package csvinput decodes recipient lists and writes retry files.
package csvinput

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TropTix/troptix/pkg/domain"
)

const (
	ColumnEmail     = "email"
	ColumnFirstName = "firstName"
	ColumnLastName  = "lastName"
	ColumnStage     = "stage"
)

// RequiredColumns lists the header names every input file must carry.
var RequiredColumns = []string{ColumnEmail, ColumnFirstName, ColumnLastName}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load opens path and decodes it with Decode.
func Load(path string) ([]domain.CandidateRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrFatalInput, path, err)
	}
	defer f.Close()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Decode reads a header row followed by recipient rows. Extra columns are
// ignored, cells are trimmed and blank lines skipped. Every error wraps
// domain.ErrFatalInput.
func Decode(r io.Reader) ([]domain.CandidateRecord, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", domain.ErrFatalInput, err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", domain.ErrFatalInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", domain.ErrFatalInput, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s (required: %s)",
			domain.ErrFatalInput, strings.Join(missing, ", "), strings.Join(RequiredColumns, ", "))
	}

	var out []domain.CandidateRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrFatalInput, err)
		}
		if blank(row) {
			continue
		}
		line, _ := cr.FieldPos(0)

		rec := domain.CandidateRecord{
			Email:     cell(row, index[ColumnEmail]),
			FirstName: cell(row, index[ColumnFirstName]),
			LastName:  cell(row, index[ColumnLastName]),
		}
		if err := validate(rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrFatalInput, line, err)
		}
		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: file has no recipient rows", domain.ErrFatalInput)
	}
	return out, nil
}

func validate(rec domain.CandidateRecord) error {
	switch {
	case rec.Email == "":
		return errors.New("email is required")
	case rec.FirstName == "":
		return errors.New("firstName is required")
	case rec.LastName == "":
		return errors.New("lastName is required")
	}
	return nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// RetryRow is one recipient to feed back into a later run.
type RetryRow struct {
	Email     string
	FirstName string
	LastName  string
	Stage     string
}

// WriteRetry writes rows as a CSV that Decode accepts.
func WriteRetry(w io.Writer, rows []RetryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnEmail, ColumnFirstName, ColumnLastName, ColumnStage}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Email, r.FirstName, r.LastName, r.Stage}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRetryFile creates path and writes rows to it.
func WriteRetryFile(path string, rows []RetryRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create retry file: %w", err)
	}
	if err := WriteRetry(f, rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write retry file: %w", err)
	}
	return f.Close()
}
