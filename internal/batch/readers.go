package batch

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 4 << 20

// RecordReader yields input records. Next returns io.EOF after the last
// record. A *RecordError reports a bad row; reading may continue after it.
type RecordReader interface {
	Next() (*Record, error)
	Close() error
}

// RecordError is a recoverable error for a single input row.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// OpenFile opens path with the reader for its extension.
func OpenFile(path string) (RecordReader, error) {
	format, err := DetectFileFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	var r RecordReader
	switch format {
	case FormatCSV:
		r, err = NewCSVReader(file)
	case FormatJSONL:
		r = NewJSONLReader(file)
	case FormatParquet:
		r, err = newParquetReader(file)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

type csvReader struct {
	closer  io.Closer
	reader  *csv.Reader
	idCol   int
	textCol int
	langCol int
	row     int
}

// NewCSVReader reads records from CSV with a header row. A "text" column is
// required; "id" and "language" are optional.
func NewCSVReader(r io.Reader) (RecordReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	c := &csvReader{reader: reader, idCol: -1, textCol: -1, langCol: -1}
	if closer, ok := r.(io.Closer); ok {
		c.closer = closer
	}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "id":
			c.idCol = i
		case "text":
			c.textCol = i
		case "language", "lang":
			c.langCol = i
		}
	}
	if c.textCol < 0 {
		return nil, fmt.Errorf("CSV header %v has no text column", header)
	}
	return c, nil
}

func (c *csvReader) Next() (*Record, error) {
	fields, err := c.reader.Read()
	c.row++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &RecordError{ID: strconv.Itoa(c.row), Err: err}
		}
		return nil, err
	}

	if c.textCol >= len(fields) {
		return nil, &RecordError{ID: strconv.Itoa(c.row), Err: errors.New("missing text column")}
	}
	rec := &Record{
		ID:   column(fields, c.idCol),
		Text: fields[c.textCol],
	}
	rec.Language = strings.TrimSpace(column(fields, c.langCol))
	if rec.ID == "" {
		rec.ID = strconv.Itoa(c.row)
	}
	return rec, nil
}

func (c *csvReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func column(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

type jsonlReader struct {
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// NewJSONLReader reads one JSON object per line. Blank lines are skipped.
func NewJSONLReader(r io.Reader) RecordReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	j := &jsonlReader{scanner: scanner}
	if closer, ok := r.(io.Closer); ok {
		j.closer = closer
	}
	return j
}

func (j *jsonlReader) Next() (*Record, error) {
	for j.scanner.Scan() {
		j.line++
		line := strings.TrimSpace(j.scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &RecordError{ID: strconv.Itoa(j.line), Err: fmt.Errorf("invalid JSON: %w", err)}
		}
		if rec.ID == "" {
			rec.ID = strconv.Itoa(j.line)
		}
		return &rec, nil
	}
	if err := j.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (j *jsonlReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
	row    int
}

// newParquetReader validates the file up front; parquet.NewReader panics on
// malformed input.
func newParquetReader(file *os.File) (RecordReader, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	return &parquetReader{file: file, reader: parquet.NewReader(pf)}, nil
}

func (p *parquetReader) Next() (*Record, error) {
	var rec Record
	if err := p.reader.Read(&rec); err != nil {
		return nil, err
	}
	p.row++
	if rec.ID == "" {
		rec.ID = strconv.Itoa(p.row)
	}
	return &rec, nil
}

func (p *parquetReader) Close() error {
	p.reader.Close()
	return p.file.Close()
}
