package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
)

// Record is a single input row.
type Record struct {
	ID       string `parquet:"id,optional" json:"id"`
	Text     string `parquet:"text" json:"text"`
	Language string `parquet:"language,optional" json:"language,omitempty"`
}

// OutputRecord is written as one JSON line per input record, in input order.
type OutputRecord struct {
	ID               string                        `json:"id"`
	AnonymizedText   string                        `json:"anonymized_text"`
	Entities         []anonymizer.AppliedTransform `json:"entities"`
	OriginalLength   int                           `json:"original_length"`
	AnonymizedLength int                           `json:"anonymized_length"`
	Error            string                        `json:"error,omitempty"`
}

// Summary reports the outcome of a batch run
type Summary struct {
	TotalRecords int64         `json:"total_records"`
	Succeeded    int64         `json:"succeeded"`
	Failed       int64         `json:"failed"`
	Entities     int64         `json:"entities"`
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
}

// maxSummaryErrors caps Summary.Errors; Failed still counts every failure.
const maxSummaryErrors = 20

func (s *Summary) addError(id string, err error) {
	s.Failed++
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, fmt.Sprintf("record %s: %v", id, err))
	}
}

// Config contains batch processing configuration
type Config struct {
	Workers            int
	BatchSize          int
	DefaultLanguage    string
	SupportedLanguages []string
	MaxTextLength      int
	Options            anonymizer.Options
}

// FileFormat represents supported input formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatJSONL   FileFormat = "jsonl"
	FormatParquet FileFormat = "parquet"
)

// DetectFileFormat detects the input format from the file extension
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported input format %q (want .csv, .jsonl or .parquet)", filepath.Ext(filename))
	}
}
