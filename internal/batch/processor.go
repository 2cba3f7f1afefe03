// Package batch anonymizes CSV, JSON lines and Parquet datasets offline.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
)

// Anonymizer runs detection and anonymization for one text.
type Anonymizer interface {
	Anonymize(ctx context.Context, text, language string, opts anonymizer.Options) (*anonymizer.Result, error)
}

// Processor anonymizes records in batches with a bounded worker pool
type Processor struct {
	anonymizer Anonymizer
	config     Config
	logger     *zap.Logger
}

// NewProcessor creates a new batch processor
func NewProcessor(a Anonymizer, cfg Config, logger *zap.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Processor{
		anonymizer: a,
		config:     cfg,
		logger:     logger.With(zap.String("component", "batch")),
	}
}

// ProcessFile anonymizes every record in inputPath and writes JSON lines to out.
func (p *Processor) ProcessFile(ctx context.Context, inputPath string, out io.Writer) (*Summary, error) {
	reader, err := OpenFile(inputPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	p.logger.Info("Starting batch run",
		zap.String("input", inputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.Workers),
	)
	return p.Process(ctx, reader, out)
}

// Process reads records until EOF. Per-record failures are written to out
// and counted; read errors other than *RecordError and context
// cancellation stop the run.
func (p *Processor) Process(ctx context.Context, reader RecordReader, out io.Writer) (*Summary, error) {
	if err := p.config.Options.WithDefaults().Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &Summary{}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		entries, eof, err := p.readBatch(reader)
		if err != nil {
			return summary, fmt.Errorf("failed to read batch: %w", err)
		}

		results, err := p.processBatch(ctx, entries)
		if err != nil {
			return summary, err
		}

		for _, res := range results {
			summary.TotalRecords++
			if res.Error != "" {
				summary.addError(res.ID, errors.New(res.Error))
			} else {
				summary.Succeeded++
				summary.Entities += int64(len(res.Entities))
			}
			if err := enc.Encode(res); err != nil {
				return summary, fmt.Errorf("failed to write output: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return summary, fmt.Errorf("failed to write output: %w", err)
		}

		if len(entries) > 0 {
			p.reportProgress(summary, start)
		}
		if eof {
			break
		}
	}

	summary.Duration = time.Since(start)
	p.logger.Info("Batch run completed",
		zap.Int64("total_records", summary.TotalRecords),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("entities", summary.Entities),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// entry is one input position: a record or the error that replaced it.
type entry struct {
	record  *Record
	readErr *RecordError
}

// readBatch reads up to BatchSize entries.
func (p *Processor) readBatch(reader RecordReader) ([]entry, bool, error) {
	var entries []entry
	for len(entries) < p.config.BatchSize {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return entries, true, nil
		}
		var rerr *RecordError
		if errors.As(err, &rerr) {
			p.logger.Warn("Unreadable record", zap.String("id", rerr.ID), zap.Error(rerr.Err))
			entries = append(entries, entry{readErr: rerr})
			continue
		}
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, entry{record: rec})
	}
	return entries, false, nil
}

// processBatch anonymizes entries concurrently and returns results in input order.
func (p *Processor) processBatch(ctx context.Context, entries []entry) ([]OutputRecord, error) {
	results := make([]OutputRecord, len(entries))
	if len(entries) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i, e := range entries {
		if e.readErr != nil {
			results[i] = OutputRecord{ID: e.readErr.ID, Error: e.readErr.Err.Error()}
			continue
		}
		i, rec := i, e.record
		g.Go(func() error {
			out, err := p.processRecord(gctx, rec)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out = OutputRecord{ID: rec.ID, Error: err.Error()}
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Processor) processRecord(ctx context.Context, rec *Record) (OutputRecord, error) {
	if rec.Text == "" {
		return OutputRecord{}, errors.New("text is empty")
	}
	if n := utf8.RuneCountInString(rec.Text); p.config.MaxTextLength > 0 && n > p.config.MaxTextLength {
		return OutputRecord{}, fmt.Errorf("text length %d exceeds maximum of %d characters", n, p.config.MaxTextLength)
	}

	language := rec.Language
	if language == "" {
		language = p.config.DefaultLanguage
	}
	if len(p.config.SupportedLanguages) > 0 && !contains(p.config.SupportedLanguages, language) {
		return OutputRecord{}, fmt.Errorf("unsupported language %q", language)
	}

	result, err := p.anonymizer.Anonymize(ctx, rec.Text, language, p.config.Options)
	if err != nil {
		return OutputRecord{}, err
	}
	return OutputRecord{
		ID:               rec.ID,
		AnonymizedText:   result.AnonymizedText,
		Entities:         result.Items,
		OriginalLength:   result.OriginalLength,
		AnonymizedLength: result.AnonymizedLength,
	}, nil
}

func (p *Processor) reportProgress(summary *Summary, start time.Time) {
	elapsed := time.Since(start)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(summary.TotalRecords) / elapsed.Seconds()
	}
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", summary.TotalRecords),
		zap.Int64("records_ok", summary.Succeeded),
		zap.Int64("records_failed", summary.Failed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed),
	)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
