package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/batch"
)

var (
	flagBatchInput    string
	flagBatchOutput   string
	flagBatchWorkers  int
	flagBatchSize     int
	flagBatchSummary  bool
	flagBatchLanguage string
)

func init() {
	batchCmd.Flags().StringVarP(&flagBatchInput, "input", "i", "", "input file (.csv, .jsonl or .parquet)")
	batchCmd.Flags().StringVarP(&flagBatchOutput, "output", "o", "-", "output JSON lines file (- for stdout)")
	batchCmd.Flags().IntVarP(&flagBatchWorkers, "workers", "w", 0, "concurrent workers (defaults to batch.workers)")
	batchCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "records per batch (defaults to batch.batch_size)")
	batchCmd.Flags().StringVarP(&flagBatchLanguage, "language", "l", "", "language for records without one (defaults to anonymizer.default_language)")
	batchCmd.Flags().BoolVar(&flagBatchSummary, "summary", true, "print a JSON summary to stderr when done")
	addStrategyFlags(batchCmd)
	_ = batchCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Anonymize a CSV, JSON lines or Parquet dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		p, err := buildPipeline(cfg, log)
		if err != nil {
			return err
		}
		defer p.Close()

		batchCfg := batch.Config{
			Workers:            cfg.Batch.Workers,
			BatchSize:          cfg.Batch.BatchSize,
			DefaultLanguage:    cfg.Anonymizer.DefaultLanguage,
			SupportedLanguages: cfg.Anonymizer.SupportedLanguages,
			MaxTextLength:      cfg.Anonymizer.MaxTextLength,
			Options:            strategyOptions(cfg.Anonymizer.DefaultStrategy),
		}
		if flagBatchWorkers > 0 {
			batchCfg.Workers = flagBatchWorkers
		}
		if flagBatchSize > 0 {
			batchCfg.BatchSize = flagBatchSize
		}
		if flagBatchLanguage != "" {
			batchCfg.DefaultLanguage = flagBatchLanguage
		}

		var out io.Writer = cmd.OutOrStdout()
		if flagBatchOutput != "-" {
			f, err := os.Create(flagBatchOutput)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		processor := batch.NewProcessor(p.service, batchCfg, log.Logger)
		summary, err := processor.ProcessFile(ctx, flagBatchInput, out)
		if err != nil {
			log.Error("Batch run failed", zap.String("input", flagBatchInput), zap.Error(err))
			return err
		}

		if flagBatchSummary {
			enc := json.NewEncoder(cmd.ErrOrStderr())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d records failed", summary.Failed, summary.TotalRecords)
		}
		return nil
	},
}
