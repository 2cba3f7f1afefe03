package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/config"
)

var (
	flagAnonymizeFile     string
	flagAnonymizeLanguage string
	flagStrategy          string
	flagEntities          []string
	flagReplacementText   string
	flagMaskChar          string
	flagHashType          string
)

func init() {
	anonymizeCmd.Flags().StringVarP(&flagAnonymizeFile, "file", "f", "", "read text from file instead of stdin")
	anonymizeCmd.Flags().StringVarP(&flagAnonymizeLanguage, "language", "l", "", "text language (defaults to anonymizer.default_language)")
	addStrategyFlags(anonymizeCmd)

	rootCmd.AddCommand(anonymizeCmd)
}

// addStrategyFlags registers the anonymization option flags shared by
// anonymize and batch.
func addStrategyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagStrategy, "strategy", "s", "", "replace, redact, mask, hash or encrypt (defaults to anonymizer.default_strategy)")
	cmd.Flags().StringSliceVarP(&flagEntities, "entities", "e", nil, "entity types to anonymize (default all)")
	cmd.Flags().StringVar(&flagReplacementText, "replacement-text", "", "replacement pattern for the replace strategy")
	cmd.Flags().StringVar(&flagMaskChar, "mask-char", "", "mask character for the mask strategy")
	cmd.Flags().StringVar(&flagHashType, "hash-type", "", "md5, sha256 or sha512 for the hash strategy")
}

func strategyOptions(defaultStrategy string) anonymizer.Options {
	strategy := flagStrategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	return anonymizer.Options{
		Strategy:            anonymizer.Strategy(strategy),
		EntitiesToAnonymize: flagEntities,
		ReplacementText:     flagReplacementText,
		MaskChar:            flagMaskChar,
		HashType:            anonymizer.HashType(flagHashType),
	}
}

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize",
	Short: "Anonymize text from a file or stdin and print the JSON result",
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

		text, err := readInput(cmd.InOrStdin(), flagAnonymizeFile)
		if err != nil {
			return err
		}
		language, err := checkInput(text, flagAnonymizeLanguage, cfg.Anonymizer)
		if err != nil {
			return err
		}

		p, err := buildPipeline(cfg, log)
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := p.service.Anonymize(ctx, text, language, strategyOptions(cfg.Anonymizer.DefaultStrategy))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// checkInput applies the same limits as the HTTP API and returns the
// effective language.
func checkInput(text, language string, limits config.AnonymizerConfig) (string, error) {
	if text == "" {
		return "", errors.New("no input text")
	}
	if !utf8.ValidString(text) {
		return "", errors.New("input is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); limits.MaxTextLength > 0 && n > limits.MaxTextLength {
		return "", fmt.Errorf("text length %d exceeds maximum of %d characters", n, limits.MaxTextLength)
	}

	if language == "" {
		language = limits.DefaultLanguage
	}
	if !contains(limits.SupportedLanguages, language) {
		return "", fmt.Errorf("unsupported language %q (supported: %s)", language, strings.Join(limits.SupportedLanguages, ", "))
	}
	return language, nil
}

// readInput reads all of path, or of stdin when path is empty or "-".
// A single trailing newline is trimmed.
func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	text := string(data)
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	return text, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
