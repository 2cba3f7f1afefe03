package detector

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/logger"
	"go.uber.org/zap"
)

// Builtin detects structured PII with regex rules. It is language
// independent and needs no external service.
type Builtin struct {
	rules   []Rule
	enabled map[string]bool
	logger  *logger.Logger
}

// NewBuiltin creates a builtin detector with the named recognizers enabled.
// "all" enables every rule.
func NewBuiltin(recognizers []string, log *logger.Logger) (*Builtin, error) {
	b := &Builtin{
		rules:   GetDefaultRules(),
		enabled: make(map[string]bool),
		logger:  log.WithComponent("detector"),
	}

	if err := b.configureRecognizers(recognizers); err != nil {
		return nil, fmt.Errorf("failed to configure recognizers: %w", err)
	}

	b.logger.Info("Builtin detector initialized",
		zap.Int("total_rules", len(b.rules)),
		zap.Strings("enabled_rules", b.EnabledRules()),
	)
	return b, nil
}

// configureRecognizers enables/disables rules based on configuration
func (b *Builtin) configureRecognizers(recognizers []string) error {
	for _, rule := range b.rules {
		b.enabled[rule.Name] = false
	}

	for _, name := range recognizers {
		if name == "all" {
			for _, rule := range b.rules {
				b.enabled[rule.Name] = true
			}
			continue
		}
		if _, known := b.enabled[name]; !known {
			return fmt.Errorf("unknown recognizer: %s", name)
		}
		b.enabled[name] = true
	}
	return nil
}

// EnabledRules returns the enabled rule names, sorted.
func (b *Builtin) EnabledRules() []string {
	var names []string
	for name, on := range b.enabled {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Detect runs every enabled rule over text. Overlapping matches from
// different rules are all returned; the anonymizer resolves them.
func (b *Builtin) Detect(ctx context.Context, text, _ string) ([]anonymizer.DetectedEntity, error) {
	var (
		entities []anonymizer.DetectedEntity
		offsets  []int
	)

	for _, rule := range b.rules {
		if !b.enabled[rule.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(match) {
				continue
			}
			if offsets == nil {
				offsets = charOffsets(text)
			}
			entities = append(entities, anonymizer.DetectedEntity{
				EntityType: rule.Name,
				Start:      offsets[loc[0]],
				End:        offsets[loc[1]],
				Score:      rule.Score,
				Text:       match,
			})
		}
	}

	b.logger.Debug("Builtin detection completed", zap.Int("entities", len(entities)))
	if entities == nil {
		entities = []anonymizer.DetectedEntity{}
	}
	return entities, nil
}

// charOffsets maps every byte offset of text (and len(text)) to the
// character offset of the rune containing it. Runes are decoded the same
// way as []rune(text), so an invalid byte counts as one character.
func charOffsets(text string) []int {
	offsets := make([]int, len(text)+1)
	n := 0
	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		for j := i; j < i+size; j++ {
			offsets[j] = n
		}
		i += size
		n++
	}
	offsets[len(text)] = n
	return offsets
}
