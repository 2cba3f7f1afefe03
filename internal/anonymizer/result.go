package anonymizer

import (
	"time"
	"unicode/utf8"
)

// Result is the outcome of one anonymization call.
type Result struct {
	AnonymizedText   string             `json:"anonymized_text"`
	DetectedEntities []DetectedEntity   `json:"detected_entities"`
	Items            []AppliedTransform `json:"items"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
	OriginalLength   int                `json:"original_length"`
	AnonymizedLength int                `json:"anonymized_length"`
}

// assemble packages the engine output. DetectedEntities echoes the raw
// detector output, including spans that were filtered or dropped.
func assemble(source []rune, detected []DetectedEntity, output string, items []AppliedTransform, elapsed time.Duration) *Result {
	entities := make([]DetectedEntity, len(detected))
	copy(entities, detected)

	return &Result{
		AnonymizedText:   output,
		DetectedEntities: entities,
		Items:            items,
		ProcessingTimeMs: float64(elapsed.Nanoseconds()) / 1e6,
		OriginalLength:   len(source),
		AnonymizedLength: utf8.RuneCountInString(output),
	}
}
