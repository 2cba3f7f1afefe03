package anonymizer

// DetectedEntity is a labeled half-open span [Start, End) of the source text.
// Offsets count characters (Unicode code points), not bytes.
type DetectedEntity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// NewDetectedEntity builds an entity over source, filling Text from the span.
// It fails with a malformed_span error when the span is empty, inverted or
// outside the source.
func NewDetectedEntity(source, entityType string, start, end int, score float64) (DetectedEntity, error) {
	return newDetectedEntity([]rune(source), entityType, start, end, score)
}

func newDetectedEntity(source []rune, entityType string, start, end int, score float64) (DetectedEntity, error) {
	if err := checkBounds(len(source), start, end); err != nil {
		return DetectedEntity{}, err
	}
	if entityType == "" {
		return DetectedEntity{}, newError(KindMalformedSpan, "span [%d,%d) has no entity type", start, end)
	}
	return DetectedEntity{
		EntityType: entityType,
		Start:      start,
		End:        end,
		Score:      score,
		Text:       string(source[start:end]),
	}, nil
}

// Len returns the span length in characters.
func (e DetectedEntity) Len() int {
	return e.End - e.Start
}

// validate re-checks the construction invariants against source.
func (e DetectedEntity) validate(source []rune) error {
	if err := checkBounds(len(source), e.Start, e.End); err != nil {
		return err
	}
	if e.Text != string(source[e.Start:e.End]) {
		return newError(KindMalformedSpan, "%s span [%d,%d) text does not match source", e.EntityType, e.Start, e.End)
	}
	return nil
}

func checkBounds(length, start, end int) error {
	if start < 0 || start >= end || end > length {
		return newError(KindMalformedSpan, "span [%d,%d) outside text of length %d", start, end, length)
	}
	return nil
}
