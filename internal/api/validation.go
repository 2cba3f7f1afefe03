package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/config"
)

// anonymizeRequest is the /anonymize body.
type anonymizeRequest struct {
	Text     *string             `json:"text"`
	Language string              `json:"language,omitempty"`
	Config   *anonymizer.Options `json:"config,omitempty"`
}

// deanonymizeRequest is the /deanonymize body.
type deanonymizeRequest struct {
	Text  *string                       `json:"text"`
	Items []anonymizer.AppliedTransform `json:"items"`
}

// validationError is reported as 422 ValidationError.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// errBodyTooLarge is reported as 413.
var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads a single JSON object from the body, capped at maxBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return invalid("request body is empty")
		default:
			return invalid("malformed JSON body: %v", err)
		}
	}
	if dec.More() {
		return invalid("request body must contain a single JSON object")
	}
	return nil
}

// validateAnonymize checks the request against the current limits and
// returns the text, resolved language and options with defaults applied.
func validateAnonymize(req *anonymizeRequest, limits *config.AnonymizerConfig) (string, string, anonymizer.Options, error) {
	var opts anonymizer.Options

	if req.Text == nil {
		return "", "", opts, invalid("text is required")
	}
	text := *req.Text
	if text == "" {
		return "", "", opts, invalid("text must not be empty")
	}
	if n := utf8.RuneCountInString(text); limits.MaxTextLength > 0 && n > limits.MaxTextLength {
		return "", "", opts, invalid("text length %d exceeds maximum of %d characters", n, limits.MaxTextLength)
	}

	language := req.Language
	if language == "" {
		language = limits.DefaultLanguage
	}
	if !contains(limits.SupportedLanguages, language) {
		return "", "", opts, invalid("unsupported language %q, supported: %v", language, limits.SupportedLanguages)
	}

	if req.Config != nil {
		opts = *req.Config
	}
	if opts.Strategy == "" && limits.DefaultStrategy != "" {
		opts.Strategy = anonymizer.Strategy(limits.DefaultStrategy)
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return "", "", opts, err
	}
	return text, language, opts, nil
}

// validateDeanonymize checks presence only. Encrypted text is longer than its
// source, so the body size cap bounds it instead of max_text_length.
func validateDeanonymize(req *deanonymizeRequest) error {
	if req.Text == nil {
		return invalid("text is required")
	}
	if len(req.Items) == 0 {
		return invalid("items must not be empty")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
