package anonymizer

import (
	"strings"
	"unicode/utf8"
)

// Strategy names the transformation applied to each selected span.
type Strategy string

const (
	StrategyReplace Strategy = "replace"
	StrategyRedact  Strategy = "redact"
	StrategyMask    Strategy = "mask"
	StrategyHash    Strategy = "hash"
	StrategyEncrypt Strategy = "encrypt"
)

// SupportedStrategies lists every strategy in a stable order.
var SupportedStrategies = []Strategy{
	StrategyReplace,
	StrategyRedact,
	StrategyMask,
	StrategyHash,
	StrategyEncrypt,
}

// ParseStrategy resolves a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range SupportedStrategies {
		if s == known {
			return s, nil
		}
	}
	return "", newError(KindUnsupportedStrategy, "unknown strategy %q", name)
}

// HashType names the digest used by the hash strategy.
type HashType string

const (
	HashMD5    HashType = "md5"
	HashSHA256 HashType = "sha256"
	HashSHA512 HashType = "sha512"
)

// SupportedHashTypes lists every hash type in a stable order.
var SupportedHashTypes = []HashType{HashMD5, HashSHA256, HashSHA512}

// Entity labels understood by the service.
const (
	EntityPerson          = "PERSON"
	EntityEmailAddress    = "EMAIL_ADDRESS"
	EntityPhoneNumber     = "PHONE_NUMBER"
	EntityCreditCard      = "CREDIT_CARD"
	EntityIBANCode        = "IBAN_CODE"
	EntityIPAddress       = "IP_ADDRESS"
	EntityDateTime        = "DATE_TIME"
	EntityLocation        = "LOCATION"
	EntityOrganization    = "ORGANIZATION"
	EntityURL             = "URL"
	EntityUSSSN           = "US_SSN"
	EntityUSPassport      = "US_PASSPORT"
	EntityUSDriverLicense = "US_DRIVER_LICENSE"
)

// SupportedEntities lists the entity labels accepted in entities_to_anonymize.
var SupportedEntities = []string{
	EntityPerson,
	EntityEmailAddress,
	EntityPhoneNumber,
	EntityCreditCard,
	EntityIBANCode,
	EntityIPAddress,
	EntityDateTime,
	EntityLocation,
	EntityOrganization,
	EntityURL,
	EntityUSSSN,
	EntityUSPassport,
	EntityUSDriverLicense,
}

// EntityTypePlaceholder is expanded to the span's entity type inside replacement_text.
const EntityTypePlaceholder = "{entity_type}"

const (
	defaultReplacementPattern = "<" + EntityTypePlaceholder + ">"
	defaultMaskChar           = "*"
)

// Options is the per-request anonymization configuration.
type Options struct {
	Strategy            Strategy `json:"strategy,omitempty"`
	EntitiesToAnonymize []string `json:"entities_to_anonymize,omitempty"`
	ReplacementText     string   `json:"replacement_text,omitempty"`
	MaskChar            string   `json:"mask_char,omitempty"`
	HashType            HashType `json:"hash_type,omitempty"`
}

// DefaultOptions returns the replace strategy with default placeholders.
func DefaultOptions() Options {
	return Options{}.WithDefaults()
}

// WithDefaults fills unset fields with their defaults.
func (o Options) WithDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyReplace
	}
	if o.MaskChar == "" {
		o.MaskChar = defaultMaskChar
	}
	if o.HashType == "" {
		o.HashType = HashSHA256
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}

	// mask_char and hash_type are checked even when another strategy is selected.
	if utf8.RuneCountInString(o.MaskChar) != 1 {
		return newError(KindInvalidConfig, "mask_char must be exactly one character, got %q", o.MaskChar)
	}
	if !isSupportedHashType(o.HashType) {
		return newError(KindInvalidConfig, "unsupported hash_type %q", o.HashType)
	}

	for _, label := range o.EntitiesToAnonymize {
		if !isSupportedEntity(label) {
			return newError(KindInvalidConfig, "unsupported entity type %q", label)
		}
	}
	return nil
}

// entityFilter returns the selected labels, or nil when every label is selected.
func (o Options) entityFilter() map[string]bool {
	if len(o.EntitiesToAnonymize) == 0 {
		return nil
	}
	filter := make(map[string]bool, len(o.EntitiesToAnonymize))
	for _, label := range o.EntitiesToAnonymize {
		filter[label] = true
	}
	return filter
}

func isSupportedHashType(h HashType) bool {
	for _, known := range SupportedHashTypes {
		if h == known {
			return true
		}
	}
	return false
}

func isSupportedEntity(label string) bool {
	for _, known := range SupportedEntities {
		if label == known {
			return true
		}
	}
	return false
}
