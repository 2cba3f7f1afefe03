package anonymizer

import (
	"context"
	"crypto/md5" // #nosec G501 -- md5 is a user-selectable pseudonymization digest
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Encrypter produces a reversible ciphertext for a span's text.
// Key management belongs to the implementation.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
}

// Decrypter reverses an Encrypter holding the same key.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// AppliedTransform reports what the engine did to one span.
// Start/End address the original text; OutputStart/OutputEnd address the
// anonymized text. All offsets are in characters.
type AppliedTransform struct {
	EntityType  string   `json:"entity_type"`
	Strategy    Strategy `json:"strategy"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	OutputStart int      `json:"output_start"`
	OutputEnd   int      `json:"output_end"`
	Replacement string   `json:"replacement"`
}

const defaultConcurrency = 4

// transform computes the replacement for one normalized span.
type transform func(ctx context.Context, span DetectedEntity) (string, error)

// Engine applies an anonymization strategy to normalized spans.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	encrypter   Encrypter
	decrypter   Decrypter
	concurrency int
	logger      *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEncrypter injects the encrypt collaborator. When enc also implements
// Decrypter it is used for Deanonymize as well.
func WithEncrypter(enc Encrypter) EngineOption {
	return func(e *Engine) {
		e.encrypter = enc
		if dec, ok := enc.(Decrypter); ok && e.decrypter == nil {
			e.decrypter = dec
		}
	}
}

// WithDecrypter injects the decrypt collaborator.
func WithDecrypter(dec Decrypter) EngineOption {
	return func(e *Engine) { e.decrypter = dec }
}

// WithConcurrency bounds how many hash/encrypt replacements run at once.
// Values below 2 make replacement computation sequential.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) { e.concurrency = n }
}

// WithLogger sets the logger used for dropped-span warnings.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanEncrypt reports whether an encrypt collaborator is configured.
func (e *Engine) CanEncrypt() bool {
	return e.encrypter != nil
}

// CanDecrypt reports whether a decrypt collaborator is configured.
func (e *Engine) CanDecrypt() bool {
	return e.decrypter != nil
}

// Run normalizes entities against text and applies the configured strategy.
// The strategy is validated before any text is touched. Any transform failure
// aborts the call; a partially anonymized text is never returned.
func (e *Engine) Run(ctx context.Context, text string, entities []DetectedEntity, opts Options) (*Result, error) {
	opts = opts.WithDefaults()
	strategy, fn, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := checkText(text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	source := []rune(text)

	spans, malformed := normalize(source, entities, opts.entityFilter())
	for _, err := range malformed {
		e.logger.Warn("Dropping malformed span", zap.Error(err))
	}

	output, items, err := e.apply(ctx, source, spans, fn, strategy)
	if err != nil {
		return nil, err
	}

	return assemble(source, entities, output, items, time.Since(start)), nil
}

// resolve validates opts and selects the transform for its strategy.
func (e *Engine) resolve(opts Options) (Strategy, transform, error) {
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}
	strategy, _ := ParseStrategy(string(opts.Strategy))
	fn, err := e.transformFor(strategy, opts)
	return strategy, fn, err
}

func (e *Engine) transformFor(strategy Strategy, opts Options) (transform, error) {
	switch strategy {
	case StrategyReplace:
		pattern := opts.ReplacementText
		if pattern == "" {
			pattern = defaultReplacementPattern
		}
		return func(_ context.Context, span DetectedEntity) (string, error) {
			return strings.ReplaceAll(pattern, EntityTypePlaceholder, span.EntityType), nil
		}, nil

	case StrategyRedact:
		return func(context.Context, DetectedEntity) (string, error) {
			return "", nil
		}, nil

	case StrategyMask:
		maskChar := opts.MaskChar
		return func(_ context.Context, span DetectedEntity) (string, error) {
			return strings.Repeat(maskChar, span.Len()), nil
		}, nil

	case StrategyHash:
		newHash := hasherFor(opts.HashType)
		return func(_ context.Context, span DetectedEntity) (string, error) {
			return digest(newHash, span.Text), nil
		}, nil

	case StrategyEncrypt:
		if e.encrypter == nil {
			return nil, newError(KindEncryptionUnavailable, "no encrypter configured")
		}
		return e.encrypt, nil
	}

	return nil, newError(KindUnsupportedStrategy, "unknown strategy %q", opts.Strategy)
}

func (e *Engine) encrypt(ctx context.Context, span DetectedEntity) (string, error) {
	ciphertext, err := e.encrypter.Encrypt(ctx, span.Text)
	if err != nil {
		if isContextErr(err) {
			return "", err
		}
		return "", &Error{Kind: KindEncryptionUnavailable, Msg: "encrypt " + span.EntityType + " span", Err: err}
	}
	return ciphertext, nil
}

// apply walks spans with a cursor over source and builds the output.
func (e *Engine) apply(ctx context.Context, source []rune, spans []DetectedEntity, fn transform, strategy Strategy) (string, []AppliedTransform, error) {
	replacements, err := e.replacements(ctx, spans, fn, strategy)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.Grow(len(source))
	items := make([]AppliedTransform, len(spans))

	cursor, outPos := 0, 0
	for i, span := range spans {
		gap := string(source[cursor:span.Start])
		b.WriteString(gap)
		outPos += span.Start - cursor

		replacement := replacements[i]
		replacementLen := utf8.RuneCountInString(replacement)
		items[i] = AppliedTransform{
			EntityType:  span.EntityType,
			Strategy:    strategy,
			Start:       span.Start,
			End:         span.End,
			OutputStart: outPos,
			OutputEnd:   outPos + replacementLen,
			Replacement: replacement,
		}
		b.WriteString(replacement)
		outPos += replacementLen
		cursor = span.End
	}
	b.WriteString(string(source[cursor:]))

	return b.String(), items, nil
}

// replacements computes one replacement per span, in span order.
// Hash and encrypt replacements run on a bounded errgroup.
func (e *Engine) replacements(ctx context.Context, spans []DetectedEntity, fn transform, strategy Strategy) ([]string, error) {
	out := make([]string, len(spans))

	parallel := e.concurrency > 1 && len(spans) > 1 &&
		(strategy == StrategyHash || strategy == StrategyEncrypt)
	if !parallel {
		for i, span := range spans {
			r, err := fn(ctx, span)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, span := range spans {
		i, span := i, span
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, span)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Deanonymize reverses the encrypt items of a previous Run over text.
// Items produced by other strategies are left untouched.
func (e *Engine) Deanonymize(ctx context.Context, text string, items []AppliedTransform) (string, error) {
	if e.decrypter == nil {
		return "", newError(KindEncryptionUnavailable, "no decrypter configured")
	}
	if err := checkText(text); err != nil {
		return "", err
	}

	source := []rune(text)
	var b strings.Builder
	b.Grow(len(text))

	cursor := 0
	for i, item := range items {
		if item.Strategy != StrategyEncrypt {
			continue
		}
		if item.OutputStart < cursor || item.OutputStart > item.OutputEnd || item.OutputEnd > len(source) {
			return "", newError(KindInvalidConfig, "item %d output span [%d,%d) is out of order or outside text", i, item.OutputStart, item.OutputEnd)
		}
		ciphertext := string(source[item.OutputStart:item.OutputEnd])
		if item.Replacement != "" && item.Replacement != ciphertext {
			return "", newError(KindInvalidConfig, "item %d does not match text at [%d,%d)", i, item.OutputStart, item.OutputEnd)
		}

		plaintext, err := e.decrypter.Decrypt(ctx, ciphertext)
		if err != nil {
			if isContextErr(err) {
				return "", err
			}
			return "", &Error{Kind: KindInvalidConfig, Msg: "decrypt item " + item.EntityType, Err: err}
		}

		b.WriteString(string(source[cursor:item.OutputStart]))
		b.WriteString(plaintext)
		cursor = item.OutputEnd
	}
	b.WriteString(string(source[cursor:]))
	return b.String(), nil
}

func hasherFor(h HashType) func() hash.Hash {
	switch h {
	case HashMD5:
		return md5.New
	case HashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

func digest(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
