package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"go.uber.org/zap"
)

// systemPrompt frames the companion persona every completion is generated
// under. Responses come back as short markdown reflections on the entry.
const systemPrompt = "You are Okayu, a gentle and supportive diary companion. " +
	"Read the diary entry and reply with a short, warm reflection in the " +
	"writer's language. Acknowledge how the writer felt, point out one " +
	"thing worth noticing, and end with a small encouragement. Use plain " +
	"markdown, at most three short paragraphs, and never give medical or " +
	"legal advice."

// emptyEntryResponse is returned without calling the model when the diary
// text has no content to reflect on.
const emptyEntryResponse = "It looks like your entry is empty. Write something about your day!"

var (
	errMissingCompleter = errors.New("completer is required")
	errMissingIDs       = errors.New("id provider is required")
	// ErrInvalidServiceConfig reports a feedback service constructed
	// without its dependencies.
	ErrInvalidServiceConfig = errors.New("feedback: invalid service config")
)

// Completer produces a text completion for a prompt under a fixed
// system instruction.
type Completer interface {
	Complete(ctx context.Context, systemInstruction string, prompt string) (string, error)
}

// ServiceConfig bundles the dependencies of the feedback service.
type ServiceConfig struct {
	Completer Completer
	IDs       entries.IDProvider
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service turns diary entry text into a stored feedback record. Each
// generation produces a fresh record; regeneration replaces the previous
// one wholesale rather than appending to a history.
type Service struct {
	completer Completer
	ids       entries.IDProvider
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the feedback service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, errMissingCompleter)
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, errMissingIDs)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		completer: cfg.Completer,
		ids:       cfg.IDs,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Generate produces a feedback record for the given entry content. Empty
// content short-circuits with a canned prompt to write, without spending a
// model call. Model failures surface to the caller; there is no automatic
// retry because the user regenerates on demand.
func (s *Service) Generate(ctx context.Context, content string) (entries.AIFeedback, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return s.record(emptyEntryResponse), nil
	}

	text, err := s.completer.Complete(ctx, systemPrompt, trimmed)
	if err != nil {
		s.logger.Warn("feedback generation failed", zap.Error(err))
		return entries.AIFeedback{}, err
	}
	return s.record(text), nil
}

func (s *Service) record(content string) entries.AIFeedback {
	identifier, err := s.ids.NewID()
	if err != nil {
		identifier = "fb-" + s.clock().UTC().Format("20060102150405.000000000")
	}
	return entries.AIFeedback{
		ID:          identifier,
		Content:     content,
		GeneratedAt: s.clock().UTC(),
		Tone:        classifyTone(content),
	}
}

// classifyTone maps generated text onto the tone enumeration with a small
// keyword heuristic. Empathetic is the default: the persona leads with
// acknowledgement, so unmatched text is treated as such.
func classifyTone(content string) entries.Tone {
	lowered := strings.ToLower(content)
	switch {
	case containsAny(lowered, "you can", "keep going", "proud of you", "cheering", "next time", "you've got this"):
		return entries.ToneEncouraging
	case containsAny(lowered, "notice", "pattern", "perhaps", "it seems", "interesting", "worth"):
		return entries.ToneInsightful
	default:
		return entries.ToneEmpathetic
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
