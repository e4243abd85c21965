// Package summary turns a finished consultation transcript into a short
// written reading with a one-shot LLM completion.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/celestial/internal/call"
	"github.com/MrWong99/celestial/pkg/provider/llm"
)

// NoSummary is returned when the model answers with an empty reading.
const NoSummary = "The stars are silent. No summary could be generated."

// ErrEmptyTranscript is returned when there is nothing to summarise.
var ErrEmptyTranscript = errors.New("summary: empty transcript")

// systemPrompt frames the transcript for the model. The reading language
// and transcript are sent as the user message.
const systemPrompt = `You are an expert Vedic astrologer reviewing a consultation you just gave.
The transcript alternates between "User:" (the seeker) and "Astrologer:" (you).

Write a structured summary with exactly these Markdown sections:

### Guidance
Actionable advice that was given.

### Protection
Mantras, rituals or habits that were recommended.

### Future Insight
The predictions that were made.

Tone: compassionate, spiritual and empowering. Do not invent advice that is not in the transcript.`

// Option is a functional option for configuring a [Summarizer].
type Option func(*Summarizer)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Summarizer) { s.temperature = t }
}

// WithMaxTokens caps the length of the reading.
func WithMaxTokens(n int) Option {
	return func(s *Summarizer) { s.maxTokens = n }
}

// Summarizer implements [call.Summarizer] on top of an [llm.Provider].
type Summarizer struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

var _ call.Summarizer = (*Summarizer)(nil)

// New creates a Summarizer backed by provider.
func New(provider llm.Provider, opts ...Option) *Summarizer {
	s := &Summarizer{llm: provider, temperature: 0.4}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize asks the model for a reading of transcript written in lang.
func (s *Summarizer) Summarize(ctx context.Context, transcript string, lang call.Language) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}
	if lang == "" {
		lang = call.English
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Language: %s\n\nTRANSCRIPT:\n%s", lang, transcript),
		}},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return NoSummary, nil
	}
	return strings.TrimSpace(resp.Content), nil
}
