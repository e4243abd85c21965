package summary_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/celestial/internal/call"
	"github.com/MrWong99/celestial/internal/summary"
	"github.com/MrWong99/celestial/pkg/provider/llm"
	llmmock "github.com/MrWong99/celestial/pkg/provider/llm/mock"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("empty transcript makes no request", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{}
		_, err := summary.New(p).Summarize(context.Background(), "  \n ", call.English)
		if !errors.Is(err, summary.ErrEmptyTranscript) {
			t.Errorf("err = %v, want ErrEmptyTranscript", err)
		}
		if len(p.Calls()) != 0 {
			t.Errorf("expected no LLM calls, got %d", len(p.Calls()))
		}
	})

	t.Run("builds request", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "### Guidance\nLight a diya.\n"},
		}
		s := summary.New(p, summary.WithTemperature(0.2), summary.WithMaxTokens(512))

		got, err := s.Summarize(context.Background(), "User: help\nAstrologer: Light a diya.", call.Gujarati)
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		if got != "### Guidance\nLight a diya." {
			t.Errorf("summary = %q", got)
		}

		calls := p.Calls()
		if len(calls) != 1 {
			t.Fatalf("expected 1 Complete call, got %d", len(calls))
		}
		req := calls[0].Req
		for _, section := range []string{"### Guidance", "### Protection", "### Future Insight"} {
			if !strings.Contains(req.SystemPrompt, section) {
				t.Errorf("system prompt missing %q", section)
			}
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
			t.Fatalf("messages = %+v", req.Messages)
		}
		msg := req.Messages[0].Content
		if !strings.HasPrefix(msg, "Language: Gujarati\n") || !strings.Contains(msg, "Astrologer: Light a diya.") {
			t.Errorf("user message = %q", msg)
		}
		if req.Temperature != 0.2 || req.MaxTokens != 512 {
			t.Errorf("temperature=%v max=%d", req.Temperature, req.MaxTokens)
		}
	})

	t.Run("empty reading falls back", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " "}}
		got, err := summary.New(p).Summarize(context.Background(), "User: hi", call.English)
		if err != nil || got != summary.NoSummary {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("propagates errors", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("quota exceeded")
		p := &llmmock.Provider{CompleteErr: boom}
		if _, err := summary.New(p).Summarize(context.Background(), "User: hi", call.English); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped %v", err, boom)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{Block: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := summary.New(p).Summarize(ctx, "User: hi", call.Hindi); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
