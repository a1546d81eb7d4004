package narrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mrwolf/adventure-server/internal/llm"
	"github.com/mrwolf/adventure-server/internal/models"
)

// Summarizer defaults
const (
	DefaultThresholdTokens = 1500
	DefaultMinTurns        = 5

	// fallbackRunes is how much transcript tail survives when the
	// summarizer provider is unavailable
	fallbackRunes = 300
)

// Summarizer compacts long histories into a short recap
type Summarizer struct {
	provider  llm.Provider
	threshold int
	minTurns  int
	logger    *slog.Logger
}

// SummarizerOption configures a Summarizer
type SummarizerOption func(*Summarizer)

// WithThreshold sets the token count at which summarization is due
func WithThreshold(tokens int) SummarizerOption {
	return func(s *Summarizer) {
		if tokens > 0 {
			s.threshold = tokens
		}
	}
}

// WithMinTurns sets the minimum log length before summarization is due
func WithMinTurns(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.minTurns = n
		}
	}
}

// WithLogger sets the logger used for fallback warnings
func WithLogger(l *slog.Logger) SummarizerOption {
	return func(s *Summarizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSummarizer creates a summarizer backed by provider
func NewSummarizer(provider llm.Provider, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		provider:  provider,
		threshold: DefaultThresholdTokens,
		minTurns:  DefaultMinTurns,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scoped returns a copy logging through l
func (s *Summarizer) scoped(l *slog.Logger) *Summarizer {
	c := *s
	c.logger = l
	return &c
}

// ShouldSummarize reports whether both thresholds have been reached
func (s *Summarizer) ShouldSummarize(totalTokens, turnCount int) bool {
	return totalTokens >= s.threshold && turnCount >= s.minTurns
}

// Summarize asks the provider for a recap of log, folding in the previous
// recap. It never fails: on error or an empty reply it returns the tail of
// the transcript.
func (s *Summarizer) Summarize(ctx context.Context, log []models.TurnRecord, previous string) string {
	system, user := BuildSummaryPrompt(previous, log)

	if s.provider != nil {
		resp, err := s.provider.Generate(ctx, llm.Request{System: system, User: user})
		if err == nil {
			if text := strings.TrimSpace(resp.Text); text != "" {
				return text
			}
			err = errEmptyReply
		}
		s.logger.Warn("summarizer unavailable, keeping transcript tail",
			"role", "summarizer",
			"error", err,
		)
	}

	return tail(Transcript(log), fallbackRunes)
}

// tail returns the last n runes of s
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
