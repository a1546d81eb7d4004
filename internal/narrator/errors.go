package narrator

import (
	"errors"
	"fmt"

	"github.com/mrwolf/adventure-server/internal/llm"
)

// ProviderError and ConfigurationError are shared with the provider layer so
// callers only need one import to classify engine errors.
type (
	ProviderError      = llm.ProviderError
	ConfigurationError = llm.ConfigurationError
)

var errEmptyReply = errors.New("empty reply")

// ValidationError rejects player input before anything is called or changed
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid player input: " + e.Reason
}

// ParseError is returned when narrator output breaks the reply contract.
// Raw holds the offending text.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse narrator response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
