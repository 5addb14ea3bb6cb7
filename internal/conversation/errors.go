package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session matches the token and origin.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAIDisabled abandons turns when no generator is configured.
	ErrAIDisabled = errors.New("AI generator not configured")
)

// Rate limit scopes.
const (
	ScopeSession = "session"
	ScopeOrigin  = "ip"
)

// ValidationError reports unacceptable message input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// RateLimitError reports a breached daily message limit.
type RateLimitError struct {
	Scope string
	Limit int
}

func (e *RateLimitError) Error() string {
	if e.Scope == ScopeOrigin {
		return fmt.Sprintf("IP daily limit reached (%d)", e.Limit)
	}
	return fmt.Sprintf("Session daily limit reached (%d)", e.Limit)
}
