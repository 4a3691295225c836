package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Core Error Types
// =============================================================================

// ProviderError is a failed ModelGateway call. The pipeline never retries it;
// the gateway's own retry policy has already run by the time one surfaces.
type ProviderError struct {
	Provider string
	Model    string
	Stage    string
	Attempts int
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s) failed at %s after %d attempt(s): %v",
		e.Provider, e.Model, e.Stage, e.Attempts, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// StructureError reports a unit that does not satisfy its schema.
type StructureError struct {
	Unit   string
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("structure invalid for %s: %s", e.Unit, e.Reason)
}

// UnrepairableError is raised once the repair bound for a unit is exhausted.
type UnrepairableError struct {
	Unit     string
	Attempts int
	Last     *StructureError
}

func (e *UnrepairableError) Error() string {
	reason := "unknown"
	if e.Last != nil {
		reason = e.Last.Reason
	}
	return fmt.Sprintf("%s unrepairable after %d repair attempt(s): %s", e.Unit, e.Attempts, reason)
}

func (e *UnrepairableError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

// ChapterCountShortfall is the non-fatal outcome of an enforcement loop that
// ran out of append attempts.
type ChapterCountShortfall struct {
	Target int `json:"target"`
	Got    int `json:"got"`
}

func (e *ChapterCountShortfall) Error() string {
	return fmt.Sprintf("outline has %d of %d chapters (short by %d)", e.Got, e.Target, e.Missing())
}

// Missing is the number of chapters still absent.
func (e *ChapterCountShortfall) Missing() int {
	if e.Got >= e.Target {
		return 0
	}
	return e.Target - e.Got
}

// IncompleteChapterError means a chapter cannot be assembled because one or
// more of its scene texts do not exist.
type IncompleteChapterError struct {
	Chapter int
	Missing []int
	Cause   error
}

func (e *IncompleteChapterError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chapter %d incomplete", e.Chapter)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing scenes %v", e.Missing)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *IncompleteChapterError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// Predefined Error Values
// =============================================================================

var (
	ErrRateLimited     = errors.New("rate limited")
	ErrPromptTooLarge  = errors.New("prompt exceeds limit")
	ErrTimeout         = errors.New("operation timed out")
	ErrNoAPIKey        = errors.New("API key not configured")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNetworkError    = errors.New("network error")
	ErrServerError     = errors.New("server error")
	ErrBadRequest      = errors.New("bad request")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyResponse   = errors.New("empty response")
	ErrRevisionSkipped = errors.New("revision skipped")
)

// =============================================================================
// Error Classification Functions
// =============================================================================

// IsRetryable reports whether the gateway may repeat the call that produced err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetworkError) ||
		errors.Is(err, ErrServerError)
}

// IsTerminal reports whether err should stop the whole run rather than a
// single chapter or scene.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var unrepairable *UnrepairableError
	if errors.As(err, &unrepairable) {
		return unrepairable.Unit == "outline"
	}
	return errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrUnknownProvider)
}

// IsProviderError checks if an error came out of the model gateway
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// IsUnrepairable checks if an error is an exhausted structure repair
func IsUnrepairable(err error) bool {
	var unrepairable *UnrepairableError
	return errors.As(err, &unrepairable)
}
