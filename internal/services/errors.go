// Package services defines the error taxonomy shared by stage adapters and
// the pipeline orchestrator. Stage failures are tagged with a sentinel marker
// so the orchestrator can decide between retry, immediate failure, and review
// without inspecting message text.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: network errors, busy
	// services, temporary resource exhaustion.
	ErrTransient = errors.New("transient failure")
	// ErrExternalTool marks a failed external command invocation. Retryable
	// unless wrapped together with a fatal marker.
	ErrExternalTool = errors.New("external tool error")
	// ErrValidation marks malformed or unsupported input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a permanently missing source. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks operator configuration problems. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout marks a stage that exceeded its deadline or failed to
	// acknowledge cancellation within the grace period. Never retried.
	ErrTimeout = errors.New("timeout")
)

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above; nil defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether a stage error should go through the retry
// policy. Fatal markers and cancellation always win over transient ones.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		// A blown stage deadline classifies as a timeout; retrying would
		// spend the remaining attempt budget on work that cannot get faster.
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, ErrExternalTool):
		return true
	default:
		// Unclassified errors are treated as transient so a flaky stage
		// body cannot permanently fail a job by forgetting to tag.
		return true
	}
}

// Kind is the coarse failure category surfaced to observers.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindExternalTool  Kind = "external_tool"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindTimeout       Kind = "timeout"
	KindCanceled      Kind = "canceled"
	KindUnknown       Kind = "unknown"
)

// ErrorDetails carries the classified view of a stage error.
type ErrorDetails struct {
	Kind    Kind
	Message string
	Cause   error
}

// Details classifies err and extracts a human-readable message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	details := ErrorDetails{Kind: classify(err), Cause: err}
	details.Message = strings.TrimSpace(err.Error())
	return details
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
