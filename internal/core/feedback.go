package core

import (
	"errors"
	"fmt"
	"time"
)

// Severity of a user-facing notice.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Feedback is a categorized, user-facing description of a failure.
type Feedback struct {
	Severity   Severity
	Title      string
	Message    string
	Suggestion string
	Duration   time.Duration
	Persistent bool
}

// FeedbackFor turns an error returned by a chat call into a notice.
func FeedbackFor(err error) Feedback {
	if err == nil {
		return Feedback{}
	}
	switch {
	case errors.Is(err, ErrNotConnected):
		return ConnectionLostFeedback()
	case errors.Is(err, ErrNotAuthenticated):
		return Feedback{
			Severity:   SeverityWarning,
			Title:      "Still signing in",
			Message:    "Chat is not ready yet.",
			Suggestion: "Wait a moment and try again.",
			Duration:   4 * time.Second,
		}
	}

	coded, ok := AsError(err)
	if !ok {
		return Feedback{
			Severity:   SeverityError,
			Title:      "Something went wrong",
			Message:    err.Error(),
			Suggestion: "Try again later.",
			Duration:   5 * time.Second,
		}
	}

	switch coded.Kind {
	case KindRateLimit:
		wait := coded.RetryAfter
		if wait <= 0 {
			wait = 5 * time.Second
		}
		return Feedback{
			Severity:   SeverityWarning,
			Title:      "Slow down",
			Message:    coded.Message,
			Suggestion: fmt.Sprintf("Wait %d seconds before sending again.", int(wait.Round(time.Second)/time.Second)),
			Duration:   wait,
		}
	case KindModeration:
		fb := Feedback{
			Severity: SeverityWarning,
			Title:    "Message blocked",
			Message:  coded.Error(),
			Duration: 6 * time.Second,
		}
		if coded.Moderation != nil {
			fb.Message = coded.Moderation.Reason
			if coded.Moderation.CleanedText != "" {
				fb.Suggestion = "Try: " + coded.Moderation.CleanedText
			}
		}
		return fb
	case KindPermission:
		return Feedback{
			Severity:   SeverityError,
			Title:      "Not allowed",
			Message:    coded.Message,
			Suggestion: "You do not have permission for this action.",
			Duration:   5 * time.Second,
		}
	case KindValidation:
		return Feedback{
			Severity:   SeverityInfo,
			Title:      "Check your input",
			Message:    coded.Message,
			Suggestion: "Fix the highlighted problem and resend.",
			Duration:   4 * time.Second,
		}
	case KindNotFound:
		return Feedback{
			Severity: SeverityInfo,
			Title:    "Not found",
			Message:  coded.Message,
			Duration: 4 * time.Second,
		}
	case KindUnauthorized:
		return Feedback{
			Severity:   SeverityError,
			Title:      "Session expired",
			Message:    coded.Message,
			Suggestion: "Log in again.",
			Duration:   6 * time.Second,
		}
	case KindNetwork:
		return ConnectionLostFeedback()
	default:
		return Feedback{
			Severity:   SeverityError,
			Title:      "Server error",
			Message:    coded.Message,
			Suggestion: "Try again later.",
			Duration:   5 * time.Second,
		}
	}
}

// ConnectionLostFeedback is shown until the connection comes back.
func ConnectionLostFeedback() Feedback {
	return Feedback{
		Severity:   SeverityError,
		Title:      "Connection lost",
		Message:    "Reconnecting to chat...",
		Persistent: true,
	}
}
