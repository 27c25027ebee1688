// Package errs defines the error-kind taxonomy of the orchestration
// engine (spec §7). Each kind is a small wrapping struct so that
// errors.As can recover the kind-specific fields (task ID, response
// body, ...) at the boundary where it is converted into a verdict.
package errs

import "fmt"

// ConfigError means a required input was missing before the activity
// was triggered. Fatal, pre-activity, no release needed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// EnvironmentProviderError means the Environment Provider failed or
// reported failure. Fatal for the testrun; triggers full release.
type EnvironmentProviderError struct {
	Message string
	TaskID  string
}

func (e *EnvironmentProviderError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("environment provider error (task %s): %s", e.TaskID, e.Message)
	}
	return "environment provider error: " + e.Message
}

// TestStartError means the HTTP call to a Test Runner failed. Fatal
// for the single SubSuite only.
type TestStartError struct {
	// Body holds whatever the Test Runner responded with: a decoded
	// JSON error object, or {"error": <text>} for non-JSON bodies and
	// connection failures.
	Body map[string]interface{}
}

func (e *TestStartError) Error() string {
	if msg, ok := e.Body["error"]; ok {
		return fmt.Sprintf("test start error: %v", msg)
	}
	return fmt.Sprintf("test start error: %v", e.Body)
}

// TimeoutError means environment discovery exceeded its budget.
type TimeoutError struct {
	After string
}

func (e *TimeoutError) Error() string { return "timed out after " + e.After }

// TerminatedError means an external termination signal was observed.
type TerminatedError struct{}

func (e *TerminatedError) Error() string { return "terminate command received - shutting down" }

// ReleaseError wraps a failure to release an environment. It is
// logged only and never propagated past the release call site.
type ReleaseError struct {
	Cause error
}

func (e *ReleaseError) Error() string { return "release error: " + e.Cause.Error() }
func (e *ReleaseError) Unwrap() error { return e.Cause }
