// Package runner implements the top-level Runner (§4.1): it drives a
// single testrun end-to-end, owning the activity lifecycle,
// cancellation, and the unconditional environment release on every
// exit path.
package runner

import (
	"encoding/json"
	"os"
	"strings"
)

// TerminationLog is the JSON shape written to /dev/termination-log on
// exit (§6, §8 invariant 3): always present, always parseable,
// regardless of success or failure.
type TerminationLog struct {
	Verdict     string `json:"verdict"`
	Conclusion  string `json:"conclusion"`
	Description string `json:"description"`
}

// TitleCase upper-cases the first rune and lower-cases the rest,
// matching the Title-case contract on verdict/conclusion output
// (§4.5, §6, §8 invariant 4) - "PASSED" -> "Passed".
func TitleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// WriteTerminationLog writes the Title-cased verdict triple to path
// (normally /dev/termination-log). Errors writing the log are
// returned but never suppress the process's own exit code decision -
// callers should log and continue rather than escalate.
func WriteTerminationLog(path string, verdict, conclusion, description string) error {
	payload := TerminationLog{
		Verdict:     TitleCase(verdict),
		Conclusion:  TitleCase(conclusion),
		Description: description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}
