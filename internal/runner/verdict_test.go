package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"PASSED":       "Passed",
		"FAILED":       "Failed",
		"INCONCLUSIVE": "Inconclusive",
		"":             "",
	}
	for in, want := range cases {
		if got := TitleCase(in); got != want {
			t.Fatalf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteTerminationLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termination-log")
	if err := WriteTerminationLog(path, "PASSED", "SUCCESSFUL", "All tests passed."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error reading log: %v", err)
	}
	var log TerminationLog
	if err := json.Unmarshal(body, &log); err != nil {
		t.Fatalf("termination log did not parse as JSON: %v", err)
	}
	if log.Verdict != "Passed" || log.Conclusion != "Successful" {
		t.Fatalf("unexpected termination log: %+v", log)
	}
}
