// Package orchestrator implements the SuiteOrchestrator and
// SubSuiteWorker (§4.3, §4.4): discovering sub-suite environments for
// one MainSuite, fanning execution out to them, and aggregating their
// outcomes into a verdict.
package orchestrator

import "fmt"

// Verdict is the verdict triple (§3).
type Verdict struct {
	Verdict     string
	Conclusion  string
	Description string
}

const (
	VerdictPassed       = "PASSED"
	VerdictFailed       = "FAILED"
	VerdictInconclusive = "INCONCLUSIVE"

	ConclusionSuccessful  = "SUCCESSFUL"
	ConclusionFailed      = "FAILED"
	ConclusionInconclusive = "INCONCLUSIVE"
)

// SubSuiteOutcome is the minimal view of a SubSuite the aggregator
// needs once all of its workers have joined.
type SubSuiteOutcome struct {
	Name     string
	Started  bool
	Finished bool
	Failed   bool
	Verdict  Verdict
}

// Aggregate computes a MainSuite's verdict from its SubSuite outcomes
// by the precedence table in §4.5: first match wins.
func Aggregate(testrunID, mainSuiteID string, empty bool, outcomes []SubSuiteOutcome) Verdict {
	if empty {
		return Verdict{
			Verdict:     VerdictInconclusive,
			Conclusion:  ConclusionFailed,
			Description: fmt.Sprintf("No tests in suite %s, aborting", testrunID),
		}
	}

	anyStarted := false
	failedCount := 0
	allFinished := true
	for _, o := range outcomes {
		if o.Started {
			anyStarted = true
		}
		if o.Failed {
			failedCount++
		}
		if !o.Finished {
			allFinished = false
		}
	}

	if !anyStarted {
		return Verdict{
			Verdict:     VerdictInconclusive,
			Conclusion:  ConclusionFailed,
			Description: fmt.Sprintf("No sub suites started at all for %s.", mainSuiteID),
		}
	}
	if failedCount > 0 {
		return Verdict{
			Verdict:     VerdictInconclusive,
			Conclusion:  ConclusionFailed,
			Description: fmt.Sprintf("%d sub suites failed to start", failedCount),
		}
	}
	if !allFinished {
		return Verdict{
			Verdict:     VerdictInconclusive,
			Conclusion:  ConclusionFailed,
			Description: "Did not receive test results from sub suites.",
		}
	}
	for _, o := range outcomes {
		if o.Verdict.Verdict != VerdictPassed && o.Verdict.Verdict != "" {
			return Verdict{
				Verdict:     VerdictFailed,
				Conclusion:  ConclusionSuccessful,
				Description: o.Verdict.Description,
			}
		}
	}
	return Verdict{
		Verdict:     VerdictPassed,
		Conclusion:  ConclusionSuccessful,
		Description: "All tests passed.",
	}
}

// AggregateTestrun picks the testrun-level verdict across its
// MainSuites: first FAILED, else first INCONCLUSIVE, else the first
// result (§4.5 testrun-level aggregation).
func AggregateTestrun(verdicts []Verdict) Verdict {
	if len(verdicts) == 0 {
		return Verdict{Verdict: VerdictInconclusive, Conclusion: ConclusionFailed, Description: "No suites were run."}
	}
	for _, v := range verdicts {
		if v.Verdict == VerdictFailed {
			return v
		}
	}
	for _, v := range verdicts {
		if v.Verdict == VerdictInconclusive {
			return v
		}
	}
	return verdicts[0]
}
