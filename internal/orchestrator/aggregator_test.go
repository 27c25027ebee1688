package orchestrator

import "testing"

func TestAggregateEmptySuite(t *testing.T) {
	v := Aggregate("testrun-1", "suite-1", true, nil)
	if v.Verdict != VerdictInconclusive || v.Conclusion != ConclusionFailed {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestAggregateNoneStarted(t *testing.T) {
	v := Aggregate("testrun-1", "suite-1", false, []SubSuiteOutcome{
		{Name: "a", Started: false},
	})
	if v.Verdict != VerdictInconclusive || v.Conclusion != ConclusionFailed {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestAggregateOneFailedToStart(t *testing.T) {
	v := Aggregate("testrun-1", "suite-1", false, []SubSuiteOutcome{
		{Name: "a", Started: true, Finished: true, Verdict: Verdict{Verdict: VerdictPassed}},
		{Name: "b", Failed: true},
	})
	if v.Verdict != VerdictInconclusive || v.Description != "1 sub suites failed to start" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestAggregateNotAllFinished(t *testing.T) {
	v := Aggregate("testrun-1", "suite-1", false, []SubSuiteOutcome{
		{Name: "a", Started: true, Finished: true, Verdict: Verdict{Verdict: VerdictPassed}},
		{Name: "b", Started: true, Finished: false},
	})
	if v.Verdict != VerdictInconclusive || v.Description != "Did not receive test results from sub suites." {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestAggregateSubSuiteFailedVerdict(t *testing.T) {
	v := Aggregate("testrun-1", "suite-1", false, []SubSuiteOutcome{
		{Name: "a", Started: true, Finished: true, Verdict: Verdict{Verdict: VerdictFailed, Description: "flaky test"}},
	})
	if v.Verdict != VerdictFailed || v.Conclusion != ConclusionSuccessful || v.Description != "flaky test" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestAggregateAllPassed(t *testing.T) {
	v := Aggregate("testrun-1", "suite-1", false, []SubSuiteOutcome{
		{Name: "a", Started: true, Finished: true, Verdict: Verdict{Verdict: VerdictPassed}},
		{Name: "b", Started: true, Finished: true, Verdict: Verdict{Verdict: VerdictPassed}},
	})
	if v.Verdict != VerdictPassed || v.Conclusion != ConclusionSuccessful || v.Description != "All tests passed." {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestAggregateTestrunPrefersFailed(t *testing.T) {
	verdicts := []Verdict{
		{Verdict: VerdictInconclusive},
		{Verdict: VerdictFailed, Description: "this one"},
		{Verdict: VerdictPassed},
	}
	got := AggregateTestrun(verdicts)
	if got.Verdict != VerdictFailed || got.Description != "this one" {
		t.Fatalf("expected the FAILED verdict to win, got %+v", got)
	}
}

func TestAggregateTestrunFallsBackToInconclusive(t *testing.T) {
	verdicts := []Verdict{
		{Verdict: VerdictPassed},
		{Verdict: VerdictInconclusive, Description: "inconclusive one"},
	}
	got := AggregateTestrun(verdicts)
	if got.Verdict != VerdictInconclusive || got.Description != "inconclusive one" {
		t.Fatalf("expected the INCONCLUSIVE verdict to win, got %+v", got)
	}
}
