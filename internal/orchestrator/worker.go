package orchestrator

import (
	"context"
	"time"

	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/eventbus"
	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
	"github.com/eiffel-community/etos-suite-runner-go/internal/tracing"
)

const subSuiteResultPollInterval = 10 * time.Second

// Executor is the one ExecutorClient operation a worker needs.
type Executor interface {
	RunTests(ctx context.Context, def suite.SubSuiteDefinition) error
}

// Releaser is the one release operation a worker needs, invoked
// exactly once regardless of how the worker exits (§4.4 step 4).
type Releaser interface {
	ReleaseSingle(ctx context.Context, executorID string) error
}

// SubSuiteWorker starts one external Test Runner and tracks its
// lifecycle over the bus (§4.4).
type SubSuiteWorker struct {
	Executor     Executor
	Query        *eventbus.Query
	Releaser     Releaser
	ResultTimeout time.Duration
	PollInterval time.Duration
}

func (w *SubSuiteWorker) interval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return subSuiteResultPollInterval
}

// Run drives one SubSuite end-to-end: start, poll for started/
// finished, release. It never returns an error - all failure modes
// are folded into the returned SubSuiteOutcome, because a worker
// failing must not abort its siblings (§4.4, §4.5).
func (w *SubSuiteWorker) Run(ctx context.Context, def suite.SubSuiteDefinition, mainSuiteID string) SubSuiteOutcome {
	ctx, span := tracing.StartSpan(ctx, "execute_testrunner")
	defer span.End()

	outcome := SubSuiteOutcome{Name: def.Name}
	defer func() {
		if err := w.Releaser.ReleaseSingle(context.Background(), def.Executor.ID); err != nil {
			logging.S().Warnw("releasing sub suite environment failed", "subSuite", def.Name, "error", err)
		}
	}()

	if err := w.Executor.RunTests(ctx, def); err != nil {
		tracing.RecordError(span, "TestStartError", err)
		outcome.Failed = true
		return outcome
	}

	// One deadline covers both poll phases below (§8 invariant 6: no
	// worker polls past default_test_result_timeout in total), matching
	// suite.py's single `timeout = time.time() + default_test_result_timeout`
	// budget rather than resetting it per phase.
	deadline := time.Now().Add(w.resultTimeout())

	startedEvent, err := w.pollUntilStarted(ctx, mainSuiteID, def.Name, deadline)
	if err != nil {
		// Accepted but never observed starting is not a startup
		// failure (§3/§4.4: failed means the executor call itself
		// failed) - it surfaces as "never finished" in §4.5 instead.
		tracing.RecordError(span, "Timeout", err)
		return outcome
	}
	outcome.Started = true

	finishedEvent, err := w.pollUntilFinished(ctx, startedEventID(startedEvent), deadline)
	if err != nil {
		tracing.RecordError(span, "Timeout", err)
		return outcome
	}
	outcome.Finished = true
	outcome.Verdict = verdictFromOutcome(finishedEvent)
	return outcome
}

func (w *SubSuiteWorker) pollUntilStarted(ctx context.Context, mainSuiteID, name string, deadline time.Time) (map[string]interface{}, error) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		events, err := w.Query.TestSuiteStarted(ctx, mainSuiteID)
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			if eventDataName(event) == name {
				return event, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, &errs.TimeoutError{After: w.resultTimeout().String()}
		}
		select {
		case <-ctx.Done():
			return nil, &errs.TerminatedError{}
		case <-ticker.C:
		}
	}
}

func (w *SubSuiteWorker) pollUntilFinished(ctx context.Context, startedID string, deadline time.Time) (map[string]interface{}, error) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		event, err := w.Query.TestSuiteFinished(ctx, startedID)
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}
		if time.Now().After(deadline) {
			return nil, &errs.TimeoutError{After: w.resultTimeout().String()}
		}
		select {
		case <-ctx.Done():
			return nil, &errs.TerminatedError{}
		case <-ticker.C:
		}
	}
}

func (w *SubSuiteWorker) resultTimeout() time.Duration {
	if w.ResultTimeout > 0 {
		return w.ResultTimeout
	}
	return time.Hour
}

func eventDataName(event map[string]interface{}) string {
	data, ok := event["data"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := data["name"].(string)
	return name
}

func startedEventID(event map[string]interface{}) string {
	meta, ok := event["meta"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := meta["id"].(string)
	return id
}

func verdictFromOutcome(event map[string]interface{}) Verdict {
	data, ok := event["data"].(map[string]interface{})
	if !ok {
		return Verdict{}
	}
	outcome, ok := data["outcome"].(map[string]interface{})
	if !ok {
		return Verdict{}
	}
	v := Verdict{}
	if s, ok := outcome["verdict"].(string); ok {
		v.Verdict = s
	}
	if s, ok := outcome["conclusion"].(string); ok {
		v.Conclusion = s
	}
	if s, ok := outcome["description"].(string); ok {
		v.Description = s
	}
	return v
}
