package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
	"github.com/eiffel-community/etos-suite-runner-go/internal/tracing"
)

const pollInterval = 5 * time.Second

// Requester is the EnvironmentRequester (§4.2): it asks the provider
// for environments and writes the outcome to a shared Status, running
// as a background task for the lifetime of environment discovery.
type Requester struct {
	Status   *Status
	Provider *Provider
	K8s      K8sClient
	Namespace string

	// PollInterval overrides the default 5s poll tick; zero means use
	// the default. Exposed so tests don't have to wait out a full
	// production-length tick.
	PollInterval time.Duration
}

func (r *Requester) interval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return pollInterval
}

// RunDirect drives direct-mode provisioning: one synchronous request,
// then poll the returned task until it resolves or timeout elapses.
func (r *Requester) RunDirect(ctx context.Context, testrunID string, mainSuiteIDs []string, timeout time.Duration) {
	ctx, span := tracing.StartSpan(ctx, "request_environment")
	defer span.End()

	r.Status.Set(Pending, nil)
	taskID, err := r.Provider.RequestEnvironment(ctx, testrunID, mainSuiteIDs)
	if err != nil {
		tracing.RecordError(span, "EnvironmentProviderError", err)
		r.Status.Set(Failure, &errs.EnvironmentProviderError{Message: err.Error()})
		return
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		status, err := r.Provider.PollTask(ctx, taskID)
		if err != nil {
			tracing.RecordError(span, "EnvironmentProviderError", err)
			r.Status.Set(Failure, &errs.EnvironmentProviderError{Message: err.Error(), TaskID: taskID})
			return
		}
		if status.Done {
			if status.Error != "" {
				r.Status.Set(Failure, &errs.EnvironmentProviderError{Message: status.Error, TaskID: taskID})
				return
			}
			r.Status.Set(Success, nil)
			return
		}
		if time.Now().After(deadline) {
			err := &errs.TimeoutError{After: timeout.String()}
			tracing.RecordError(span, "Timeout", err)
			r.Status.Set(Failure, err)
			return
		}
		select {
		case <-ctx.Done():
			r.Status.Set(Failure, &errs.TerminatedError{})
			return
		case <-ticker.C:
		}
	}
}

// RunWatch drives operator-mode provisioning: poll the
// EnvironmentRequest CRDs labeled with testrunID every 5s until every
// one reports Ready/Done, any reports Ready/Failed, or timeout
// elapses (§4.2).
func (r *Requester) RunWatch(ctx context.Context, testrunID string, timeout time.Duration) {
	ctx, span := tracing.StartSpan(ctx, "request_environment")
	defer span.End()

	r.Status.Set(Pending, nil)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		records, err := r.K8s.ListEnvironmentRequests(ctx, r.Namespace, testrunID)
		if err != nil {
			logging.S().Warnw("listing environment requests failed, will retry", "error", err)
		} else if outcome, done := evaluateRecords(records); done {
			if outcome != nil {
				tracing.RecordError(span, "EnvironmentProviderError", outcome)
				r.Status.Set(Failure, outcome)
			} else {
				r.Status.Set(Success, nil)
			}
			return
		}
		if time.Now().After(deadline) {
			err := &errs.TimeoutError{After: timeout.String()}
			tracing.RecordError(span, "Timeout", err)
			r.Status.Set(Failure, err)
			return
		}
		select {
		case <-ctx.Done():
			r.Status.Set(Failure, &errs.TerminatedError{})
			return
		case <-ticker.C:
		}
	}
}

// MainSuiteIDs reads main suite ids directly off the EnvironmentRequest
// resources the controller already created for testrunID
// (esr_parameters.py main_suite_ids: `[request.spec.id for request in
// self.environment_requests]`). Operator mode only - direct mode
// generates its own ids instead, since there is no controller-owned
// request to read them back from.
func (r *Requester) MainSuiteIDs(ctx context.Context, testrunID string) ([]string, error) {
	records, err := r.K8s.ListEnvironmentRequests(ctx, r.Namespace, testrunID)
	if err != nil {
		return nil, fmt.Errorf("listing environment requests: %w", err)
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.SpecID)
	}
	return ids, nil
}

// evaluateRecords applies §4.2's per-request rule set: any
// Ready=false/Failed aborts immediately; Ready=false/Done counts as a
// per-request success; overall success requires every request Done.
// done=false means "keep polling".
func evaluateRecords(records []EnvironmentRequestRecord) (outcome error, done bool) {
	if len(records) == 0 {
		return nil, false
	}
	allDone := true
	for _, rec := range records {
		if rec.ReadyStatus != "False" {
			allDone = false
			continue
		}
		switch rec.ReadyReason {
		case "Failed":
			return &errs.EnvironmentProviderError{Message: fmt.Sprintf("%s: %s", rec.Name, rec.ReadyMessage)}, true
		case "Done":
			// per-request success; keep checking the rest
		default:
			allDone = false
		}
	}
	if allDone {
		return nil, true
	}
	return nil, false
}
