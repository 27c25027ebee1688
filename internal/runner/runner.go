package runner

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eiffel-community/etos-suite-runner-go/internal/config"
	"github.com/eiffel-community/etos-suite-runner-go/internal/environment"
	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/eventbus"
	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
	"github.com/eiffel-community/etos-suite-runner-go/internal/orchestrator"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
	"github.com/eiffel-community/etos-suite-runner-go/internal/tracing"
)

// Runner is the top-level testrun driver (§4.1).
type Runner struct {
	Params     *config.Parameters
	Publisher  *eventbus.Publisher
	Query      *eventbus.Query
	Releaser   *environment.Releaser
	EnvStatus  *environment.Status
	Requester  *environment.Requester
	HTTPClient *http.Client

	// NewOrchestrator builds one SuiteOrchestrator, bound to the given
	// activity, for runSuitesConcurrently to call once per MainSuite -
	// injected so tests can substitute fakes.
	NewOrchestrator func(activityID string) *orchestrator.Orchestrator
}

// Outcome is everything the process needs to decide its exit code and
// termination-log contents.
type Outcome struct {
	MainSuiteIDs []string
	Verdict      orchestrator.Verdict
	Err          error
}

// Run drives the full testrun per §4.1's eight steps. The full
// environment release always runs before Run returns, on every exit
// path (step 8) - success, ConfigError, EnvironmentProviderError, or
// termination.
func (r *Runner) Run(ctx context.Context) Outcome {
	ctx, span := tracing.StartSpan(ctx, "suite_runner")
	defer span.End()

	testrunID := r.Params.TestrunID(func() string { return uuid.NewString() })
	defer func() {
		if err := r.Releaser.ReleaseFull(context.Background(), testrunID); err != nil {
			logging.S().Warnw("full environment release failed", "testrunId", testrunID, "error", err)
		}
	}()

	if r.Params.OperatorMode() {
		r.selfPublishTERCC(ctx, testrunID)
	}

	artifactID := r.Params.ArtifactID
	if _, err := r.Publisher.PublishActivityTriggered(ctx, artifactID, map[string]interface{}{
		"executionType": "AUTOMATED",
	}); err != nil {
		logging.S().Warnw("failed to publish ActivityTriggered", "error", err)
	}
	activityID := testrunID

	if err := r.Params.VerifyRequired(); err != nil {
		configErr := &errs.ConfigError{Reason: err.Error()}
		tracing.RecordError(span, "ConfigError", configErr)
		if _, pubErr := r.Publisher.PublishAnnouncement(ctx, activityID, "Configuration error", configErr.Error(), "CRITICAL"); pubErr != nil {
			logging.S().Warnw("failed to publish announcement", "error", pubErr)
		}
		if _, pubErr := r.Publisher.PublishActivityCanceled(ctx, activityID, configErr.Error()); pubErr != nil {
			logging.S().Warnw("failed to publish ActivityCanceled", "error", pubErr)
		}
		return Outcome{Err: configErr}
	}

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	mainSuites, err := r.Params.TestSuites(ctx, client)
	if err != nil {
		wrapped := fmt.Errorf("parsing test suites: %w", err)
		tracing.RecordError(span, "ConfigError", wrapped)
		if _, pubErr := r.Publisher.PublishActivityCanceled(ctx, activityID, wrapped.Error()); pubErr != nil {
			logging.S().Warnw("failed to publish ActivityCanceled", "error", pubErr)
		}
		return Outcome{Err: wrapped}
	}
	// main_suite_ids differ by mode (esr_parameters.py): direct mode
	// generates fresh UUIDs, operator mode reads spec.id off the
	// EnvironmentRequest resources the controller already created for
	// this testrun, in the same order as mainSuites.
	if r.Params.OperatorMode() {
		ids, err := r.Requester.MainSuiteIDs(ctx, testrunID)
		if err != nil {
			wrapped := fmt.Errorf("resolving main suite ids: %w", err)
			tracing.RecordError(span, "EnvironmentProviderError", wrapped)
			if _, pubErr := r.Publisher.PublishActivityCanceled(ctx, activityID, wrapped.Error()); pubErr != nil {
				logging.S().Warnw("failed to publish ActivityCanceled", "error", pubErr)
			}
			return Outcome{Err: wrapped}
		}
		if len(ids) != len(mainSuites) {
			wrapped := &errs.EnvironmentProviderError{Message: fmt.Sprintf("expected %d environment requests for testrun %s, found %d", len(mainSuites), testrunID, len(ids))}
			tracing.RecordError(span, "EnvironmentProviderError", wrapped)
			if _, pubErr := r.Publisher.PublishActivityCanceled(ctx, activityID, wrapped.Error()); pubErr != nil {
				logging.S().Warnw("failed to publish ActivityCanceled", "error", pubErr)
			}
			return Outcome{Err: wrapped}
		}
		for i := range mainSuites {
			mainSuites[i].ID = ids[i]
		}
	} else {
		for i := range mainSuites {
			mainSuites[i].ID = uuid.NewString()
		}
	}
	mainSuiteIDs := make([]string, 0, len(mainSuites))
	for _, ms := range mainSuites {
		mainSuiteIDs = append(mainSuiteIDs, ms.ID)
	}

	requesterCtx, cancelRequester := context.WithCancel(ctx)
	defer cancelRequester()
	go func() {
		if r.Params.OperatorMode() {
			r.Requester.RunWatch(requesterCtx, testrunID, r.Params.WaitForEnvironmentTimeout)
		} else {
			r.Requester.RunDirect(requesterCtx, testrunID, mainSuiteIDs, r.Params.WaitForEnvironmentTimeout)
		}
	}()

	if _, err := r.Publisher.PublishActivityStarted(ctx, activityID); err != nil {
		logging.S().Warnw("failed to publish ActivityStarted", "error", err)
	}

	verdicts, suiteErr := r.runSuitesConcurrently(ctx, testrunID, activityID, mainSuites)
	final := orchestrator.AggregateTestrun(verdicts)

	// §4.1 step 7: any suite aborting for a reason fatal to the whole
	// testrun (EnvironmentProviderError, Timeout, Terminated) cancels
	// the activity instead of finishing it - ActivityFinished and
	// ActivityCanceled are mutually exclusive (§8 invariant 5), and
	// "re-raise" means the Outcome itself carries the error so the
	// process exits non-zero.
	if suiteErr != nil {
		tracing.RecordError(span, errorKindFor(suiteErr), suiteErr)
		if _, err := r.Publisher.PublishActivityCanceled(ctx, activityID, suiteErr.Error()); err != nil {
			logging.S().Warnw("failed to publish ActivityCanceled", "error", err)
		}
		return Outcome{MainSuiteIDs: mainSuiteIDs, Verdict: final, Err: suiteErr}
	}

	// A testrun that ran to completion publishes ActivityFinished
	// SUCCESSFUL even when its suites' own verdict is FAILED or
	// INCONCLUSIVE (§4.1 step 6) - conclusion describes the process,
	// verdict describes the tests (GLOSSARY).
	if _, err := r.Publisher.PublishActivityFinished(ctx, activityID, eventbus.ActivityOutcome{
		Conclusion: orchestrator.ConclusionSuccessful,
	}); err != nil {
		logging.S().Warnw("failed to publish ActivityFinished", "error", err)
	}
	return Outcome{MainSuiteIDs: mainSuiteIDs, Verdict: final}
}

// selfPublishTERCC implements operator mode's half of esr.py's
// _send_tercc: if no TestExecutionRecipeCollectionCreated event exists
// for this testrun yet - the controller that created the
// EnvironmentRequest resources is not guaranteed to have published one
// - the Runner publishes it itself before triggering the activity, so
// later TestSuiteStarted events always have a TERC link to resolve.
func (r *Runner) selfPublishTERCC(ctx context.Context, testrunID string) {
	if r.Query == nil {
		return
	}
	existing, err := r.Query.TestExecutionRecipeCollectionCreated(ctx, testrunID)
	if err != nil {
		logging.S().Warnw("checking for existing TestExecutionRecipeCollectionCreated failed", "testrunId", testrunID, "error", err)
		return
	}
	if existing != nil {
		return
	}
	if _, err := r.Publisher.PublishTestExecutionRecipeCollectionCreated(ctx, testrunID, r.Params.ArtifactID, r.Params.SuiteSource); err != nil {
		logging.S().Warnw("failed to publish TestExecutionRecipeCollectionCreated", "testrunId", testrunID, "error", err)
	}
}

// runSuitesConcurrently runs one Orchestrator per MainSuite, all
// concurrently, and joins them (§4.1 step 5, §4.3). Every suite always
// runs to completion - one suite's fatal error does not cancel its
// siblings, only the activity's own outcome once all have joined -
// so the first fatal Result.Err observed (in MainSuite order) is
// returned alongside every suite's verdict.
func (r *Runner) runSuitesConcurrently(ctx context.Context, testrunID, activityID string, mainSuites []suite.MainSuite) ([]orchestrator.Verdict, error) {
	verdicts := make([]orchestrator.Verdict, len(mainSuites))
	suiteErrs := make([]error, len(mainSuites))
	g, gctx := errgroup.WithContext(ctx)
	for i, ms := range mainSuites {
		i, ms := i, ms
		g.Go(func() error {
			orch := r.NewOrchestrator(activityID)
			result := orch.Run(gctx, testrunID, ms)
			verdicts[i] = result.Verdict
			suiteErrs[i] = result.Err
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range suiteErrs {
		if err != nil {
			return verdicts, err
		}
	}
	return verdicts, nil
}

// errorKindFor names the §7 error kind of a fatal suite-abort error,
// the same taxonomy errorKind in internal/orchestrator records on its
// own span.
func errorKindFor(err error) string {
	switch err.(type) {
	case *errs.EnvironmentProviderError:
		return "EnvironmentProviderError"
	case *errs.TimeoutError:
		return "Timeout"
	case *errs.TerminatedError:
		return "Terminated"
	default:
		return "Error"
	}
}
