package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/eiffel-community/etos-suite-runner-go/internal/environment"
	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/eventbus"
	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
	"github.com/eiffel-community/etos-suite-runner-go/internal/tracing"
)

const environmentDiscoveryPollInterval = 5 * time.Second

// Orchestrator is the SuiteOrchestrator (§4.3): one instance per
// MainSuite, run concurrently with its siblings by the Runner.
type Orchestrator struct {
	Query        *eventbus.Query
	Publisher    *eventbus.Publisher
	Releaser     *environment.Releaser
	EnvStatus    *environment.Status
	HTTPClient   *http.Client
	WorkerFactory func() *SubSuiteWorker

	ActivityID string
	Product    string

	DiscoveryTimeout time.Duration
	PollInterval     time.Duration
}

func (o *Orchestrator) interval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return environmentDiscoveryPollInterval
}

// Result is what the Runner collects from each Orchestrator once
// Run returns.
type Result struct {
	MainSuiteID string
	Verdict     Verdict

	// Err is set only when the environment discovery loop aborted -
	// EnvironmentProviderError, Timeout, Terminated, or a failed bus
	// query - which is fatal to the whole testrun (§4.1 step 7,
	// §8 invariant 5); never for a SubSuite-local TestStartError,
	// which is folded into Verdict via ResultAggregator instead.
	Err error
}

// Run drives one MainSuite end-to-end per §4.3's seven steps.
func (o *Orchestrator) Run(ctx context.Context, testrunID string, mainSuite suite.MainSuite) Result {
	ctx, span := tracing.StartSpan(ctx, "start_suite")
	defer span.End()

	if _, err := o.Publisher.PublishTestSuiteStarted(ctx, mainSuite.ID, o.ActivityID, testrunID, mainSuite.Name, o.Product); err != nil {
		logging.S().Warnw("failed to publish TestSuiteStarted", "mainSuite", mainSuite.Name, "error", err)
	}

	if len(mainSuite.Recipes) == 0 {
		verdict := Aggregate(testrunID, mainSuite.ID, true, nil)
		o.finish(ctx, mainSuite, verdict)
		return Result{MainSuiteID: mainSuite.ID, Verdict: verdict}
	}

	environments, err := o.discoverEnvironments(ctx, mainSuite.ID)
	if err != nil {
		tracing.RecordError(span, errorKind(err), err)
		if relErr := o.releaseOrphaned(environments); relErr != nil {
			logging.S().Warnw("releasing orphaned environments after aborted discovery failed", "mainSuite", mainSuite.Name, "error", relErr)
		}
		verdict := Verdict{Verdict: VerdictInconclusive, Conclusion: ConclusionFailed, Description: err.Error()}
		o.finish(ctx, mainSuite, verdict)
		return Result{MainSuiteID: mainSuite.ID, Verdict: verdict, Err: err}
	}

	outcomes := o.runWorkers(ctx, mainSuite.ID, environments)
	verdict := Aggregate(testrunID, mainSuite.ID, false, outcomes)
	o.finish(ctx, mainSuite, verdict)
	return Result{MainSuiteID: mainSuite.ID, Verdict: verdict}
}

func (o *Orchestrator) finish(ctx context.Context, mainSuite suite.MainSuite, verdict Verdict) {
	data := map[string]interface{}{
		"outcome": map[string]interface{}{
			"verdict":     verdict.Verdict,
			"conclusion":  verdict.Conclusion,
			"description": verdict.Description,
		},
	}
	ev := eventbus.NewEvent(eventbus.TypeTestSuiteFinished, []eventbus.Link{{Type: eventbus.LinkContext, Target: mainSuite.ID}}, data)
	if _, err := o.Publisher.Publish(ctx, ev); err != nil {
		logging.S().Warnw("failed to publish TestSuiteFinished", "mainSuite", mainSuite.Name, "error", err)
	}
}

// discoverEnvironments implements the environment discovery loop
// (§4.3 step 3): polling for EnvironmentDefined events tied to this
// main suite's activity until at least one has arrived and the
// provider's ActivityFinished confirms no more are coming, or until
// timeout/provider failure. It always returns whatever Environments it
// had already found, even on error: an abort partway through (provider
// failure, timeout, termination) must not leak the Environments
// already observed on the bus (§8 invariant 2), so the caller releases
// them before propagating the error.
func (o *Orchestrator) discoverEnvironments(ctx context.Context, mainSuiteID string) ([]suite.Environment, error) {
	deadline := time.Now().Add(o.discoveryTimeout())
	ticker := time.NewTicker(o.interval())
	defer ticker.Stop()

	seen := map[string]bool{}
	var found []suite.Environment

	for {
		triggered, err := o.Query.ActivityTriggered(ctx, mainSuiteID)
		if err != nil {
			return found, err
		}
		if triggered == nil {
			if snap := o.EnvStatus.Get(); snap.State == environment.Failure {
				return found, &errs.EnvironmentProviderError{Message: errMessage(snap.Err)}
			}
		}

		defined, err := o.Query.EnvironmentDefined(ctx, mainSuiteID)
		if err != nil {
			return found, err
		}
		for _, event := range defined {
			id := startedEventID(event)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			env, err := environmentFromEvent(event)
			if err != nil {
				logging.S().Warnw("skipping malformed EnvironmentDefined event", "error", err)
				continue
			}
			found = append(found, env)
		}

		finished, err := o.Query.ActivityFinished(ctx, mainSuiteID)
		if err != nil {
			return found, err
		}
		if finished != nil {
			outcome := activityOutcome(finished)
			if outcome.Conclusion != "" && outcome.Conclusion != "SUCCESSFUL" {
				return found, &errs.EnvironmentProviderError{Message: outcome.Description}
			}
			if len(found) > 0 {
				return found, nil
			}
		}

		if time.Now().After(deadline) {
			if len(found) == 0 {
				return found, &errs.TimeoutError{After: o.discoveryTimeout().String()}
			}
			return found, nil
		}

		select {
		case <-ctx.Done():
			return found, &errs.TerminatedError{}
		case <-ticker.C:
		}
	}
}

// runWorkers downloads each Environment's SubSuiteDefinition and
// fans execution out to one SubSuiteWorker per environment,
// concurrently, joining all before returning (§4.3 steps 4-5). The
// worker pool is sized to exactly len(environments): §5 calls for "a
// pool or equivalent" bounding parallelism only by the sub-suite
// count itself, never an artificial cap, since capacity is enforced
// upstream by the Environment Provider.
func (o *Orchestrator) runWorkers(ctx context.Context, mainSuiteID string, environments []suite.Environment) []SubSuiteOutcome {
	outcomes := make([]SubSuiteOutcome, len(environments))
	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(len(environments)))
	g, gctx := errgroup.WithContext(ctx)
	for i, env := range environments {
		i, env := i, env
		if err := sem.Acquire(gctx, 1); err != nil {
			outcomes[i] = SubSuiteOutcome{Name: env.Name, Failed: true}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			def, err := o.downloadDefinition(gctx, env)
			if err != nil {
				if relErr := o.Releaser.ReleaseSingle(context.Background(), env.ID); relErr != nil {
					logging.S().Warnw("releasing undownloadable sub suite environment failed", "environment", env.Name, "error", relErr)
				}
				mu.Lock()
				outcomes[i] = SubSuiteOutcome{Name: env.Name, Failed: true}
				mu.Unlock()
				logging.S().Warnw("failed to download sub suite definition", "environment", env.Name, "error", err)
				return nil
			}
			worker := o.WorkerFactory()
			outcome := worker.Run(ctx, def, mainSuiteID)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) downloadDefinition(ctx context.Context, env suite.Environment) (suite.SubSuiteDefinition, error) {
	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.URI, nil)
	if err != nil {
		return suite.SubSuiteDefinition{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return suite.SubSuiteDefinition{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return suite.SubSuiteDefinition{}, fmt.Errorf("downloading sub suite definition: status %d", resp.StatusCode)
	}
	var def suite.SubSuiteDefinition
	if err := json.NewDecoder(resp.Body).Decode(&def); err != nil {
		return suite.SubSuiteDefinition{}, err
	}
	def.Executor.ID = env.ID
	return def, nil
}

// releaseOrphaned releases every Environment discoverEnvironments had
// already found before it aborted. Each release is independent of the
// others - one provider being slow to acknowledge a release must not
// stop the rest from being attempted - so failures accumulate into a
// single error via go-multierror rather than short-circuiting on the
// first one.
func (o *Orchestrator) releaseOrphaned(environments []suite.Environment) error {
	var result *multierror.Error
	for _, env := range environments {
		if err := o.Releaser.ReleaseSingle(context.Background(), env.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", env.Name, err))
		}
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) discoveryTimeout() time.Duration {
	if o.DiscoveryTimeout > 0 {
		return o.DiscoveryTimeout
	}
	return time.Hour
}

func environmentFromEvent(event map[string]interface{}) (suite.Environment, error) {
	data, ok := event["data"].(map[string]interface{})
	if !ok {
		return suite.Environment{}, fmt.Errorf("EnvironmentDefined event missing data")
	}
	name, _ := data["name"].(string)
	uri, _ := data["uri"].(string)
	id, _ := data["id"].(string)
	if uri == "" {
		return suite.Environment{}, fmt.Errorf("EnvironmentDefined event missing data.uri")
	}
	return suite.Environment{EventID: startedEventID(event), Name: name, URI: uri, ID: id}, nil
}

type outcomeFields struct {
	Conclusion  string
	Description string
}

func activityOutcome(event map[string]interface{}) outcomeFields {
	data, ok := event["data"].(map[string]interface{})
	if !ok {
		return outcomeFields{}
	}
	outcome, ok := data["outcome"].(map[string]interface{})
	if !ok {
		return outcomeFields{}
	}
	fields := outcomeFields{}
	if s, ok := outcome["conclusion"].(string); ok {
		fields.Conclusion = s
	}
	if s, ok := outcome["description"].(string); ok {
		fields.Description = s
	}
	return fields
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorKind(err error) string {
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
