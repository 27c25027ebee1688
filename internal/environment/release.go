package environment

import (
	"context"
	"time"

	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
	"github.com/eiffel-community/etos-suite-runner-go/internal/tracing"
)

const releaseTimeout = 60 * time.Second

// Releaser performs the single and full environment release
// operations (§4.6, §4.7). Release failures are logged only - they
// must never mask the verdict a testrun already computed (§4.7, §7).
type Releaser struct {
	Provider   *Provider
	K8s        K8sClient
	Namespace  string
	Operator   bool
}

// ReleaseSingle releases one environment. In operator mode this
// deletes the Environment resource by executorID; otherwise it calls
// the provider's single_release endpoint. Idempotent: a second call
// for an already-released environment is expected to no-op server
// side.
func (r *Releaser) ReleaseSingle(ctx context.Context, executorID string) error {
	ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "release_environment")
	defer span.End()

	var err error
	if r.Operator {
		err = r.K8s.DeleteEnvironment(ctx, r.Namespace, executorID)
	} else {
		err = r.Provider.ReleaseSingle(ctx, executorID)
	}
	if err != nil {
		wrapped := &errs.ReleaseError{Cause: err}
		tracing.RecordError(span, "ReleaseError", wrapped)
		logging.S().Errorw("failed to release environment", "executorId", executorID, "error", err)
		return wrapped
	}
	return nil
}

// ReleaseFull releases every environment owned by testrunID: the
// unconditional exit-path release the Runner invokes (§4.7).
// SuiteOrchestrators do not call it; they release their own sub-suite
// environments one by one through ReleaseSingle. Only meaningful in
// direct mode - in
// operator mode each environment is released individually as its
// SubSuite finishes, and the controller owns any leftover cleanup.
func (r *Releaser) ReleaseFull(ctx context.Context, testrunID string) error {
	if r.Operator {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "release_environment")
	defer span.End()

	if err := r.Provider.ReleaseFull(ctx, testrunID); err != nil {
		wrapped := &errs.ReleaseError{Cause: err}
		tracing.RecordError(span, "ReleaseError", wrapped)
		logging.S().Errorw("failed to release full environment", "testrunId", testrunID, "error", err)
		return wrapped
	}
	return nil
}
