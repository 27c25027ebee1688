// Command suite-runner is the process entry point for one testrun
// (§1, §6). It is glue only: load Parameters, build the collaborator
// clients, run the Runner, write the termination log, and set the
// exit code. All orchestration logic lives in internal/runner and the
// packages it calls.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/eiffel-community/etos-suite-runner-go/internal/config"
	"github.com/eiffel-community/etos-suite-runner-go/internal/environment"
	"github.com/eiffel-community/etos-suite-runner-go/internal/eventbus"
	"github.com/eiffel-community/etos-suite-runner-go/internal/executor"
	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
	"github.com/eiffel-community/etos-suite-runner-go/internal/orchestrator"
	"github.com/eiffel-community/etos-suite-runner-go/internal/runner"
)

const terminationLogPath = "/dev/termination-log"

func main() {
	if err := logging.ConfigureFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}
	defer logging.L().Sync() //nolint:errcheck

	os.Exit(run())
}

func run() int {
	params := config.FromEnv()

	httpClient := &http.Client{Timeout: params.DefaultHTTPTimeout}

	redisClient := redis.NewClient(&redis.Options{Addr: params.RedisURL})
	defer redisClient.Close()

	publisher := eventbus.NewPublisher(redisClient)
	query := eventbus.New(params.GraphQLServer, httpClient)
	provider := environment.NewProvider(params.EnvironmentProviderHost, httpClient)
	envStatus := &environment.Status{}

	k8sClient, err := newK8sClient()
	if err != nil && params.OperatorMode() {
		logging.S().Warnw("failed to build kubernetes client for operator mode", "error", err)
	}

	releaser := &environment.Releaser{
		Provider:  provider,
		K8s:       k8sClient,
		Namespace: params.K8sNamespace,
		Operator:  params.OperatorMode(),
	}
	requester := &environment.Requester{
		Status:    envStatus,
		Provider:  provider,
		K8s:       k8sClient,
		Namespace: params.K8sNamespace,
	}
	execClient := executor.New(params.DefaultHTTPTimeout, params.EncryptionKey)

	var term runner.Terminator
	stopSignals := term.ListenForSignals()
	defer stopSignals()

	r := &runner.Runner{
		Params:     params,
		Publisher:  publisher,
		Query:      query,
		Releaser:   releaser,
		EnvStatus:  envStatus,
		Requester:  requester,
		HTTPClient: httpClient,
		NewOrchestrator: func(activityID string) *orchestrator.Orchestrator {
			return &orchestrator.Orchestrator{
				Query:      query,
				Publisher:  publisher,
				Releaser:   releaser,
				EnvStatus:  envStatus,
				HTTPClient: httpClient,
				ActivityID: activityID,
				Product:    params.Product(),
				WorkerFactory: func() *orchestrator.SubSuiteWorker {
					return &orchestrator.SubSuiteWorker{
						Executor:      execClient,
						Query:         query,
						Releaser:      releaser,
						ResultTimeout: params.DefaultTestResultTimeout,
					}
				},
			}
		},
	}

	ctx := term.WithCancellation(context.Background())
	outcome := r.Run(ctx)

	verdict, conclusion, description := outcomeToTriple(outcome)
	if err := runner.WriteTerminationLog(terminationLogPath, verdict, conclusion, description); err != nil {
		logging.S().Errorw("failed to write termination log", "error", err)
	}

	if outcome.Err != nil {
		logging.S().Errorw("testrun failed", "error", outcome.Err)
		return 1
	}
	if outcome.Verdict.Verdict == orchestrator.VerdictFailed {
		return 1
	}
	return 0
}

func outcomeToTriple(outcome runner.Outcome) (verdict, conclusion, description string) {
	if outcome.Err != nil {
		return orchestrator.VerdictInconclusive, orchestrator.ConclusionFailed, outcome.Err.Error()
	}
	return outcome.Verdict.Verdict, outcome.Verdict.Conclusion, outcome.Verdict.Description
}

// newK8sClient builds the dynamic client operator mode needs for
// EnvironmentRequest/Environment CRD access, preferring in-cluster
// config and falling back to KUBECONFIG the way a locally-run testrun
// (outside the cluster) would need to (cf. the teacher's own
// clientcmd.BuildConfigFromFlags use in pkg/runner/cluster_k8s.go).
func newK8sClient() (environment.K8sClient, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		cfg, err = clientcmd.BuildConfigFromFlags("", os.Getenv("KUBECONFIG"))
		if err != nil {
			return nil, fmt.Errorf("building kubernetes config: %w", err)
		}
	}
	cfg.Timeout = 30 * time.Second
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}
	return environment.NewK8sClient(dyn), nil
}
