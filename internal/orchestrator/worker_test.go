package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eiffel-community/etos-suite-runner-go/internal/eventbus"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
)

type fakeExecutor struct {
	err error
}

func (f *fakeExecutor) RunTests(ctx context.Context, def suite.SubSuiteDefinition) error {
	return f.err
}

type fakeReleaser struct {
	released []string
}

func (f *fakeReleaser) ReleaseSingle(ctx context.Context, executorID string) error {
	f.released = append(f.released, executorID)
	return nil
}

// busServer serves a tiny scripted sequence of GraphQL responses:
// the first call returns the started event, the second (and every
// call after) returns the finished event.
func busServer(t *testing.T, started, finished map[string]interface{}) *httptest.Server {
	t.Helper()
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var events []map[string]interface{}
		if calls == 1 && started != nil {
			events = []map[string]interface{}{started}
		} else if finished != nil {
			events = []map[string]interface{}{finished}
		}
		edges := make([]map[string]interface{}, 0, len(events))
		for _, e := range events {
			edges = append(edges, map[string]interface{}{"node": map[string]interface{}{"event": e}})
		}
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"search": map[string]interface{}{"edges": edges},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestSubSuiteWorkerHappyPath(t *testing.T) {
	started := map[string]interface{}{
		"meta": map[string]interface{}{"id": "started-1"},
		"data": map[string]interface{}{"name": "Suite_SubSuite_1"},
	}
	finished := map[string]interface{}{
		"data": map[string]interface{}{
			"outcome": map[string]interface{}{"verdict": "PASSED", "conclusion": "SUCCESSFUL", "description": "All tests passed."},
		},
	}
	srv := busServer(t, started, finished)
	defer srv.Close()

	releaser := &fakeReleaser{}
	worker := &SubSuiteWorker{
		Executor:      &fakeExecutor{},
		Query:         eventbus.New(srv.URL, srv.Client()),
		Releaser:      releaser,
		ResultTimeout: time.Second,
		PollInterval:  5 * time.Millisecond,
	}
	def := suite.SubSuiteDefinition{Name: "Suite_SubSuite_1", Executor: suite.Executor{ID: "env-1"}}
	outcome := worker.Run(context.Background(), def, "main-suite-1")

	if !outcome.Started || !outcome.Finished || outcome.Failed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Verdict.Verdict != "PASSED" {
		t.Fatalf("expected PASSED verdict, got %+v", outcome.Verdict)
	}
	if len(releaser.released) != 1 || releaser.released[0] != "env-1" {
		t.Fatalf("expected env-1 released exactly once, got %v", releaser.released)
	}
}

func TestSubSuiteWorkerExecutorFailureStillReleases(t *testing.T) {
	srv := busServer(t, nil, nil)
	defer srv.Close()

	releaser := &fakeReleaser{}
	worker := &SubSuiteWorker{
		Executor:      &fakeExecutor{err: &testStartError{}},
		Query:         eventbus.New(srv.URL, srv.Client()),
		Releaser:      releaser,
		ResultTimeout: 50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
	def := suite.SubSuiteDefinition{Name: "Suite_SubSuite_1", Executor: suite.Executor{ID: "env-1"}}
	outcome := worker.Run(context.Background(), def, "main-suite-1")

	if !outcome.Failed {
		t.Fatalf("expected Failed=true, got %+v", outcome)
	}
	if len(releaser.released) != 1 {
		t.Fatalf("expected exactly one release call, got %v", releaser.released)
	}
}

type testStartError struct{}

func (e *testStartError) Error() string { return "test start failed" }

func TestSubSuiteWorkerTimesOutWaitingForStart(t *testing.T) {
	srv := busServer(t, nil, nil)
	defer srv.Close()

	releaser := &fakeReleaser{}
	worker := &SubSuiteWorker{
		Executor:      &fakeExecutor{},
		Query:         eventbus.New(srv.URL, srv.Client()),
		Releaser:      releaser,
		ResultTimeout: 20 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
	def := suite.SubSuiteDefinition{Name: "Suite_SubSuite_1", Executor: suite.Executor{ID: "env-1"}}
	outcome := worker.Run(context.Background(), def, "main-suite-1")

	if outcome.Started || outcome.Failed {
		t.Fatalf("expected a never-started, non-failed outcome, got %+v", outcome)
	}
	if len(releaser.released) != 1 {
		t.Fatalf("expected exactly one release call, got %v", releaser.released)
	}
}
