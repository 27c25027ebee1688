package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
)

func TestRunTestsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(0, "")
	c.BaseClient = srv.Client()
	def := suite.SubSuiteDefinition{
		Executor: suite.Executor{
			Request: suite.ExecutorRequest{Method: http.MethodPost, URL: srv.URL, JSON: map[string]string{"foo": "bar"}},
		},
	}
	if err := c.RunTests(context.Background(), def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunTestsJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	c := New(0, "")
	c.BaseClient = srv.Client()
	def := suite.SubSuiteDefinition{
		Executor: suite.Executor{Request: suite.ExecutorRequest{Method: http.MethodGet, URL: srv.URL}},
	}
	err := c.RunTests(context.Background(), def)
	var startErr *errs.TestStartError
	if err == nil {
		t.Fatal("expected an error")
	}
	if !asTestStartError(err, &startErr) {
		t.Fatalf("expected a TestStartError, got %T: %v", err, err)
	}
	if startErr.Body["error"] != "nope" {
		t.Fatalf("expected body error 'nope', got %v", startErr.Body)
	}
}

func TestRunTestsNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("gateway exploded"))
	}))
	defer srv.Close()

	c := New(0, "")
	c.BaseClient = srv.Client()
	def := suite.SubSuiteDefinition{
		Executor: suite.Executor{Request: suite.ExecutorRequest{Method: http.MethodGet, URL: srv.URL}},
	}
	err := c.RunTests(context.Background(), def)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "gateway exploded") {
		t.Fatalf("expected the error to carry the response body text, got %v", err)
	}
}

func TestRunTestsBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "wonderland" {
			t.Errorf("expected basic auth alice/wonderland, got ok=%v user=%s pass=%s", ok, user, pass)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(0, "")
	c.BaseClient = srv.Client()
	def := suite.SubSuiteDefinition{
		Executor: suite.Executor{Request: suite.ExecutorRequest{
			Method: http.MethodGet,
			URL:    srv.URL,
			Auth:   &suite.ExecutorAuth{Username: "alice", Password: "wonderland", Type: "basic"},
		}},
	}
	if err := c.RunTests(context.Background(), def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func asTestStartError(err error, target **errs.TestStartError) bool {
	e, ok := err.(*errs.TestStartError)
	if ok {
		*target = e
	}
	return ok
}
