package environment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReleaseSingleOperatorModeDeletesEnvironment(t *testing.T) {
	k8s := &fakeK8s{}
	r := &Releaser{K8s: k8s, Namespace: "default", Operator: true}
	if err := r.ReleaseSingle(context.Background(), "env-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(k8s.deleted) != 1 || k8s.deleted[0] != "env-1" {
		t.Fatalf("expected env-1 to be deleted, got %v", k8s.deleted)
	}
}

func TestReleaseSingleDirectModeCallsProvider(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		called = true
		if req.URL.Query().Get("single_release") != "env-1" {
			t.Errorf("expected single_release=env-1, got %s", req.URL.RawQuery)
		}
	}))
	defer srv.Close()

	r := &Releaser{Provider: NewProvider(srv.URL, srv.Client()), Operator: false}
	if err := r.ReleaseSingle(context.Background(), "env-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the provider to be called")
	}
}

func TestReleaseFullNoOpInOperatorMode(t *testing.T) {
	r := &Releaser{Operator: true}
	if err := r.ReleaseFull(context.Background(), "testrun-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReleaseFullSurfacesFailureAsReleaseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := &Releaser{Provider: NewProvider(srv.URL, srv.Client()), Operator: false}
	err := r.ReleaseFull(context.Background(), "testrun-1")
	if err == nil {
		t.Fatal("expected an error")
	}
}
