package config

import (
	"context"
	"net/http"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestFromEnvOperatorMode(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                       "suite-runner.example",
		"IDENTIFIER":                        "operator-1",
		"TERCC":                             `[]`,
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT":  "120",
	})
	p := FromEnv()
	if !p.OperatorMode() {
		t.Fatal("expected operator mode when IDENTIFIER is set")
	}
	if p.WaitForEnvironmentTimeout.Seconds() != 120 {
		t.Fatalf("expected 120s timeout, got %v", p.WaitForEnvironmentTimeout)
	}
	id := p.TestrunID(func() string { return "should-not-be-called" })
	if id != "operator-1" {
		t.Fatalf("expected testrun id operator-1, got %q", id)
	}
}

func TestFromEnvDirectModeGeneratesIDOnce(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                       "suite-runner.example",
		"TERCC":                             `[]`,
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT":  "60",
	})
	p := FromEnv()
	if p.OperatorMode() {
		t.Fatal("expected direct mode when IDENTIFIER is unset")
	}
	calls := 0
	gen := func() string { calls++; return "generated-id" }
	first := p.TestrunID(gen)
	second := p.TestrunID(gen)
	if first != "generated-id" || second != "generated-id" {
		t.Fatalf("expected generated-id both times, got %q and %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("expected gen to be called exactly once, got %d", calls)
	}
}

func TestVerifyRequiredFailsWhenTERCCMissing(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                      "suite-runner.example",
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT": "60",
	})
	t.Setenv("TERCC", "")
	p := FromEnv()
	if err := p.VerifyRequired(); err == nil {
		t.Fatal("expected an error when TERCC is missing")
	}
}

func TestVerifyRequiredPasses(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                      "suite-runner.example",
		"TERCC":                            `[]`,
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT": "60",
	})
	p := FromEnv()
	if err := p.VerifyRequired(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProductResolvesOnceFromIdentity(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                      "suite-runner.example",
		"TERCC":                            `[]`,
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT": "60",
		"IDENTITY":                         "pkg:github/eiffel-community/etos",
	})
	p := FromEnv()
	if got := p.Product(); got != "etos" {
		t.Fatalf("expected product etos, got %q", got)
	}
}

func TestSuiteSourceDefaultsWhenUnset(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                      "suite-runner.example",
		"TERCC":                            `[]`,
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT": "60",
	})
	p := FromEnv()
	if p.SuiteSource != "Unknown" {
		t.Fatalf("expected default suite source Unknown, got %q", p.SuiteSource)
	}
}

func TestTestSuitesParsesEmptyList(t *testing.T) {
	withEnv(t, map[string]string{
		"SOURCE_HOST":                      "suite-runner.example",
		"TERCC":                            `[]`,
		"ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT": "60",
	})
	p := FromEnv()
	suites, err := p.TestSuites(context.Background(), http.DefaultClient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(suites) != 0 {
		t.Fatalf("expected no suites, got %d", len(suites))
	}
}
