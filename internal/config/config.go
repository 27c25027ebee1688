// Package config reads the orchestration engine's environment-supplied
// parameters and memoizes the handful of derived facts (the testrun id,
// the artifact event, the parsed TERCC, the product name), following
// Design Note 1's compute-once-then-cache discipline.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/eiffel-community/etos-suite-runner-go/internal/eventbus"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
)

// Parameters is the immutable configuration plus memoized derived
// facts for one process invocation. Zero value is not usable; build
// one with FromEnv.
type Parameters struct {
	SourceHost              string
	SuiteRunner             string
	Identifier              string
	ArtifactID              string
	IdentityPurl            string
	EncryptionKey           string
	// SuiteSource is reported as the batchesUri of a self-published
	// TERCC event (§6, operator mode only), mirroring the SUITE_SOURCE
	// environment variable the originating implementation reads for
	// the same purpose.
	SuiteSource               string
	WaitForEnvironmentTimeout time.Duration
	DefaultTestResultTimeout  time.Duration
	DefaultHTTPTimeout        time.Duration

	// GraphQLServer is the event repository's read endpoint
	// (EventQuery's transport, §3 "stateless lookup over an external
	// bus"). RedisURL is the stream the Publisher appends to.
	// EnvironmentProviderHost is the direct-mode provider boundary
	// (§6). K8sNamespace scopes operator-mode CRD lookups.
	GraphQLServer           string
	RedisURL                string
	EnvironmentProviderHost string
	K8sNamespace            string

	rawTERCC string

	testrunID    once[string]
	artifact     once[map[string]interface{}]
	tercc        once[[]suite.MainSuite]
	product      once[string]
}

// once mirrors internal/suite's once[T]: a sync.Once-style
// single-initialization cache, mutex-guarded so concurrent callers
// (Runner's per-MainSuite goroutines all read the same Parameters)
// never race on done/val.
type once[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
}

func (o *once[T]) get(compute func() (T, error)) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return o.val, nil
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	o.val = v
	o.done = true
	return o.val, nil
}

// OperatorMode reports whether IDENTIFIER was set, switching the
// environment request and release paths to Kubernetes-resource
// mechanics (§4.2, GLOSSARY "Operator mode").
func (p *Parameters) OperatorMode() bool {
	return p.Identifier != ""
}

// FromEnv loads Parameters from the process environment. It does not
// itself validate completeness - call VerifyRequired for that, as a
// distinct step per Runner's contract (§4.1 step 2).
func FromEnv() *Parameters {
	p := &Parameters{
		SourceHost:    os.Getenv("SOURCE_HOST"),
		SuiteRunner:   os.Getenv("SUITE_RUNNER"),
		Identifier:    os.Getenv("IDENTIFIER"),
		ArtifactID:    os.Getenv("ARTIFACT"),
		IdentityPurl:  os.Getenv("IDENTITY"),
		EncryptionKey: os.Getenv("ETOS_ENCRYPTION_KEY"),
		SuiteSource:   os.Getenv("SUITE_SOURCE"),
		rawTERCC:      os.Getenv("TERCC"),

		GraphQLServer:           os.Getenv("ETOS_GRAPHQL_SERVER"),
		RedisURL:                os.Getenv("ETOS_EVENT_REPOSITORY_STREAM"),
		EnvironmentProviderHost: os.Getenv("ETOS_ENVIRONMENT_PROVIDER"),
		K8sNamespace:            os.Getenv("ETOS_NAMESPACE"),

		DefaultTestResultTimeout: 3600 * time.Second,
		DefaultHTTPTimeout:       60 * time.Second,
	}
	if secs := os.Getenv("DEFAULT_TEST_RESULT_TIMEOUT"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			p.DefaultTestResultTimeout = time.Duration(n) * time.Second
		}
	}
	if secs := os.Getenv("DEFAULT_HTTP_TIMEOUT"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			p.DefaultHTTPTimeout = time.Duration(n) * time.Second
		}
	}
	if p.K8sNamespace == "" {
		p.K8sNamespace = "default"
	}
	if p.SuiteSource == "" {
		p.SuiteSource = "Unknown"
	}
	p.WaitForEnvironmentTimeout = 3600 * time.Second
	if raw := os.Getenv("ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			p.WaitForEnvironmentTimeout = time.Duration(secs) * time.Second
		}
	}
	return p
}

// VerifyRequired asserts the inputs the Runner cannot proceed without:
// SOURCE_HOST, a non-empty TERCC and ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT.
// Anything else (ARTIFACT, IDENTITY) is optional.
func (p *Parameters) VerifyRequired() error {
	var missing []string
	if p.SourceHost == "" {
		missing = append(missing, "SOURCE_HOST")
	}
	if p.rawTERCC == "" {
		missing = append(missing, "TERCC")
	}
	if os.Getenv("ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT") == "" {
		missing = append(missing, "ESR_WAIT_FOR_ENVIRONMENT_TIMEOUT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required configuration missing: %v", missing)
	}
	return nil
}

// TestrunID resolves the testrun id: operator mode takes it straight
// from IDENTIFIER; direct mode generates it once via gen and caches it
// for the lifetime of the process (it is the correlation key for
// every subsequent bus lookup).
func (p *Parameters) TestrunID(gen func() string) string {
	id, _ := p.testrunID.get(func() (string, error) {
		if p.OperatorMode() {
			return p.Identifier, nil
		}
		return gen(), nil
	})
	return id
}

// Artifact resolves the IUT's ArtifactCreated event by looking it up on
// the bus by the ARTIFACT id, once. It returns an error when ARTIFACT is
// unset; there is no other way to find the artifact.
func (p *Parameters) Artifact(ctx context.Context, q *eventbus.Query) (map[string]interface{}, error) {
	return p.artifact.get(func() (map[string]interface{}, error) {
		id := p.ArtifactID
		if id == "" {
			return nil, fmt.Errorf("no ARTIFACT id configured and no bus lookup strategy available")
		}
		event, err := q.ArtifactCreated(ctx, id)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return nil, fmt.Errorf("artifact created event %s not found on bus", id)
		}
		return event, nil
	})
}

// TestSuites parses rawTERCC into the ordered MainSuite list, once.
func (p *Parameters) TestSuites(ctx context.Context, client suite.HTTPDoer) ([]suite.MainSuite, error) {
	return p.tercc.get(func() ([]suite.MainSuite, error) {
		return suite.ParseTERCC(ctx, []byte(p.rawTERCC), client)
	})
}

// Product resolves the human-readable product name from IDENTITY,
// once. Empty IDENTITY resolves to an empty product rather than an
// error - product is descriptive metadata, not a correctness input.
func (p *Parameters) Product() string {
	name, _ := p.product.get(func() (string, error) {
		return suite.ProductName(p.IdentityPurl), nil
	})
	return name
}
