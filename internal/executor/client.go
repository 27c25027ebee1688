package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eiffel-community/etos-suite-runner-go/internal/errs"
	"github.com/eiffel-community/etos-suite-runner-go/internal/suite"
	"github.com/eiffel-community/etos-suite-runner-go/internal/tracing"
)

// Client calls a Test Runner's HTTP endpoint as described by a
// SubSuiteDefinition's executor.request template. A single Client is
// shared by every SubSuiteWorker in the process, so its circuit
// breaker trips per-testrun: repeated connection failures to a Test
// Runner (a down host, a bad DNS entry) stop costing a full timeout
// per sub-suite once the breaker opens, instead failing fast with the
// same TestStartError a connection refusal would have produced.
type Client struct {
	HTTPTimeout   time.Duration
	EncryptionKey string
	BaseClient    *http.Client
	breaker       *gobreaker.CircuitBreaker
}

func New(httpTimeout time.Duration, encryptionKey string) *Client {
	return &Client{
		HTTPTimeout:   httpTimeout,
		EncryptionKey: encryptionKey,
		BaseClient:    http.DefaultClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "test-runner",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// RunTests issues the executor request for one SubSuiteDefinition.
// Success only means "the Test Runner accepted the job" - its actual
// work happens asynchronously and is observed later via EventQuery.
func (c *Client) RunTests(ctx context.Context, def suite.SubSuiteDefinition) error {
	ctx, span := tracing.StartSpan(ctx, "execute_testrunner")
	defer span.End()

	request := def.Executor.Request
	var bodyReader *bytes.Reader
	if request.JSON != nil {
		body, err := json.Marshal(request.JSON)
		if err != nil {
			startErr := &errs.TestStartError{Body: map[string]interface{}{"error": err.Error()}}
			tracing.RecordError(span, "TestStartError", startErr)
			return startErr
		}
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	httpCtx, cancel := context.WithTimeout(ctx, c.httpTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(httpCtx, request.Method, request.URL, bodyReader)
	if err != nil {
		startErr := &errs.TestStartError{Body: map[string]interface{}{"error": err.Error()}}
		tracing.RecordError(span, "TestStartError", startErr)
		return startErr
	}
	for k, v := range request.Headers {
		req.Header.Set(k, v)
	}
	if request.JSON != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.BaseClient
	if client == nil {
		client = http.DefaultClient
	}
	if request.Auth != nil {
		password, err := ResolvePassword(request.Auth.Password, c.EncryptionKey)
		if err != nil {
			startErr := &errs.TestStartError{Body: map[string]interface{}{"error": err.Error()}}
			tracing.RecordError(span, "TestStartError", startErr)
			return startErr
		}
		client = ClientFor(client, req, request.Auth.Username, password, request.Auth.Type)
	}

	respAny, err := c.breaker.Execute(func() (interface{}, error) {
		return client.Do(req)
	})
	if err != nil {
		startErr := &errs.TestStartError{Body: map[string]interface{}{"error": err.Error()}}
		tracing.RecordError(span, "TestStartError", startErr)
		return startErr
	}
	resp := respAny.(*http.Response)
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			raw = []byte(fmt.Sprintf("test runner returned status %d", resp.StatusCode))
		}
		var body map[string]interface{}
		if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
			body = map[string]interface{}{"error": string(raw)}
		}
		startErr := &errs.TestStartError{Body: body}
		tracing.RecordError(span, "TestStartError", startErr)
		return startErr
	}
	return nil
}

func (c *Client) httpTimeout() time.Duration {
	if c.HTTPTimeout > 0 {
		return c.HTTPTimeout
	}
	return 60 * time.Second
}
