package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// graphqlRequest is the envelope the event repository's GraphQL
// endpoint expects: a query string plus its variables.
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// node is one matched event as the event repository represents it:
// the raw Eiffel event.
type node struct {
	Event map[string]interface{} `json:"event"`
}

type edge struct {
	Node node `json:"node"`
}

type searchResult struct {
	Edges []edge `json:"edges"`
}

type graphqlResponse struct {
	Data struct {
		Search searchResult `json:"search"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query reads events back out of the event repository's GraphQL API.
// Every method here corresponds 1:1 to one of the originating
// implementation's graphql.py request_* helpers.
type Query struct {
	BaseURL string
	Client  HTTPDoer
}

// HTTPDoer is satisfied by *http.Client; kept local so this package
// does not force every caller to depend on net/http directly.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func New(baseURL string, client HTTPDoer) *Query {
	return &Query{BaseURL: baseURL, Client: client}
}

// search runs a single GraphQL search query and returns the raw
// event payloads it matched, newest first.
func (q *Query) search(ctx context.Context, filter map[string]interface{}) ([]map[string]interface{}, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: `query Search($filter: SearchFilter) {
			search(filter: $filter) { edges { node { event } } }
		}`,
		Variables: map[string]interface{}{"filter": filter},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := q.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("event repository returned status %d", resp.StatusCode)
	}
	var out graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("event repository: %s", out.Errors[0].Message)
	}
	events := make([]map[string]interface{}, 0, len(out.Data.Search.Edges))
	for _, e := range out.Data.Search.Edges {
		events = append(events, e.Node.Event)
	}
	return events, nil
}

// ArtifactCreated finds the EiffelArtifactCreatedEvent for id.
func (q *Query) ArtifactCreated(ctx context.Context, id string) (map[string]interface{}, error) {
	return q.findOne(ctx, map[string]interface{}{"id": id, "type": TypeArtifactCreated})
}

// TestSuiteStarted finds every EiffelTestSuiteStartedEvent caused by
// causeID (SubSuiteWorker passes the main suite id). Plural,
// not findOne: a MainSuite's own TestSuiteStarted shares main_suite_id
// with every one of its SubSuiteWorkers' started events, so a caller
// must scan the whole list and pick the one it cares about (by
// data.name) rather than assume there is only one.
func (q *Query) TestSuiteStarted(ctx context.Context, causeID string) ([]map[string]interface{}, error) {
	return q.search(ctx, map[string]interface{}{"cause": causeID, "type": TypeTestSuiteStarted})
}

// TestSuiteFinished finds the EiffelTestSuiteFinishedEvent whose
// CONTEXT link targets context. Returns nil with no error if the
// suite has not finished yet.
func (q *Query) TestSuiteFinished(ctx context.Context, contextID string) (map[string]interface{}, error) {
	return q.findOne(ctx, map[string]interface{}{"context": contextID, "type": TypeTestSuiteFinished})
}

// TestExecutionRecipeCollectionCreated finds the recipe collection
// event for testrunID, if one is already on the bus (operator mode's
// controller publishes one itself; direct mode never does, so this
// always returns nil there).
func (q *Query) TestExecutionRecipeCollectionCreated(ctx context.Context, testrunID string) (map[string]interface{}, error) {
	return q.findOne(ctx, map[string]interface{}{"id": testrunID, "type": TypeTestExecutionRecipeCollectionCreated})
}

// ActivityTriggered finds the EiffelActivityTriggeredEvent for the
// given testrun id.
func (q *Query) ActivityTriggered(ctx context.Context, testrunID string) (map[string]interface{}, error) {
	return q.findOne(ctx, map[string]interface{}{"id": testrunID, "type": TypeActivityTriggered})
}

// ActivityFinished finds the EiffelActivityFinishedEvent triggered by
// activityID, if the activity has already concluded.
func (q *Query) ActivityFinished(ctx context.Context, activityID string) (map[string]interface{}, error) {
	return q.findOne(ctx, map[string]interface{}{"cause": activityID, "type": TypeActivityFinished})
}

// EnvironmentDefined finds every EiffelEnvironmentDefinedEvent whose
// CONTEXT link targets contextID, the asynchronous replies to one
// EnvironmentRequest.
func (q *Query) EnvironmentDefined(ctx context.Context, contextID string) ([]map[string]interface{}, error) {
	return q.search(ctx, map[string]interface{}{"context": contextID, "type": TypeEnvironmentDefined})
}

func (q *Query) findOne(ctx context.Context, filter map[string]interface{}) (map[string]interface{}, error) {
	events, err := q.search(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// WaitFor polls fetch every interval until it returns a non-nil
// result, ctx is cancelled, or timeout elapses - the shape every
// bounded environment/result discovery loop in the orchestrator needs.
func WaitFor(ctx context.Context, timeout, interval time.Duration, fetch func(context.Context) (map[string]interface{}, error)) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		event, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
