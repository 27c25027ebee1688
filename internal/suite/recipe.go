package suite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// validate is shared process-wide per the validator package's own
// guidance: it caches struct tag reflection and is safe for
// concurrent use.
var validate = validator.New()

// ValidateRecipes structurally checks every recipe in suites - each
// must carry a non-empty id and an Execution with both Command and
// TestRunner set, the minimum ExecutorClient needs to build its HTTP
// request template. A suite with zero recipes is untouched: the
// "empty suite" case (§4.5) is a valid input, not a validation
// failure.
func ValidateRecipes(suites []MainSuite) error {
	for _, ms := range suites {
		for _, r := range ms.Recipes {
			if err := validate.Struct(r); err != nil {
				return fmt.Errorf("suite %q recipe %q: %w", ms.Name, r.ID, err)
			}
		}
	}
	return nil
}

// tercc mirrors the two shapes the TERCC environment variable can take
// (spec §6): an Eiffel TestExecutionRecipeCollectionCreated-shaped
// event, or — in the pre-shaped case — a bare JSON array of batches.
type tercc struct {
	Meta struct {
		ID string `json:"id"`
	} `json:"meta"`
	Data struct {
		Batches    []batch `json:"batches"`
		BatchesURI string  `json:"batchesUri"`
	} `json:"data"`
}

// batch is a single TERCC batch: one main suite's worth of recipes,
// or (pre-shaped input) its already-resolved tests.
type batch struct {
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Recipes  []recipe `json:"recipes"`
	Tests    []test   `json:"tests"`
}

type recipe struct {
	ID          string       `json:"id"`
	Constraints []constraint `json:"constraints"`
	TestCase    rawTestCase  `json:"testCase"`
}

type constraint struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type test struct {
	ID        string      `json:"id"`
	Execution Execution   `json:"execution"`
	TestCase  rawTestCase `json:"testCase"`
}

type rawTestCase struct {
	ID      string `json:"id"`
	Tracker string `json:"tracker"`
	URI     string `json:"uri"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

func (t rawTestCase) toTestCase() TestCase {
	uri := t.URI
	if uri == "" {
		uri = t.URL
	}
	version := t.Version
	if version == "" {
		version = "master"
	}
	return TestCase{ID: t.ID, Tracker: t.Tracker, URI: uri, Version: version}
}

// HTTPDoer is the minimal interface ParseTERCC needs to resolve a
// batchesUri indirection; satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ParseTERCC parses the TERCC environment variable into an ordered
// list of MainSuites. It follows original_source's
// Suite.from_tercc/tests_from_recipes mapping: an Eiffel TERCC event's
// recipes carry execution directives as a list of {key, value}
// constraints, while a pre-shaped suite list carries already-resolved
// "tests". Either shape may be given; main suite IDs are assigned by
// the caller (direct mode: fresh UUIDs; operator mode: EnvironmentRequest
// readback), not here.
func ParseTERCC(ctx context.Context, raw []byte, client HTTPDoer) ([]MainSuite, error) {
	var asList []batch
	if err := json.Unmarshal(raw, &asList); err == nil {
		suites := mainSuitesFromBatches(asList)
		if err := ValidateRecipes(suites); err != nil {
			return nil, err
		}
		return suites, nil
	}

	var t tercc
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("tercc is neither a suite list nor a recipe collection event: %w", err)
	}

	batches := t.Data.Batches
	if len(batches) > 0 && t.Data.BatchesURI != "" {
		return nil, fmt.Errorf("only one of 'batches' or 'batchesUri' shall be set")
	}
	if len(batches) == 0 && t.Data.BatchesURI == "" {
		return nil, fmt.Errorf("at least one of 'batches' or 'batchesUri' shall be set")
	}
	if len(batches) == 0 {
		downloaded, err := downloadBatches(ctx, t.Data.BatchesURI, client)
		if err != nil {
			return nil, fmt.Errorf("downloading batchesUri: %w", err)
		}
		batches = downloaded
	}
	suites := mainSuitesFromBatches(batches)
	if err := ValidateRecipes(suites); err != nil {
		return nil, err
	}
	return suites, nil
}

func downloadBatches(ctx context.Context, uri string, client HTTPDoer) ([]batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching batchesUri", resp.StatusCode)
	}
	var batches []batch
	if err := json.NewDecoder(resp.Body).Decode(&batches); err != nil {
		return nil, err
	}
	return batches, nil
}

func mainSuitesFromBatches(batches []batch) []MainSuite {
	suites := make([]MainSuite, 0, len(batches))
	for _, b := range batches {
		priority := b.Priority
		if priority == 0 {
			priority = 1
		}
		var recipes []Recipe
		if len(b.Tests) > 0 {
			recipes = make([]Recipe, 0, len(b.Tests))
			for _, t := range b.Tests {
				recipes = append(recipes, Recipe{ID: t.ID, Execution: t.Execution, TestCase: t.TestCase.toTestCase()})
			}
		} else {
			recipes = recipesFromConstraints(b.Recipes)
		}
		suites = append(suites, MainSuite{Name: b.Name, Priority: priority, Recipes: recipes})
	}
	return suites
}

// recipesFromConstraints maps each recipe's {key, value} constraint
// list onto Execution fields, following original_source's
// tests_from_recipes constant-key table exactly.
func recipesFromConstraints(raw []recipe) []Recipe {
	recipes := make([]Recipe, 0, len(raw))
	for _, r := range raw {
		var exec Execution
		for _, c := range r.Constraints {
			switch c.Key {
			case "ENVIRONMENT":
				exec.Environment = toStringMap(c.Value)
			case "PARAMETERS":
				exec.Parameters = toStringMap(c.Value)
			case "COMMAND":
				if s, ok := c.Value.(string); ok {
					exec.Command = s
				}
			case "EXECUTE":
				exec.Execute = toStringSlice(c.Value)
			case "CHECKOUT":
				exec.Checkout = toStringSlice(c.Value)
			case "TEST_RUNNER":
				if s, ok := c.Value.(string); ok {
					exec.TestRunner = s
				}
			}
		}
		recipes = append(recipes, Recipe{ID: r.ID, Execution: exec, TestCase: r.TestCase.toTestCase()})
	}
	return recipes
}

func toStringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}

func toStringSlice(v interface{}) []string {
	s, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, val := range s {
		out = append(out, fmt.Sprintf("%v", val))
	}
	return out
}
