package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eiffel-community/etos-suite-runner-go/internal/logging"
)

// streamKey is the Redis stream every published event is appended to.
// A log listener sidecar tailing this key sees exactly what this
// engine sent to the bus, in order - the same single-stream shape the
// originating runner's sync service used for its own signal events.
const streamKey = "etos:events"

// Publisher appends Eiffel events to the Redis stream backing the
// event bus with XAdd. The stream is one-way (fire-and-forget
// publish); there are no barrier semantics to wait on.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish appends ev to the stream, returning the assigned entry ID.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshaling %s: %w", ev.Meta.Type, err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"type":  ev.Meta.Type,
			"event": string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publishing %s: %w", ev.Meta.Type, err)
	}
	logging.S().Debugw("published event", "type", ev.Meta.Type, "streamID", id)
	return id, nil
}

// PublishActivityTriggered sends the first event of a testrun,
// CAUSEd by the artifact created event that kicked it off.
func (p *Publisher) PublishActivityTriggered(ctx context.Context, artifactID string, data map[string]interface{}) (string, error) {
	ev := NewEvent(TypeActivityTriggered, []Link{{Type: LinkCause, Target: artifactID}}, data)
	return p.Publish(ctx, ev)
}

// PublishActivityStarted sends the ActivityStarted event CONTEXT-
// linked to the triggering activity.
func (p *Publisher) PublishActivityStarted(ctx context.Context, activityID string) (string, error) {
	ev := NewEvent(TypeActivityStarted, []Link{{Type: LinkContext, Target: activityID}}, map[string]interface{}{})
	return p.Publish(ctx, ev)
}

// ActivityOutcome is the minimal conclusion/description pair the
// ActivityFinished event carries in its data payload.
type ActivityOutcome struct {
	Conclusion  string `json:"conclusion"`
	Description string `json:"description,omitempty"`
}

// PublishActivityFinished sends the terminal ActivityFinished event
// for a successfully-run (or cleanly-failed) testrun.
func (p *Publisher) PublishActivityFinished(ctx context.Context, activityID string, outcome ActivityOutcome) (string, error) {
	ev := NewEvent(TypeActivityFinished, []Link{{Type: LinkContext, Target: activityID}}, map[string]interface{}{
		"outcome": outcome,
	})
	return p.Publish(ctx, ev)
}

// PublishActivityCanceled sends the terminal event for a testrun that
// was aborted before it could produce a verdict (e.g. ConfigError).
func (p *Publisher) PublishActivityCanceled(ctx context.Context, activityID, reason string) (string, error) {
	ev := NewEvent(TypeActivityCanceled, []Link{{Type: LinkContext, Target: activityID}}, map[string]interface{}{
		"reason": reason,
	})
	return p.Publish(ctx, ev)
}

// PublishAnnouncement sends a user-facing announcement with the given
// severity; the Runner uses it to report a configuration error before
// canceling the activity.
func (p *Publisher) PublishAnnouncement(ctx context.Context, contextID, heading, body, severity string) (string, error) {
	ev := NewEvent(TypeAnnouncementPublished, []Link{{Type: LinkContext, Target: contextID}}, map[string]interface{}{
		"heading": heading,
		"body":    body,
		"severity": severity,
	})
	return p.Publish(ctx, ev)
}

// PublishTestExecutionRecipeCollectionCreated self-publishes the
// recipe collection event for testrunID, CAUSEd by the artifact under
// test (`_send_tercc` in the originating implementation). Only needed
// in operator mode, where the controller that created the
// EnvironmentRequest resources may not have put one on the bus itself
// (§6); its id is fixed to testrunID so TestSuiteStarted's TERC link
// resolves to it directly. The payload mirrors `_send_tercc` exactly:
// a selectionStrategy stamped with a fresh id, and the batchesUri the
// controller sourced recipes from.
func (p *Publisher) PublishTestExecutionRecipeCollectionCreated(ctx context.Context, testrunID, causeID, batchesURI string) (string, error) {
	data := map[string]interface{}{
		"selectionStrategy": map[string]interface{}{
			"tracker": "Suite Builder",
			"id":      uuid.NewString(),
		},
		"batchesUri": batchesURI,
	}
	var links []Link
	if causeID != "" {
		links = []Link{{Type: LinkCause, Target: causeID}}
	}
	ev := NewEventWithID(testrunID, TypeTestExecutionRecipeCollectionCreated, links, data)
	return p.Publish(ctx, ev)
}

// PublishTestSuiteStarted announces that a main suite's execution has
// begun. Its event id is fixed to mainSuiteID (§6) so downstream
// TestSuiteStarted lookups are a single indexed query rather than a
// link traversal.
func (p *Publisher) PublishTestSuiteStarted(ctx context.Context, mainSuiteID, activityID, testrunID, name, product string) (string, error) {
	categories := []string{"Regression test suite"}
	if product != "" {
		categories = append(categories, product)
	}
	data := map[string]interface{}{
		"name":       name,
		"categories": categories,
		"types":      []string{"FUNCTIONAL"},
	}
	links := []Link{
		{Type: LinkContext, Target: activityID},
		{Type: LinkTERC, Target: testrunID},
	}
	ev := NewEventWithID(mainSuiteID, TypeTestSuiteStarted, links, data)
	return p.Publish(ctx, ev)
}
