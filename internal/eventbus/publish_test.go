package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestPublisher(t *testing.T) (*Publisher, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewPublisher(client), client, mr
}

func TestPublishActivityTriggeredAppendsToStream(t *testing.T) {
	p, client, mr := newTestPublisher(t)
	defer mr.Close()

	id, err := p.PublishActivityTriggered(context.Background(), "art-1", map[string]interface{}{
		"executionType": "AUTOMATED",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty stream entry id")
	}

	entries, err := client.XRange(context.Background(), streamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("unexpected error reading stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Values["type"] != TypeActivityTriggered {
		t.Fatalf("expected type %s, got %v", TypeActivityTriggered, entries[0].Values["type"])
	}

	var ev Event
	if err := json.Unmarshal([]byte(entries[0].Values["event"].(string)), &ev); err != nil {
		t.Fatalf("event payload did not round-trip: %v", err)
	}
	if len(ev.Links) != 1 || ev.Links[0].Type != LinkCause || ev.Links[0].Target != "art-1" {
		t.Fatalf("unexpected links: %+v", ev.Links)
	}
}

func TestPublishActivityFinishedCarriesOutcome(t *testing.T) {
	p, client, mr := newTestPublisher(t)
	defer mr.Close()

	if _, err := p.PublishActivityFinished(context.Background(), "activity-1", ActivityOutcome{Conclusion: "SUCCESSFUL"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := client.XRange(context.Background(), streamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ev Event
	if err := json.Unmarshal([]byte(entries[0].Values["event"].(string)), &ev); err != nil {
		t.Fatalf("event payload did not round-trip: %v", err)
	}
	outcome, ok := ev.Data["outcome"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected outcome map, got %T", ev.Data["outcome"])
	}
	if outcome["conclusion"] != "SUCCESSFUL" {
		t.Fatalf("expected SUCCESSFUL conclusion, got %v", outcome["conclusion"])
	}
}
