package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "works-finished", map[string]int64{"work_id": 42})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "works-finished" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherPayloadsByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	for i := range 3 {
		topic := "works-finished"
		if i == 1 {
			topic = "other"
		}
		if _, err := pub.Publish(context.Background(), topic, i); err != nil {
			t.Fatal(err)
		}
	}
	got := pub.Payloads("works-finished")
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("unexpected payloads %v", got)
	}
	if pub.Payloads("missing") != nil {
		t.Fatal("expected nil for unknown topic")
	}
}
