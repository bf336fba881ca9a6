package addressing

import "testing"

func TestAgentIdRoundTrip(t *testing.T) {
	cases := []struct {
		agentType, key string
	}{
		{"echo", "alice"},
		{"task_worker", "instance_1"},
		{"A1", "B2"},
	}

	for _, c := range cases {
		id, err := NewAgentId(c.agentType, c.key)
		if err != nil {
			t.Fatalf("NewAgentId(%q, %q) returned error: %v", c.agentType, c.key, err)
		}

		parsed, err := ParseAgentId(id.String())
		if err != nil {
			t.Fatalf("ParseAgentId(%q) returned error: %v", id.String(), err)
		}

		if parsed != id {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", parsed, id)
		}
	}
}

func TestAgentIdInvalid(t *testing.T) {
	invalid := []string{"", "type/", "/key", "ty pe/key", "type/key/extra", "type-bad/key"}
	for _, s := range invalid {
		if _, err := ParseAgentId(s); err == nil {
			t.Fatalf("ParseAgentId(%q) expected FormatError, got nil", s)
		}
	}

	if _, err := NewAgentId("bad type", "key"); err == nil {
		t.Fatal("NewAgentId with invalid type expected error")
	}
}

func TestTopicIdDefaultSource(t *testing.T) {
	topic, err := NewTopicId("news", "")
	if err != nil {
		t.Fatalf("NewTopicId returned error: %v", err)
	}
	if topic.Source != DefaultTopicSource {
		t.Fatalf("expected default source %q, got %q", DefaultTopicSource, topic.Source)
	}
	if topic.String() != "news/default" {
		t.Fatalf("unexpected canonical form: %s", topic.String())
	}
}

func TestTopicIdRoundTrip(t *testing.T) {
	topic, err := NewTopicId("alerts", "sensor1")
	if err != nil {
		t.Fatalf("NewTopicId returned error: %v", err)
	}
	parsed, err := ParseTopicId(topic.String())
	if err != nil {
		t.Fatalf("ParseTopicId returned error: %v", err)
	}
	if parsed != topic {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", parsed, topic)
	}
}
