package addressing

import (
	"fmt"
	"regexp"
)

// identifierPattern is the character set allowed in an AgentId/TopicId
// component: alphanumeric or underscore.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// canonicalPattern splits a "type/key" canonical string into its two
// named components.
var canonicalPattern = regexp.MustCompile(`^(?P<a>\w+)/(?P<b>\w+)$`)

// FormatError is returned when an identifier or its canonical string form
// fails validation.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("addressing: invalid format %q: %s", e.Value, e.Reason)
}

func validateComponent(name, value string) error {
	if !identifierPattern.MatchString(value) {
		return &FormatError{Value: value, Reason: fmt.Sprintf("%s must match %s", name, identifierPattern.String())}
	}
	return nil
}

// AgentId identifies one agent instance by its registered type and an
// instance key unique within that type.
type AgentId struct {
	Type string
	Key  string
}

// NewAgentId validates type and key and returns an AgentId.
func NewAgentId(agentType, key string) (AgentId, error) {
	if err := validateComponent("type", agentType); err != nil {
		return AgentId{}, err
	}
	if err := validateComponent("key", key); err != nil {
		return AgentId{}, err
	}
	return AgentId{Type: agentType, Key: key}, nil
}

// String returns the canonical "type/key" form.
func (a AgentId) String() string {
	return a.Type + "/" + a.Key
}

// IsZero reports whether a is the zero value (no type/key set).
func (a AgentId) IsZero() bool {
	return a.Type == "" && a.Key == ""
}

// ParseAgentId parses the canonical "type/key" form produced by String.
func ParseAgentId(s string) (AgentId, error) {
	m := canonicalPattern.FindStringSubmatch(s)
	if m == nil {
		return AgentId{}, &FormatError{Value: s, Reason: "expected type/key"}
	}
	return NewAgentId(m[1], m[2])
}

// DefaultTopicSource is used for a TopicId whose source was omitted.
const DefaultTopicSource = "default"

// TopicId identifies a pub/sub channel by message type and an originating
// source, defaulting source to DefaultTopicSource.
type TopicId struct {
	Type   string
	Source string
}

// NewTopicId validates type/source and applies the default source.
func NewTopicId(topicType, source string) (TopicId, error) {
	if source == "" {
		source = DefaultTopicSource
	}
	if err := validateComponent("type", topicType); err != nil {
		return TopicId{}, err
	}
	if err := validateComponent("source", source); err != nil {
		return TopicId{}, err
	}
	return TopicId{Type: topicType, Source: source}, nil
}

// String returns the canonical "type/source" form.
func (t TopicId) String() string {
	return t.Type + "/" + t.Source
}

// ParseTopicId parses the canonical "type/source" form produced by String.
func ParseTopicId(s string) (TopicId, error) {
	m := canonicalPattern.FindStringSubmatch(s)
	if m == nil {
		return TopicId{}, &FormatError{Value: s, Reason: "expected type/source"}
	}
	return NewTopicId(m[1], m[2])
}
