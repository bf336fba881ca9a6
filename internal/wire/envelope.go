package wire

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind discriminates the variant carried by an Envelope.
type Kind int

const (
	KindUnknown Kind = iota
	KindHello
	KindRequest
	KindResponse
	KindEvent
	KindAddSubscription
	KindAddSubscriptionResponse
	KindRemoveSubscription
	KindRemoveSubscriptionResponse
	KindRegisterAgentType
	KindRegisterAgentTypeResponse
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindEvent:
		return "Event"
	case KindAddSubscription:
		return "AddSubscription"
	case KindAddSubscriptionResponse:
		return "AddSubscriptionResponse"
	case KindRemoveSubscription:
		return "RemoveSubscription"
	case KindRemoveSubscriptionResponse:
		return "RemoveSubscriptionResponse"
	case KindRegisterAgentType:
		return "RegisterAgentType"
	case KindRegisterAgentTypeResponse:
		return "RegisterAgentTypeResponse"
	default:
		return "Unknown"
	}
}

// AgentId is the wire form of addressing.AgentId.
type AgentId struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// TopicId is the wire form of addressing.TopicId.
type TopicId struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// Hello is the first envelope the gateway sends on a newly opened
// channel, carrying the connection id the gateway assigned to it.
type Hello struct {
	ConnectionId string `json:"connection_id"`
}

// Request is a point-to-point call to a target AgentId.
type Request struct {
	RequestId string            `json:"request_id"`
	Source    AgentId           `json:"source"`
	Target    AgentId           `json:"target"`
	Method    string            `json:"method,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response answers a Request, correlated by RequestId.
type Response struct {
	RequestId string            `json:"request_id"`
	Payload   []byte            `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is published to a topic and fanned out to every subscribed agent
// type.
type Event struct {
	Id         string                     `json:"id"`
	Topic      TopicId                    `json:"topic"`
	Source     string                     `json:"source"`
	Payload    []byte                     `json:"payload"`
	Attributes map[string]*structpb.Value `json:"attributes,omitempty"`
}

// SubscriptionDescriptor is the wire form of addressing.Subscription.
type SubscriptionDescriptor struct {
	Id        string `json:"id,omitempty"`
	Kind      string `json:"kind"` // "exact" | "prefix"
	Topic     string `json:"topic"`
	AgentType string `json:"agent_type"`
}

// AddSubscription asks the gateway to register a subscription.
type AddSubscription struct {
	RequestId    string                 `json:"request_id"`
	Subscription SubscriptionDescriptor `json:"subscription"`
}

// AddSubscriptionResponse acknowledges AddSubscription.
type AddSubscriptionResponse struct {
	RequestId string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// RemoveSubscription asks the gateway to remove a subscription by ID.
type RemoveSubscription struct {
	RequestId string `json:"request_id"`
	Id        string `json:"id"`
}

// RemoveSubscriptionResponse acknowledges RemoveSubscription.
type RemoveSubscriptionResponse struct {
	RequestId string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// RegisterAgentType declares that the connecting worker can host agents
// of the given type.
type RegisterAgentType struct {
	RequestId string   `json:"request_id"`
	Type      string   `json:"type"`
	Events    []string `json:"events,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

// RegisterAgentTypeResponse acknowledges RegisterAgentType.
type RegisterAgentTypeResponse struct {
	RequestId string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Envelope is the tagged union carried by the OpenChannel stream. Exactly
// one of the pointer fields matching Kind is populated.
type Envelope struct {
	Kind Kind `json:"kind"`

	Hello                      *Hello                      `json:"hello,omitempty"`
	Request                    *Request                    `json:"request,omitempty"`
	Response                   *Response                   `json:"response,omitempty"`
	Event                      *Event                      `json:"event,omitempty"`
	AddSubscription            *AddSubscription            `json:"add_subscription,omitempty"`
	AddSubscriptionResponse    *AddSubscriptionResponse    `json:"add_subscription_response,omitempty"`
	RemoveSubscription         *RemoveSubscription         `json:"remove_subscription,omitempty"`
	RemoveSubscriptionResponse *RemoveSubscriptionResponse `json:"remove_subscription_response,omitempty"`
	RegisterAgentType          *RegisterAgentType          `json:"register_agent_type,omitempty"`
	RegisterAgentTypeResponse  *RegisterAgentTypeResponse  `json:"register_agent_type_response,omitempty"`
}

// AgentState is the persistence record: opaque payload bytes
// plus an optimistic-concurrency etag.
type AgentState struct {
	AgentId AgentId `json:"agent_id"`
	Etag    string  `json:"etag"`
	Payload []byte  `json:"payload,omitempty"`
	TypeUrl string  `json:"type_url,omitempty"`
}

// GetStateRequest is the unary GetState RPC request.
type GetStateRequest struct {
	AgentId AgentId `json:"agent_id"`
}

// SaveStateRequest is the unary SaveState RPC request.
type SaveStateRequest struct {
	State AgentState `json:"state"`
}

// SaveResponse is the unary SaveState RPC response.
type SaveResponse struct {
	Success bool   `json:"success"`
	NewEtag string `json:"new_etag,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AddSubscriptionRequest is the unary AddSubscription RPC request (as
// opposed to the in-stream AddSubscription control envelope used once a
// channel is already open).
type AddSubscriptionRequest struct {
	Subscription SubscriptionDescriptor `json:"subscription"`
}

// RegisterAgentTypeRequest is the unary RegisterAgent RPC request.
type RegisterAgentTypeRequest struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
	Topics []string `json:"topics,omitempty"`
}
