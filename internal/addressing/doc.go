// Package addressing implements the runtime's identifier model: AgentId,
// TopicId, and Subscription, their canonical string forms, and the
// validation rules the wire protocol relies on.
package addressing
