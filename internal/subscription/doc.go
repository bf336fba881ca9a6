// Package subscription maintains the topic-type → agent-type index the
// gateway uses to fan out events, matching exact subscriptions and
// literal open-suffix prefix subscriptions, deduplicated per agent type.
package subscription
