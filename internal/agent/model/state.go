package model

import (
	"github.com/cloudwego/eino/schema"
)

// Extra keys stamped on stored messages. The topic tag is computed once per
// human message and persisted so the strike counter survives restarts.
const (
	ExtraTopic     = "topic"
	ExtraSentiment = "sentiment"
)

// Topic tags produced by the scope classifier.
const (
	TopicInScope  = "in_scope"
	TopicOffTopic = "off_topic"
	TopicGreeting = "greeting"
)

// GuardTrip identifies which input guardrail short-circuited the turn.
type GuardTrip string

const (
	TripNone       GuardTrip = ""
	TripInjection  GuardTrip = "prompt_injection"
	TripPII        GuardTrip = "pii"
	TripModeration GuardTrip = "moderation"
	TripStrikes    GuardTrip = "off_topic_strikes"
)

// GuardVerdict is the outcome of the entry guardrail chain. Sanitized is the
// human message after PII redaction; it replaces the raw content in history
// when redaction occurred.
type GuardVerdict struct {
	Tripped   bool
	Trip      GuardTrip
	Reason    string
	Sanitized string
	Topic     string
	Sentiment string
	Strikes   int
}

// TurnInput is the public input of one pipeline invocation.
type TurnInput struct {
	Identity Identity
	Contact  Contact
	// Query is the inbound human message for a fresh turn; empty on resume.
	Query string
	// History is the persisted message list including the message(s) just
	// appended by the ledger for this turn.
	History []*schema.Message
	// Resume skips the entry guardrails and goes straight to the model,
	// used when externally computed tool results come back.
	Resume bool
	// Lead is the per-conversation lead session, nil outside the
	// lead-qualification pipeline.
	Lead *LeadSession
}

// TurnState is the eino graph local state for one turn. All reads and writes
// happen inside state pre/post handlers or compose.ProcessState, which eino
// serializes, so no mutex is needed.
type TurnState struct {
	Identity Identity
	Contact  Contact
	History  []*schema.Message
	Lead     *LeadSession

	SystemPrompt string
	Verdict      *GuardVerdict

	ToolCallCount        int
	ToolCallLimitReached bool
}

// Outcome classifies what the turn produced for the webhook relay.
type Outcome string

const (
	// OutcomeMessage is a plain assistant reply.
	OutcomeMessage Outcome = "message"
	// OutcomeToolBatch is an assistant message carrying tool-call requests
	// (terminal control tools or deferred external tools).
	OutcomeToolBatch Outcome = "tool_batch"
)

// TurnResult is the terminal pipeline output handed to the reconciler.
type TurnResult struct {
	Final    *schema.Message
	Messages []*schema.Message
	Outcome  Outcome
	// Handoff marks a turn ended by a control tool call, whether requested
	// by the model or forced by a guardrail.
	Handoff bool
	Lead    *LeadSession
}

// ClassifyOutcome derives the outcome from the final assistant message.
func ClassifyOutcome(final *schema.Message) Outcome {
	if final != nil && len(final.ToolCalls) > 0 {
		return OutcomeToolBatch
	}
	return OutcomeMessage
}

// TopicOf reads the cached topic tag from a stored message.
func TopicOf(m *schema.Message) string {
	if m == nil || m.Extra == nil {
		return ""
	}
	if v, ok := m.Extra[ExtraTopic].(string); ok {
		return v
	}
	return ""
}

// TagTopic stamps the topic tag on a message so it is computed once and
// persisted with the record.
func TagTopic(m *schema.Message, topic string) {
	if m == nil {
		return
	}
	if m.Extra == nil {
		m.Extra = map[string]any{}
	}
	m.Extra[ExtraTopic] = topic
}
