// Package transcript keeps the authoritative conversation log for one
// call session and reconciles it from two sources: locally observed
// user utterances and full-history snapshots pushed by the remote agent.
package transcript

// Roles that belong in the persisted log. Anything else (system,
// tool, etc.) is filtered out of agent snapshots.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationStartMarker is the fixed sentinel the agent places at the
// head of every history snapshot. It marks the session boundary and is
// never part of the transcript.
const ConversationStartMarker = "conversation_start"

// Turn is one utterance in the conversation log. Insertion order is
// meaningful; persisted turns are never reordered or rewritten.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
