// Package transcript persists the ordered message log of each conversation.
// It is the "conversation memory" consulted before a model call and appended
// to once a streamed response has fully accumulated.
package transcript

// Role tags a message with its conversational author.
//
// Stores keep the internal tag verbatim; presentation maps everything outside
// the three public roles to RoleOther (see Normalize).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"

	// RoleOther is the public placeholder for internal tags (tool-call
	// markers and the like). Kept rather than dropped so message counts
	// survive normalization.
	RoleOther Role = ""
)

// Normalize maps an internal role tag onto the public role set.
func Normalize(r Role) Role {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r
	default:
		return RoleOther
	}
}

// Message is one turn of a conversation. Immutable once stored.
type Message struct {
	Role    Role
	Content string
}

// UserMessage constructs a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage constructs an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SystemMessage constructs a system turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}
