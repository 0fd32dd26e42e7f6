package llm

// Roles accepted in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The turn's text
}

// ValidRole reports whether role may appear in a conversation sent upstream.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
