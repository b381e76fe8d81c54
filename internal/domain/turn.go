package domain

// Role attributes a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
