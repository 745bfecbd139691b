// ABOUTME: Turn and Role types shared by sessions, providers and the gateway
// ABOUTME: Assemble builds the conversation window sent to the language model

package conversation

import "fmt"

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole converts a wire string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Turn is one message in a conversation. Turns are values; once appended to a
// session they are never modified.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system turn.
func System(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// User returns a user turn.
func User(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// Assistant returns an assistant turn.
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// Assemble builds the ordered window: the system prompt (when non-empty), then
// history exactly as given, then the new user input. History is not trimmed
// here; the session store already bounds it.
func Assemble(systemPrompt string, history []Turn, input string) []Turn {
	window := make([]Turn, 0, len(history)+2)
	if systemPrompt != "" {
		window = append(window, System(systemPrompt))
	}
	window = append(window, history...)
	return append(window, User(input))
}
