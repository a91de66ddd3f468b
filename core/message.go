package core

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks messages written by the caller.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instructions injected by the application.
	RoleSystem Role = "system"
	// RoleTool marks function responses. Tool turns are never stored in
	// conversation memory.
	RoleTool Role = "tool"
)

// Message is a single entry of a conversation log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage is a convenience constructor for a user message.
func NewUserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// NewAssistantMessage is a convenience constructor for an assistant message.
func NewAssistantMessage(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToContent converts the message into model input content.
func (m Message) ToContent() Content { return NewTextContent(m.Role, m.Content) }

// MessagesToContents converts a conversation log into model input contents.
func MessagesToContents(msgs []Message) []Content {
	contents := make([]Content, 0, len(msgs))
	for _, m := range msgs {
		contents = append(contents, m.ToContent())
	}
	return contents
}
