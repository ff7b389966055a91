package types

// MessageRole identifies who authored a message sent to a model.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"    // RoleSystem marks instructions for the model.
	RoleUser      MessageRole = "user"      // RoleUser marks user utterances.
	RoleAssistant MessageRole = "assistant" // RoleAssistant marks model replies.
)

// MetadataSeed marks a message that reseeds a compacted session.
const MetadataSeed = "seed"

// Message is a single chat message exchanged with an LLM provider.
type Message struct {
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Role     MessageRole            `json:"role"`
	Content  string                 `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// WithMetadata adds metadata to the message and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// IsSeed reports whether the message carries the MetadataSeed flag.
func (m *Message) IsSeed() bool {
	if m == nil {
		return false
	}
	seed, _ := m.Metadata[MetadataSeed].(bool)
	return seed
}

// ModelInfo describes the model behind a provider.
type ModelInfo struct {
	Metadata          map[string]interface{}
	Provider          string
	Name              string
	MaxTokens         int
	SupportsStreaming bool
}
