package engine

// Message is one chat turn. Images are raw bytes for vision models.
type Message struct {
	Role    string
	Content string
	Images  [][]byte
}

// System returns a system instruction message.
func System(content string) Message {
	return Message{Role: "system", Content: content}
}

// User returns a user message with optional attached images.
func User(content string, images ...[]byte) Message {
	return Message{Role: "user", Content: content, Images: images}
}

// Schema constrains a chat reply to a JSON object. Used for the entity and
// expertise classifiers, whose replies are decoded directly.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// ChatOptions tunes one chat call. Zero values keep the model defaults.
type ChatOptions struct {
	Schema      *Schema
	Temperature *float64
	TopP        *float64
	TopK        int
	MaxTokens   int
}

// PullProgress is one progress update while a model downloads.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}
