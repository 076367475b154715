package engine

// Message is a single conversation turn sent to the model, as used by the
// summarization prompts.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema constrains a chat response to structured JSON. The summarizer uses
// it to get parseable summary output back from the model.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is one field of a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress is a status update emitted while a model downloads.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
