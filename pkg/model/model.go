package model

import "context"

// Roles used across completion histories. Providers normalize anything else
// to RoleUser.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment is an inline binary part of a message, typically an image that
// accompanied the user's request. Data holds the raw payload, not base64.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Name     string `json:"name,omitempty"`
	Data     []byte `json:"data"`
}

// Message is one completion-format turn: a text segment plus zero or more
// inline attachments.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Request carries everything a gateway needs for one completion call.
type Request struct {
	Messages     []Message
	SystemPrompt string
}

// Completer is the boundary to the text-completion service. Implementations
// translate Request into the provider's wire format and return the reply
// text. Failures are transport or auth errors; there is no retry at this
// layer, and cancellation is driven entirely by ctx.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// UserMessage builds a user turn from text and optional attachments.
func UserMessage(text string, attachments ...Attachment) Message {
	return Message{Role: RoleUser, Content: text, Attachments: attachments}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}
