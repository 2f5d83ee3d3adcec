// Package assistant defines the persona data model and its JSON collection
// store. An assistant owns a system prompt, a conversation transcript, and
// the external API configurations evaluated by the trigger engine.
package assistant

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cexll/assisthub-go/pkg/model"
)

// TriggerType selects how a trigger's value is interpreted.
type TriggerType string

const (
	TriggerKeyword TriggerType = "keyword" // comma-separated keyword list
	TriggerPattern TriggerType = "pattern" // regular expression
)

// Trigger is one activation condition for an external API.
type Trigger struct {
	Type        TriggerType `json:"type"`
	Value       string      `json:"value"`
	Description string      `json:"description,omitempty"`
}

// AuthType selects how credentials are injected into an external call.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "apiKey"
)

// AuthConfig carries the credential material for one API. Which fields are
// meaningful depends on the AuthType.
type AuthConfig struct {
	Token    string `json:"token,omitempty"`    // bearer
	Username string `json:"username,omitempty"` // basic
	Password string `json:"password,omitempty"` // basic
	Key      string `json:"key,omitempty"`      // apiKey: header or query name
	Value    string `json:"value,omitempty"`    // apiKey: the secret
	InHeader bool   `json:"inHeader,omitempty"` // apiKey: header vs query parameter
}

// ParameterSpec names a parameter the model should extract from the user
// message before an external call.
type ParameterSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResponseType tells the executor how to interpret an API response.
type ResponseType string

const (
	ResponseText  ResponseType = "text"
	ResponseImage ResponseType = "image"
)

// APIConfig describes one external HTTP API an assistant may call when a
// user message matches its triggers.
type APIConfig struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Endpoint            string            `json:"endpoint"`
	Method              string            `json:"method"` // GET, POST, PUT, DELETE
	Headers             map[string]string `json:"headers,omitempty"`
	BodyTemplate        string            `json:"bodyTemplate,omitempty"`
	QueryTemplate       string            `json:"queryTemplate,omitempty"`
	ResponseTemplate    string            `json:"responseTemplate,omitempty"`
	AuthType            AuthType          `json:"authType"`
	Auth                AuthConfig        `json:"authConfig"`
	Triggers            []Trigger         `json:"triggers,omitempty"`
	ParameterExtraction []ParameterSpec   `json:"parameterExtraction,omitempty"`
	ResponseType        ResponseType      `json:"responseType,omitempty"`
	ImageDataPath       string            `json:"imageDataPath,omitempty"`
}

// DisplayMessage is the user-facing projection of a turn.
type DisplayMessage struct {
	Role      string `json:"role"` // user or assistant
	Content   string `json:"content"`
	ImagePath string `json:"imagePath,omitempty"` // generated image artifact, when any
}

// Turn owns both projections of one conversation entry. Keeping them in a
// single struct makes the display/completion histories index-aligned by
// construction.
type Turn struct {
	Display    DisplayMessage `json:"display"`
	Completion model.Message  `json:"completion"`
}

// Assistant is one configured persona.
type Assistant struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	SystemPrompt   string      `json:"systemPrompt"`
	Turns          []Turn      `json:"turns,omitempty"`
	KnowledgeFiles []string    `json:"knowledgeFiles,omitempty"`
	Summary        string      `json:"summary,omitempty"`
	APIConfigs     []APIConfig `json:"apiConfigs,omitempty"`
	APICallEnabled bool        `json:"apiCallEnabled"`
}

// New creates an assistant with a fresh ID.
func New(title, systemPrompt string) *Assistant {
	return &Assistant{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(title),
		SystemPrompt: systemPrompt,
	}
}

// DisplayHistory returns the display projection of every turn.
func (a *Assistant) DisplayHistory() []DisplayMessage {
	out := make([]DisplayMessage, len(a.Turns))
	for i, t := range a.Turns {
		out[i] = t.Display
	}
	return out
}

// CompletionHistory returns the completion projection of every turn.
func (a *Assistant) CompletionHistory() []model.Message {
	out := make([]model.Message, len(a.Turns))
	for i, t := range a.Turns {
		out[i] = t.Completion
	}
	return out
}

// Clone returns a deep copy; the chat manager stages edits on clones so a
// failed persist never leaves partial mutation visible.
func (a *Assistant) Clone() *Assistant {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Turns = append([]Turn(nil), a.Turns...)
	cp.KnowledgeFiles = append([]string(nil), a.KnowledgeFiles...)
	cp.APIConfigs = append([]APIConfig(nil), a.APIConfigs...)
	return &cp
}
