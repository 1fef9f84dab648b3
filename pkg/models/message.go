package models

import (
	"encoding/json"
	"maps"
	"slices"
)

// Role identifies who authored a message in a conversation
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Roles lists every role a Message may carry
var Roles = []Role{RoleSystem, RoleUser, RoleAssistant, RoleFunction}

// Media is a non-text attachment carried alongside message content
type Media struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Message is one turn of a conversation. Fields are unexported so a message
// cannot change after construction; accessors hand out copies.
type Message struct {
	role     Role
	content  string
	name     string
	media    []Media
	metadata map[string]any
}

// NewMessage creates a message, copying media and metadata
func NewMessage(role Role, content string, media []Media, metadata map[string]any) Message {
	return Message{
		role:     role,
		content:  content,
		media:    cloneMedia(media),
		metadata: maps.Clone(metadata),
	}
}

// SystemMessage creates a system instruction message
func SystemMessage(content string) Message {
	return NewMessage(RoleSystem, content, nil, nil)
}

// UserMessage creates a user message with optional attachments
func UserMessage(content string, media ...Media) Message {
	return NewMessage(RoleUser, content, media, nil)
}

// AssistantMessage creates an assistant message
func AssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content, nil, nil)
}

// FunctionMessage creates a function result message attributed to name
func FunctionMessage(name, content string) Message {
	m := NewMessage(RoleFunction, content, nil, nil)
	m.name = name
	return m
}

func (m Message) Role() Role      { return m.role }
func (m Message) Content() string { return m.content }
func (m Message) Name() string    { return m.name }
func (m Message) Media() []Media  { return cloneMedia(m.media) }
func (m Message) HasMedia() bool  { return len(m.media) > 0 }

// Metadata returns a copy of the message metadata
func (m Message) Metadata() map[string]any {
	return maps.Clone(m.metadata)
}

type messageJSON struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Name     string         `json:"name,omitempty"`
	Media    []Media        `json:"media,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Role:     m.role,
		Content:  m.content,
		Name:     m.name,
		Media:    m.media,
		Metadata: m.metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = NewMessage(raw.Role, raw.Content, raw.Media, raw.Metadata)
	m.name = raw.Name
	return nil
}

func cloneMedia(media []Media) []Media {
	if media == nil {
		return nil
	}
	out := make([]Media, len(media))
	for i, md := range media {
		out[i] = Media{MimeType: md.MimeType, Data: slices.Clone(md.Data), URI: md.URI}
	}
	return out
}

// Prompt is an ordered conversation plus optional per-call options
type Prompt struct {
	Messages []Message
	Options  ModelOptions
}

// NewPrompt creates a prompt from messages with no per-call options
func NewPrompt(messages ...Message) Prompt {
	return Prompt{Messages: slices.Clone(messages)}
}

// WithOptions returns a copy of the prompt carrying opts
func (p Prompt) WithOptions(opts ModelOptions) Prompt {
	return Prompt{Messages: slices.Clone(p.Messages), Options: opts}
}
