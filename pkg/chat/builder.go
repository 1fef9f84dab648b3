// Package chat turns prompts into backend requests and backend replies,
// whole or streamed, into provider-agnostic responses.
package chat

import (
	"maps"
	"slices"

	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
)

// RoleMapping translates conversation roles into a backend's role names.
// A role missing from the table is not supported by that backend.
type RoleMapping map[models.Role]string

// DefaultRoleMapping is the OpenAI-style vocabulary most backends accept
var DefaultRoleMapping = RoleMapping{
	models.RoleSystem:    "system",
	models.RoleUser:      "user",
	models.RoleAssistant: "assistant",
	models.RoleFunction:  "function",
}

// Without returns a copy of the mapping with the given roles removed
func (m RoleMapping) Without(roles ...models.Role) RoleMapping {
	out := maps.Clone(m)
	for _, r := range roles {
		delete(out, r)
	}
	return out
}

// BuildRequest produces the normalized request for prompt. Prompt options
// override defaults field by field. It has no side effects.
func BuildRequest(prompt models.Prompt, defaults models.ChatOptions, roles RoleMapping, stream bool) (*models.ChatRequest, error) {
	opts := defaults
	if prompt.Options != nil {
		runtime, err := chatOptions(prompt.Options)
		if err != nil {
			return nil, err
		}
		opts = models.MergeChatOptions(defaults, runtime)
	}

	if roles == nil {
		roles = DefaultRoleMapping
	}

	messages := make([]models.RequestMessage, 0, len(prompt.Messages))
	for i, msg := range prompt.Messages {
		role, ok := roles[msg.Role()]
		if !ok {
			return nil, &types.UnsupportedRoleError{Index: i, Role: string(msg.Role())}
		}
		messages = append(messages, models.RequestMessage{
			Role:    role,
			Content: msg.Content(),
			Name:    msg.Name(),
			Media:   msg.Media(),
		})
	}

	req := &models.ChatRequest{
		Model:    opts.Model.Value,
		Messages: messages,
		Stream:   stream,
	}
	if v, ok := opts.Temperature.Get(); ok {
		req.Temperature = &v
	}
	if v, ok := opts.TopP.Get(); ok {
		req.TopP = &v
	}
	if v, ok := opts.MaxTokens.Get(); ok {
		req.MaxTokens = &v
	}
	if v, ok := opts.StopSequences.Get(); ok {
		req.Stop = slices.Clone(v)
	}
	if v, ok := opts.PresencePenalty.Get(); ok {
		req.PresencePenalty = &v
	}
	if v, ok := opts.FrequencyPenalty.Get(); ok {
		req.FrequencyPenalty = &v
	}
	if v, ok := opts.N.Get(); ok {
		req.N = &v
	}
	if v, ok := opts.Functions.Get(); ok {
		req.Functions = slices.Clone(v)
	}
	return req, nil
}

func chatOptions(opts models.ModelOptions) (models.ChatOptions, error) {
	switch o := opts.(type) {
	case models.ChatOptions:
		return o, nil
	case *models.ChatOptions:
		if o == nil {
			return models.ChatOptions{}, nil
		}
		return *o, nil
	default:
		return models.ChatOptions{}, &types.InvalidOptionsTypeError{Kind: opts.OptionsKind()}
	}
}
