package models

import (
	"slices"
)

// Opt is an optional value with an explicit "is set" flag, so the zero
// value of T can still be chosen deliberately.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some returns a set optional holding v
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

// Get returns the value and whether it was set
func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// Or returns the value if set, otherwise fallback
func (o Opt[T]) Or(fallback T) T {
	if o.Set {
		return o.Value
	}
	return fallback
}

// pick returns override when it is set, otherwise def
func pick[T any](def, override Opt[T]) Opt[T] {
	if override.Set {
		return override
	}
	return def
}

// ModelOptions is implemented by every per-call options kind a Prompt may carry
type ModelOptions interface {
	OptionsKind() string
}

const (
	OptionsKindChat      = "chat"
	OptionsKindEmbedding = "embedding"
)

// ChatOptions holds chat generation parameters. Every field is independently
// optional so defaults and per-call values can be merged field by field.
type ChatOptions struct {
	Model            Opt[string]
	Temperature      Opt[float64]
	TopP             Opt[float64]
	MaxTokens        Opt[int]
	StopSequences    Opt[[]string]
	PresencePenalty  Opt[float64]
	FrequencyPenalty Opt[float64]
	N                Opt[int]
	Functions        Opt[[]string]
}

// OptionsKind implements ModelOptions
func (ChatOptions) OptionsKind() string { return OptionsKindChat }

func (o ChatOptions) WithModel(model string) ChatOptions {
	o.Model = Some(model)
	return o
}

func (o ChatOptions) WithTemperature(t float64) ChatOptions {
	o.Temperature = Some(t)
	return o
}

func (o ChatOptions) WithTopP(p float64) ChatOptions {
	o.TopP = Some(p)
	return o
}

func (o ChatOptions) WithMaxTokens(n int) ChatOptions {
	o.MaxTokens = Some(n)
	return o
}

func (o ChatOptions) WithStopSequences(stop ...string) ChatOptions {
	o.StopSequences = Some(slices.Clone(stop))
	return o
}

func (o ChatOptions) WithPresencePenalty(p float64) ChatOptions {
	o.PresencePenalty = Some(p)
	return o
}

func (o ChatOptions) WithFrequencyPenalty(p float64) ChatOptions {
	o.FrequencyPenalty = Some(p)
	return o
}

func (o ChatOptions) WithN(n int) ChatOptions {
	o.N = Some(n)
	return o
}

// WithFunctions sets the callable function names. Names form a set: they are
// sorted and duplicates are dropped.
func (o ChatOptions) WithFunctions(names ...string) ChatOptions {
	set := slices.Clone(names)
	slices.Sort(set)
	o.Functions = Some(slices.Compact(set))
	return o
}

// MergeChatOptions resolves each field independently: a set override wins,
// otherwise the default is kept. List fields are replaced whole, never appended.
func MergeChatOptions(defaults, override ChatOptions) ChatOptions {
	return ChatOptions{
		Model:            pick(defaults.Model, override.Model),
		Temperature:      pick(defaults.Temperature, override.Temperature),
		TopP:             pick(defaults.TopP, override.TopP),
		MaxTokens:        pick(defaults.MaxTokens, override.MaxTokens),
		StopSequences:    pick(defaults.StopSequences, override.StopSequences),
		PresencePenalty:  pick(defaults.PresencePenalty, override.PresencePenalty),
		FrequencyPenalty: pick(defaults.FrequencyPenalty, override.FrequencyPenalty),
		N:                pick(defaults.N, override.N),
		Functions:        pick(defaults.Functions, override.Functions),
	}
}

// EmbeddingOptions configures an embedding call
type EmbeddingOptions struct {
	Model      Opt[string]
	Dimensions Opt[int]
}

// OptionsKind implements ModelOptions
func (EmbeddingOptions) OptionsKind() string { return OptionsKindEmbedding }
