package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
)

const defaultStreamBuffer = 16

// Assembler turns a fragment stream into a stream of ChatResponses. It keeps
// no state between calls; each Assemble owns its own Accumulator.
type Assembler struct {
	logger logger.Logger
	buffer int
}

// NewAssembler creates an assembler. A nil logger discards output.
func NewAssembler(log logger.Logger) *Assembler {
	return &Assembler{logger: logger.OrNop(log), buffer: defaultStreamBuffer}
}

// Assemble consumes stream on its own goroutine and emits one ChatResponse per
// fragment, in arrival order, as soon as it is converted. The response channel
// is closed when the stream ends. At most one error is sent; io.EOF is not an
// error. Cancelling ctx stops consumption and closes the upstream stream.
func (a *Assembler) Assemble(ctx context.Context, stream interfaces.ChunkStream) (<-chan models.ChatResponse, <-chan error) {
	out := make(chan models.ChatResponse, a.buffer)
	errChan := make(chan error, 1)

	var closeOnce sync.Once
	closeStream := func() {
		closeOnce.Do(func() {
			if err := stream.Close(); err != nil {
				a.logger.Debug("closing chunk stream", "error", err.Error())
			}
		})
	}

	go func() {
		defer close(errChan)
		defer close(out)
		defer closeStream()

		// Recv may block on the network; closing the stream unblocks it.
		stop := context.AfterFunc(ctx, closeStream)
		defer stop()

		acc := NewAccumulator(a.logger)
		for {
			chunk, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					errChan <- ctx.Err()
					return
				}
				if errors.Is(err, io.EOF) {
					return
				}
				errChan <- fmt.Errorf("stream error: %w", err)
				return
			}

			resp := acc.Add(chunk)
			select {
			case out <- resp:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return out, errChan
}

// Accumulator converts fragments of one stream into ChatResponses. It holds
// the role memo for every call id seen in that stream. Not safe for
// concurrent use.
type Accumulator struct {
	logger logger.Logger
	calls  map[string]*callState
	// finished parks the state of calls with no open choice. A later
	// fragment for the call revives it, so a new choice index is accepted
	// quietly and a completed one is reported.
	finished map[string]*callState
}

type callState struct {
	firstRole string
	roles     map[int]string
	open      map[int]bool
}

// NewAccumulator creates an empty accumulator
func NewAccumulator(log logger.Logger) *Accumulator {
	return &Accumulator{
		logger:   logger.OrNop(log),
		calls:    make(map[string]*callState),
		finished: make(map[string]*callState),
	}
}

// Add converts one fragment. The role reported on the first fragment of a
// choice is reused for later fragments of that choice that omit it.
func (a *Accumulator) Add(chunk models.ChatCompletionChunk) models.ChatResponse {
	resp := models.ChatResponse{ID: chunk.ID, Results: make([]models.Generation, 0, len(chunk.Choices))}
	if len(chunk.Choices) == 0 {
		return resp
	}

	state := a.state(chunk.ID)
	for _, choice := range chunk.Choices {
		if state.completed(choice.Index) {
			a.logger.Warn("fragment after choice completed", "id", chunk.ID, "index", choice.Index)
		}

		if r := choice.Delta.Role; r != "" {
			if _, ok := state.roles[choice.Index]; !ok {
				state.roles[choice.Index] = r
			}
			if state.firstRole == "" {
				state.firstRole = r
			}
		}
		role := state.role(choice.Index)
		completed := choice.FinishReason != ""

		gen := models.Generation{
			ID:           chunk.ID,
			Index:        choice.Index,
			Role:         models.Role(role),
			Content:      choice.Delta.Content,
			Completed:    completed,
			FinishReason: choice.FinishReason,
			Metadata: map[string]any{
				models.MetadataID:           chunk.ID,
				models.MetadataRole:         role,
				models.MetadataFinishReason: choice.FinishReason,
			},
		}
		if completed {
			gen.GenerationMetadata = &models.ChatGenerationMetadata{FinishReason: choice.FinishReason}
			state.open[choice.Index] = false
		} else {
			state.open[choice.Index] = true
		}
		resp.Results = append(resp.Results, gen)
	}

	if state.allCompleted() {
		a.finished[chunk.ID] = state
		delete(a.calls, chunk.ID)
	}
	return resp
}

// Active returns how many calls still hold per-call state
func (a *Accumulator) Active() int {
	return len(a.calls)
}

func (a *Accumulator) state(id string) *callState {
	if s, ok := a.calls[id]; ok {
		return s
	}
	s, ok := a.finished[id]
	if ok {
		delete(a.finished, id)
	} else {
		s = &callState{roles: make(map[int]string), open: make(map[int]bool)}
	}
	a.calls[id] = s
	return s
}

func (s *callState) role(index int) string {
	if r, ok := s.roles[index]; ok {
		return r
	}
	return s.firstRole
}

func (s *callState) completed(index int) bool {
	open, seen := s.open[index]
	return seen && !open
}

func (s *callState) allCompleted() bool {
	for _, open := range s.open {
		if open {
			return false
		}
	}
	return len(s.open) > 0
}

// Collect drains a response stream and folds it with Aggregate
func Collect(responses <-chan models.ChatResponse, errs <-chan error) (*models.ChatResponse, error) {
	var all []models.ChatResponse
	for resp := range responses {
		all = append(all, resp)
	}
	if err := <-errs; err != nil {
		return Aggregate(all), err
	}
	return Aggregate(all), nil
}

// Aggregate folds streamed responses into a single response with content
// concatenated per choice. A choice is keyed by call id and index, so two
// calls in one stream never mix content. Generations are ordered by the
// first appearance of their call id, then by index. The response id is the
// first non-empty id seen.
func Aggregate(responses []models.ChatResponse) *models.ChatResponse {
	type key struct {
		id    string
		index int
	}
	out := &models.ChatResponse{Results: []models.Generation{}}
	byKey := make(map[key]*models.Generation)
	content := make(map[key]*strings.Builder)
	callOrder := make(map[string]int)

	for _, resp := range responses {
		if out.ID == "" {
			out.ID = resp.ID
		}
		for _, g := range resp.Results {
			k := key{id: g.ID, index: g.Index}
			agg, ok := byKey[k]
			if !ok {
				agg = &models.Generation{ID: g.ID, Index: g.Index, Metadata: map[string]any{}}
				byKey[k] = agg
				content[k] = &strings.Builder{}
				if _, seen := callOrder[g.ID]; !seen {
					callOrder[g.ID] = len(callOrder)
				}
			}
			content[k].WriteString(g.Content)
			if agg.Role == "" {
				agg.Role = g.Role
			}
			if g.Completed {
				agg.Completed = true
				agg.FinishReason = g.FinishReason
				agg.GenerationMetadata = g.GenerationMetadata
			}
		}
	}

	keys := make([]key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if oi, oj := callOrder[keys[i].id], callOrder[keys[j].id]; oi != oj {
			return oi < oj
		}
		return keys[i].index < keys[j].index
	})
	for _, k := range keys {
		g := byKey[k]
		g.Content = content[k].String()
		g.Metadata[models.MetadataID] = g.ID
		g.Metadata[models.MetadataRole] = string(g.Role)
		g.Metadata[models.MetadataFinishReason] = g.FinishReason
		out.Results = append(out.Results, *g)
	}
	return out
}
