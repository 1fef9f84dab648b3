package chat

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/models"
)

// sliceStream replays fixed chunks, then returns err (io.EOF when nil)
type sliceStream struct {
	mu     sync.Mutex
	chunks []models.ChatCompletionChunk
	err    error
	pos    int
	closed bool
}

func newSliceStream(chunks ...models.ChatCompletionChunk) *sliceStream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv() (models.ChatCompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ChatCompletionChunk{}, errors.New("stream closed")
	}
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return models.ChatCompletionChunk{}, s.err
		}
		return models.ChatCompletionChunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sliceStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// blockingStream blocks in Recv until closed
type blockingStream struct {
	once   sync.Once
	done   chan struct{}
	first  *models.ChatCompletionChunk
	served bool
}

func newBlockingStream(first *models.ChatCompletionChunk) *blockingStream {
	return &blockingStream{done: make(chan struct{}), first: first}
}

func (s *blockingStream) Recv() (models.ChatCompletionChunk, error) {
	if s.first != nil && !s.served {
		s.served = true
		return *s.first, nil
	}
	<-s.done
	return models.ChatCompletionChunk{}, errors.New("use of closed connection")
}

func (s *blockingStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeBackend records requests and serves scripted results
type fakeBackend struct {
	mu          sync.Mutex
	requests    []*models.ChatRequest
	completions []*models.ChatCompletion
	errs        []error
	streams     []interfaces.ChunkStream
	calls       int
}

func (b *fakeBackend) next() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	if i < len(b.errs) && b.errs[i] != nil {
		return i, b.errs[i]
	}
	return i, nil
}

func (b *fakeBackend) record(req *models.ChatRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
}

func (b *fakeBackend) Complete(_ context.Context, req *models.ChatRequest) (*models.ChatCompletion, error) {
	b.record(req)
	i, err := b.next()
	if err != nil {
		return nil, err
	}
	if i < len(b.completions) {
		return b.completions[i], nil
	}
	return nil, nil
}

func (b *fakeBackend) CompleteStream(_ context.Context, req *models.ChatRequest) (interfaces.ChunkStream, error) {
	b.record(req)
	i, err := b.next()
	if err != nil {
		return nil, err
	}
	if i < len(b.streams) {
		return b.streams[i], nil
	}
	return newSliceStream(), nil
}

// wholeOnlyBackend cannot stream
type wholeOnlyBackend struct{}

func (wholeOnlyBackend) Complete(context.Context, *models.ChatRequest) (*models.ChatCompletion, error) {
	return nil, nil
}

func chunk(id string, choices ...models.ChunkChoice) models.ChatCompletionChunk {
	return models.ChatCompletionChunk{ID: id, Choices: choices}
}

func delta(index int, role, content, finish string) models.ChunkChoice {
	return models.ChunkChoice{
		Index:        index,
		Delta:        models.ChunkDelta{Role: role, Content: content},
		FinishReason: finish,
	}
}

func drain(out <-chan models.ChatResponse, errs <-chan error) ([]models.ChatResponse, error) {
	var got []models.ChatResponse
	for r := range out {
		got = append(got, r)
	}
	return got, <-errs
}
