// Package wsstream relays streamed chat responses to websocket peers.
package wsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
)

// Frame types written to the peer
const (
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

const defaultWriteTimeout = 10 * time.Second

// Frame is one JSON message on the wire
type Frame struct {
	Type     string               `json:"type"`
	Response *models.ChatResponse `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Sink writes frames to one websocket connection. Writes are serialised.
type Sink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewSink wraps conn
func NewSink(conn *websocket.Conn) *Sink {
	return &Sink{conn: conn, writeTimeout: defaultWriteTimeout}
}

// Forward writes every response as a chunk frame, then a done or error frame.
// It returns the stream error, or the first write error.
func (s *Sink) Forward(ctx context.Context, responses <-chan models.ChatResponse, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			_ = s.write(Frame{Type: FrameError, Error: ctx.Err().Error()})
			return ctx.Err()
		case resp, ok := <-responses:
			if !ok {
				if err := <-errs; err != nil {
					if werr := s.write(Frame{Type: FrameError, Error: err.Error()}); werr != nil {
						return fmt.Errorf("failed to send error frame: %w", werr)
					}
					return err
				}
				return s.write(Frame{Type: FrameDone})
			}
			if err := s.write(Frame{Type: FrameChunk, Response: &resp}); err != nil {
				return fmt.Errorf("failed to send chunk: %w", err)
			}
		}
	}
}

func (s *Sink) write(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

// Request is the frame a peer sends to start a completion
type Request struct {
	Messages []models.Message `json:"messages"`
}

// Streamer starts a streamed completion for a prompt
type Streamer interface {
	Stream(ctx context.Context, prompt models.Prompt) (<-chan models.ChatResponse, <-chan error)
}

// Handler upgrades HTTP requests and serves one streamed completion per
// request frame until the peer disconnects.
type Handler struct {
	streamer Streamer
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler creates a websocket handler backed by streamer
func NewHandler(streamer Streamer, log logger.Logger) *Handler {
	return &Handler{
		streamer: streamer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.OrNop(log),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := NewSink(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "error", err.Error())
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = sink.write(Frame{Type: FrameError, Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}

		out, errs := h.streamer.Stream(ctx, models.NewPrompt(req.Messages...))
		if err := sink.Forward(ctx, out, errs); err != nil {
			h.logger.Warn("stream relay failed", "error", err.Error())
		}
	}
}
