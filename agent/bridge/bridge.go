// Package bridge serves the agent over WebSocket. Every connection is its
// own conversation; each text frame from the client is one user input and
// the server answers with JSON frames describing the turn.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/docchat/agent"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
)

// Frame types sent to the client.
const (
	FrameAssistant  = "assistant"
	FrameToolCall   = "tool_call"
	FrameToolResult = "tool_result"
	FrameWarning    = "warning"
	FrameError      = "error"
	FrameDone       = "done"
)

// Frame is one server-to-client message. A turn always ends with a done
// frame; rejected input reports termination "rejected".
type Frame struct {
	Type        string                 `json:"type"`
	Text        string                 `json:"text,omitempty"`
	ToolCallID  string                 `json:"toolCallId,omitempty"`
	Tool        string                 `json:"tool,omitempty"`
	Args        map[string]interface{} `json:"args,omitempty"`
	IsError     bool                   `json:"isError,omitempty"`
	Termination string                 `json:"termination,omitempty"`
	Rounds      int                    `json:"rounds,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bridges WebSocket connections to the agent.
type Server struct {
	template *agent.Agent
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a server whose connections share the template agent's
// configuration, LLM client, tool host and tool catalog.
func New(template *agent.Agent, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		template: template,
		logger:   logger.With("component", "bridge"),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /ws", s.handleWS)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("WebSocket server running", "url", "ws://"+addr+"/ws")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "WebSocket server failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.template.WithSession(session.New(s.template.Session.Tools()))
	logger := s.logger.With("session", a.Session.ID, "remote", r.RemoteAddr)
	logger.Info("connection opened")
	defer logger.Info("connection closed")

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.runTurn(ctx, conn, a, string(msg)); err != nil {
			logger.Debug("write failed", "error", err)
			return
		}
	}
}

// runTurn processes one input. Only write failures are returned; turn
// failures are reported to the client.
func (s *Server) runTurn(ctx context.Context, conn *websocket.Conn, a *agent.Agent, input string) error {
	var writeErr error
	send := func(f Frame) {
		if writeErr == nil {
			writeErr = conn.WriteJSON(f)
		}
	}

	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			send(Frame{Type: FrameAssistant, Text: message})
		},
		OnToolCall: func(call session.ToolUseBlock) {
			send(Frame{Type: FrameToolCall, ToolCallID: call.ID, Tool: call.Name, Args: call.Arguments})
		},
		OnToolResult: func(call session.ToolUseBlock, result session.ToolResultBlock) {
			send(Frame{Type: FrameToolResult, ToolCallID: call.ID, Tool: call.Name, Text: result.Content, IsError: result.IsError})
		},
		OnWarning: func(warning string) {
			send(Frame{Type: FrameWarning, Text: warning})
		},
	}

	result, err := a.ProcessUserInput(ctx, input, callbacks)
	if err != nil {
		send(Frame{Type: FrameError, Text: err.Error()})
	}
	done := Frame{Type: FrameDone, Termination: "rejected"}
	if result != nil {
		done.Termination = string(result.Termination)
		done.Rounds = result.Rounds
	}
	send(done)
	return writeErr
}
