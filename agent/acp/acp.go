package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m4xw311/docchat/agent"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// ACP stop reasons.
const (
	StopEndTurn         = "end_turn"
	StopMaxTurnRequests = "max_turn_requests"
	StopCancelled       = "cancelled"
)

// documentURIPrefix is the URI prefix of documents served by the tool host.
const documentURIPrefix = "docs://documents/"

// NewTraceLogger opens (or creates) a trace file and returns a debug-level
// logger writing to it. ACP owns stdout, so diagnostics never go there.
func NewTraceLogger(path string) (*slog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open trace file %s", path)
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})), f, nil
}

// Run starts the Agent Client Protocol server over stdio using JSON-RPC.
// Messages are newline-delimited JSON objects. The template agent supplies
// configuration, LLM client, tool host and tool catalog; every ACP session
// gets its own conversation.
//
// Prompts run concurrently with the read loop so that session/cancel can
// reach them. Run returns on EOF after in-flight prompts have finished.
// trace may be nil.
func Run(ctx context.Context, template *agent.Agent, in *bufio.Reader, out *bufio.Writer, trace *slog.Logger) error {
	if trace == nil {
		trace = slog.New(slog.DiscardHandler)
	}
	s := &acpServer{
		ctx:          ctx,
		template:     template,
		sessions:     make(map[string]*acpSession),
		StdinReader:  in,
		StdoutWriter: out,
		trace:        trace,
	}
	defer s.inflight.Wait()

	trace.Debug("starting ACP server")
	for {
		payload, err := s.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				trace.Debug("EOF received, exiting")
				return nil
			}
			trace.Debug("read error", "error", err)
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			trace.Debug("JSON parse error", "error", err)
			_ = s.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}

		trace.Debug("dispatching", "method", req.Method, "id", req.ID)
		switch req.Method {
		case "initialize":
			s.handleInitialize(&req)
		case "session/new":
			s.handleSessionNew(&req)
		case "session/prompt":
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.handleSessionPrompt(&req)
			}()
		case "session/cancel":
			s.handleSessionCancel(&req)
		default:
			// session/load lands here: sessions are not persisted.
			if req.ID != nil {
				_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
			}
		}
	}
}

// jsonrpcRequest represents a JSON-RPC 2.0 request or notification
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// acpSession is one ACP conversation. prompts serializes the turns of the
// session; cancel aborts the running turn.
type acpSession struct {
	agent   *agent.Agent
	prompts sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *acpSession) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *acpSession) cancelTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

type acpServer struct {
	ctx      context.Context
	template *agent.Agent

	sessions     map[string]*acpSession
	sessionsLock sync.Mutex
	inflight     sync.WaitGroup

	StdinReader  *bufio.Reader
	StdoutWriter *bufio.Writer
	writeLock    sync.Mutex
	trace        *slog.Logger
}

func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.StdinReader.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

// writeFramedJSON serializes one message and writes it as a single line.
// Writes from concurrent prompts are serialized.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		s.trace.Debug("marshal error", "error", err)
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.trace.Debug("write", "message", string(data))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.StdoutWriter.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.StdoutWriter.Flush()
}

func (s *acpServer) writeResponseOK(id any, result any) error {
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.trace.Debug("error response", "code", code, "message", msg, "data", data)
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

func decodeParams(req *jsonrpcRequest, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

// handleInitialize answers with protocol version 1 and the agent's
// capabilities. Sessions cannot be loaded and prompts carry text and
// resource links only.
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	s.trace.Debug("initialize", "clientProtocolVersion", p.ProtocolVersion)

	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew starts a conversation with the template agent's tool
// catalog and returns its id.
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	sess := session.New(s.template.Session.Tools())
	s.sessionsLock.Lock()
	s.sessions[sess.ID] = &acpSession{agent: s.template.WithSession(sess)}
	s.sessionsLock.Unlock()
	s.trace.Debug("created session", "session", sess.ID, "cwd", p.Cwd)

	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sess.ID})
}

func (s *acpServer) lookup(id string) (*acpSession, bool) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// handleSessionCancel is a notification: it aborts the running turn of a
// session, if any, and never answers.
func (s *acpServer) handleSessionCancel(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeParams(req, &p); err != nil {
		s.trace.Debug("bad session/cancel params", "error", err)
		return
	}
	sess, ok := s.lookup(p.SessionID)
	if !ok {
		s.trace.Debug("session/cancel for unknown session", "session", p.SessionID)
		return
	}
	s.trace.Debug("cancel requested", "session", p.SessionID, "running", sess.cancelTurn())
}

// contentBlock is a block of an ACP prompt. Text and resource links are
// understood; other block types are ignored.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URI      string `json:"uri,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// handleSessionPrompt runs one user turn and streams its progress as
// session/update notifications. The response carries the stop reason.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	sess, ok := s.lookup(p.SessionID)
	if !ok {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	userText := extractUserText(p.Prompt)
	s.trace.Debug("prompt", "session", p.SessionID, "blocks", len(p.Prompt), "text", userText)
	if userText == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "prompt has no text")
		return
	}

	sess.prompts.Lock()
	defer sess.prompts.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	sess.setCancel(cancel)
	defer sess.setCancel(nil)

	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			if message != "" {
				_ = s.sendAgentMessageChunk(p.SessionID, message)
			}
		},
		OnToolCall: func(call session.ToolUseBlock) {
			_ = s.sendToolCallNotification(p.SessionID, call)
		},
		OnToolResult: func(call session.ToolUseBlock, result session.ToolResultBlock) {
			_ = s.sendToolResultNotification(p.SessionID, result)
		},
		// The client has no approval channel here; tools always run.
		ShouldExecuteTool: func(call session.ToolUseBlock) bool { return true },
		OnWarning: func(warning string) {
			s.trace.Debug("warning", "session", p.SessionID, "warning", warning)
		},
	}

	result, err := sess.agent.ProcessUserInput(ctx, userText, callbacks)
	if result == nil {
		code, msg := codeInternalError, "Internal error"
		if rejected(err) {
			code, msg = codeInvalidParams, "Invalid params"
		}
		_ = s.writeResponseError(req.ID, code, msg, err.Error())
		return
	}

	stopReason := StopEndTurn
	switch result.Termination {
	case agent.TerminationMaxRounds:
		stopReason = StopMaxTurnRequests
	case agent.TerminationCancelled:
		stopReason = StopCancelled
	case agent.TerminationError:
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}
	s.trace.Debug("turn finished", "session", p.SessionID, "stopReason", stopReason, "rounds", result.Rounds)
	_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": stopReason})
}

// rejected reports whether a turn failed because of the user's input.
func rejected(err error) bool {
	return errors.Is(err, errors.ErrUnknownCommand) || errors.Is(err, errors.ErrUnknownResource)
}

func (s *acpServer) sendToolCallNotification(sessionID string, call session.ToolUseBlock) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_call",
			"toolCall": map[string]any{
				"id":   call.ID,
				"name": call.Name,
				"args": call.Arguments,
			},
		},
	})
}

func (s *acpServer) sendToolResultNotification(sessionID string, result session.ToolResultBlock) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": result.ToolUseID,
				"result":     result.Content,
				"isError":    result.IsError,
			},
		},
	})
}

func (s *acpServer) sendAgentMessageChunk(sessionID, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

// extractUserText joins the prompt blocks into one line of user input.
// A resource link becomes an @reference to the document it names, so
// linked documents are inlined like typed references.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		case "resource_link":
			if id := resourceID(b); id != "" {
				parts = append(parts, "@"+id)
			}
		}
	}
	return strings.Join(parts, " ")
}

func resourceID(b contentBlock) string {
	if strings.HasPrefix(b.URI, documentURIPrefix) {
		return strings.TrimPrefix(b.URI, documentURIPrefix)
	}
	return b.Name
}
