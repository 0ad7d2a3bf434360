package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// Chat receives the full conversation history and the tool catalog and returns
// the assistant's reply, which may contain text and tool-use blocks.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error)
}

// Options are the request settings shared by all backends.
type Options struct {
	MaxTokens    int64
	SystemPrompt string
}

func (o Options) maxTokens() int64 {
	if o.MaxTokens <= 0 {
		return config.DefaultMaxTokens
	}
	return o.MaxTokens
}

// OptionsFromConfig extracts the backend options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{MaxTokens: cfg.MaxTokens, SystemPrompt: cfg.SystemPrompt}
}

// New creates the client selected by cfg.LLMClient. Unknown or empty names
// select the mock client.
func New(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.LLMClient {
	case "gemini":
		return NewGeminiLLMClient(ctx, cfg.Model, opts)
	case "openai":
		return NewOpenAILLMClient(ctx, cfg.Model, opts)
	case "bedrock":
		return NewBedrockLLMClient(ctx, cfg.Model, opts)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, cfg.Model, opts)
	default:
		return &MockLLMClient{}, nil
	}
}

// MockLLMClient echoes the last user text back and never requests tools.
type MockLLMClient struct{}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("mock LLM client called with an empty history")
	}
	var lastUserMessage string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			lastUserMessage = messages[i].Text()
			break
		}
	}
	toolNames := make([]string, len(availableTools))
	for i, t := range availableTools {
		toolNames[i] = t.Name
	}
	reply := session.NewAssistantMessage(session.TextBlock{
		Text: fmt.Sprintf("I am a mock LLM. You said: '%s'. Tools available to me: %s.", lastUserMessage, strings.Join(toolNames, ", ")),
	})
	return &reply, nil
}

// ScriptedReply is one canned answer of a ScriptedLLMClient. When Err is set
// the call fails with it.
type ScriptedReply struct {
	Message session.Message
	Err     error
}

// ScriptedLLMClient replays a fixed sequence of replies and records every
// request it receives. When the script runs out the last reply is repeated.
// Hook, if set, runs before each reply is returned.
type ScriptedLLMClient struct {
	Replies []ScriptedReply
	Hook    func(ctx context.Context, call int) error

	mu    sync.Mutex
	calls [][]session.Message
	tools [][]tools.Declaration
}

// NewScriptedLLMClient returns a client answering with the given messages in order.
func NewScriptedLLMClient(replies ...session.Message) *ScriptedLLMClient {
	s := &ScriptedLLMClient{}
	for _, r := range replies {
		s.Replies = append(s.Replies, ScriptedReply{Message: r})
	}
	return s
}

func (s *ScriptedLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, append([]session.Message(nil), messages...))
	s.tools = append(s.tools, availableTools)
	s.mu.Unlock()

	if s.Hook != nil {
		if err := s.Hook(ctx, call); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.Replies) == 0 {
		return nil, errors.New("scripted LLM client has no replies")
	}
	idx := call
	if idx >= len(s.Replies) {
		idx = len(s.Replies) - 1
	}
	reply := s.Replies[idx]
	if reply.Err != nil {
		return nil, reply.Err
	}
	msg := reply.Message
	msg.Content = append([]session.Block(nil), msg.Content...)
	return &msg, nil
}

// Calls returns the histories received so far, one per Chat call.
func (s *ScriptedLLMClient) Calls() [][]session.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]session.Message(nil), s.calls...)
}

// ToolsSeen returns the tool catalogs received so far, one per Chat call.
func (s *ScriptedLLMClient) ToolsSeen() [][]tools.Declaration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]tools.Declaration(nil), s.tools...)
}
