// Package agenttest provides an in-memory tool host for testing the agent
// and its front ends.
package agenttest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
)

// ToolCall records one InvokeTool request.
type ToolCall struct {
	Name string
	Args map[string]interface{}
}

// FakeHost is a ToolHost backed by maps. Tools maps a tool name to its
// implementation; Prompts maps a prompt name to a template that receives the
// content of the document named by the prompt's only argument.
type FakeHost struct {
	Docs    map[string]string
	Tools   map[string]func(ctx context.Context, args map[string]interface{}) (string, error)
	Prompts map[string]string

	mu         sync.Mutex
	calls      []ToolCall
	listCalls  int
	readCalls  map[string]int
	promptArgs []map[string]string
}

// NewFakeHost returns a host with two documents, the document tools and the
// summarize and rewrite_markdown prompts.
func NewFakeHost() *FakeHost {
	h := &FakeHost{
		Docs: map[string]string{
			"report.pdf": "The report details the state of a 20m condenser tower.",
			"plan.md":    "The plan outlines the steps for the project's implementation.",
		},
		Prompts: map[string]string{
			"summarize":        "Please provide a concise summary of the following document:\n\n%s",
			"rewrite_markdown": "Please rewrite the following document in proper markdown format:\n\n%s",
		},
		readCalls: make(map[string]int),
	}
	h.Tools = map[string]func(ctx context.Context, args map[string]interface{}) (string, error){
		"read_doc_contents": func(ctx context.Context, args map[string]interface{}) (string, error) {
			id := fmt.Sprint(args["doc_id"])
			h.mu.Lock()
			defer h.mu.Unlock()
			doc, ok := h.Docs[id]
			if !ok {
				return "", fmt.Errorf("Doc with id %s not found", id)
			}
			return doc, nil
		},
		"list_documents": func(ctx context.Context, args map[string]interface{}) (string, error) {
			return fmt.Sprint(h.ids()), nil
		},
	}
	return h
}

// Declarations returns a catalog matching the configured tools.
func (h *FakeHost) Declarations() []tools.Declaration {
	names := make([]string, 0, len(h.Tools))
	for name := range h.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	decls := make([]tools.Declaration, len(names))
	for i, name := range names {
		decls[i] = tools.Declaration{
			Name:        name,
			Description: "fake " + name,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"doc_id": map[string]interface{}{"type": "string"},
				},
			},
		}
	}
	return decls
}

// NewSession returns a session declaring the host's tools.
func (h *FakeHost) NewSession() *session.Session {
	return session.New(h.Declarations())
}

func (h *FakeHost) ids() []string {
	ids := make([]string, 0, len(h.Docs))
	for id := range h.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *FakeHost) ListResourceIDs(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listCalls++
	return h.ids(), nil
}

func (h *FakeHost) ReadResource(ctx context.Context, id string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readCalls[id]++
	doc, ok := h.Docs[id]
	if !ok {
		return "", errors.Wrapf(errors.ErrResourceNotFound, "'%s'", id)
	}
	return doc, nil
}

func (h *FakeHost) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	h.mu.Lock()
	h.calls = append(h.calls, ToolCall{Name: name, Args: args})
	fn, ok := h.Tools[name]
	h.mu.Unlock()
	if !ok {
		return "", errors.Wrapf(errors.ErrToolExecution, "tool '%s' is not provided by the tool host", name)
	}
	out, err := fn(ctx, args)
	if err != nil {
		return "", errors.Wrapf(errors.Join(errors.ErrToolExecution, err), "tool '%s'", name)
	}
	return out, nil
}

func (h *FakeHost) RenderPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.promptArgs = append(h.promptArgs, args)
	tmpl, ok := h.Prompts[name]
	if !ok {
		return "", errors.Wrapf(errors.ErrPromptNotFound, "'%s'", name)
	}
	var content string
	for _, v := range args {
		content = h.Docs[v]
	}
	return fmt.Sprintf(tmpl, content), nil
}

// ToolCalls returns the tool invocations received so far.
func (h *FakeHost) ToolCalls() []ToolCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ToolCall(nil), h.calls...)
}

// ListCalls returns how often ListResourceIDs was called.
func (h *FakeHost) ListCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listCalls
}

// ReadCalls returns how often the given resource was read.
func (h *FakeHost) ReadCalls(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readCalls[id]
}

// PromptArgs returns the argument maps of all RenderPrompt calls.
func (h *FakeHost) PromptArgs() []map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]string(nil), h.promptArgs...)
}

// Text returns an assistant reply holding only text.
func Text(s string) session.Message {
	return session.NewAssistantMessage(session.TextBlock{Text: s})
}

// ToolUse returns an assistant reply requesting the given tool calls.
func ToolUse(uses ...session.ToolUseBlock) session.Message {
	blocks := make([]session.Block, len(uses))
	for i, u := range uses {
		blocks[i] = u
	}
	return session.NewAssistantMessage(blocks...)
}

// ReadDoc returns a read_doc_contents tool use.
func ReadDoc(id, docID string) session.ToolUseBlock {
	return session.ToolUseBlock{ID: id, Name: "read_doc_contents", Arguments: map[string]interface{}{"doc_id": docID}}
}
