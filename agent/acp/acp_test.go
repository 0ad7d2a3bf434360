package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/docchat/agent"
	"github.com/m4xw311/docchat/agent/agenttest"
	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient talks to a server started by Run through a pair of pipes.
type testClient struct {
	t      *testing.T
	in     *io.PipeWriter
	msgs   chan map[string]any
	done   chan error
	nextID int
}

func startServer(t *testing.T, a *agent.Agent) *testClient {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	c := &testClient{
		t:    t,
		in:   inW,
		msgs: make(chan map[string]any, 100),
		done: make(chan error, 1),
	}

	go func() {
		err := Run(context.Background(), a, bufio.NewReader(inR), bufio.NewWriter(outW), nil)
		outW.Close()
		c.done <- err
	}()
	go func() {
		defer close(c.msgs)
		scanner := bufio.NewScanner(outR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var m map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &m); err == nil {
				c.msgs <- m
			}
		}
	}()

	t.Cleanup(func() {
		inW.Close()
		select {
		case err := <-c.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("ACP server did not stop")
		}
	})
	return c
}

func (c *testClient) writeLine(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	_, err = c.in.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

func (c *testClient) send(method string, params any) float64 {
	c.nextID++
	c.writeLine(map[string]any{"jsonrpc": "2.0", "id": c.nextID, "method": method, "params": params})
	return float64(c.nextID)
}

func (c *testClient) notify(method string, params any) {
	c.writeLine(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// await reads messages until the response to id arrives and returns it
// together with the notifications received before it.
func (c *testClient) await(id float64) (map[string]any, []map[string]any) {
	c.t.Helper()
	var updates []map[string]any
	for {
		select {
		case m, ok := <-c.msgs:
			require.True(c.t, ok, "server closed stdout")
			if _, isResponse := m["id"]; !isResponse {
				updates = append(updates, m)
				continue
			}
			if m["id"] == id {
				return m, updates
			}
		case <-time.After(5 * time.Second):
			c.t.Fatalf("no response to request %v", id)
		}
	}
}

func (c *testClient) call(method string, params any) (map[string]any, []map[string]any) {
	c.t.Helper()
	return c.await(c.send(method, params))
}

func (c *testClient) newSession() string {
	c.t.Helper()
	resp, _ := c.call("session/new", map[string]any{"cwd": "/tmp", "mcpServers": []any{}})
	result, ok := resp["result"].(map[string]any)
	require.True(c.t, ok, "session/new failed: %v", resp)
	id, _ := result["sessionId"].(string)
	require.NotEmpty(c.t, id)
	return id
}

func textPrompt(sessionID, text string) map[string]any {
	return map[string]any{
		"sessionId": sessionID,
		"prompt":    []any{map[string]any{"type": "text", "text": text}},
	}
}

func newTestAgent(t *testing.T, cfg *config.Config, client llm.LLMClient) (*agent.Agent, *agenttest.FakeHost) {
	t.Helper()
	host := agenttest.NewFakeHost()
	a, err := agent.New(cfg, host.NewSession(), agent.ModeAuto, client, host, agent.ToolVerbosityNone)
	require.NoError(t, err)
	return a, host
}

func stopReason(t *testing.T, resp map[string]any) string {
	t.Helper()
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "expected a result, got %v", resp)
	reason, _ := result["stopReason"].(string)
	return reason
}

func errorCode(t *testing.T, resp map[string]any) float64 {
	t.Helper()
	rpcErr, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected an error, got %v", resp)
	code, _ := rpcErr["code"].(float64)
	return code
}

func updateKinds(updates []map[string]any) []string {
	var kinds []string
	for _, u := range updates {
		params, _ := u["params"].(map[string]any)
		update, _ := params["update"].(map[string]any)
		kind, _ := update["sessionUpdate"].(string)
		kinds = append(kinds, kind)
	}
	return kinds
}

func TestACPInitialize(t *testing.T) {
	a, _ := newTestAgent(t, &config.Config{}, &llm.MockLLMClient{})
	c := startServer(t, a)

	resp, _ := c.call("initialize", map[string]any{
		"protocolVersion":    1,
		"clientCapabilities": map[string]any{"fs": map[string]any{"readTextFile": true}},
	})

	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), result["protocolVersion"])
	caps, _ := result["agentCapabilities"].(map[string]any)
	assert.Equal(t, false, caps["loadSession"])
}

func TestACPUnsupportedMethods(t *testing.T) {
	a, _ := newTestAgent(t, &config.Config{}, &llm.MockLLMClient{})
	c := startServer(t, a)

	resp, _ := c.call("session/load", map[string]any{"sessionId": "anything"})
	assert.Equal(t, float64(codeMethodNotFound), errorCode(t, resp))

	_, err := c.in.Write([]byte("not json\n"))
	require.NoError(t, err)
	select {
	case m := <-c.msgs:
		assert.Equal(t, float64(codeParseError), errorCode(t, m))
	case <-time.After(5 * time.Second):
		t.Fatal("no parse error response")
	}
}

func TestACPPromptStreamsToolUpdates(t *testing.T) {
	client := llm.NewScriptedLLMClient(
		agenttest.ToolUse(agenttest.ReadDoc("call_1", "plan.md")),
		agenttest.Text("The plan outlines the implementation steps."),
	)
	a, host := newTestAgent(t, &config.Config{}, client)
	c := startServer(t, a)
	sid := c.newSession()

	resp, updates := c.call("session/prompt", textPrompt(sid, "what does the plan say?"))

	assert.Equal(t, StopEndTurn, stopReason(t, resp))
	assert.Equal(t, []string{"tool_call", "tool_result", "agent_message_chunk"}, updateKinds(updates))
	for _, u := range updates {
		params := u["params"].(map[string]any)
		assert.Equal(t, sid, params["sessionId"])
	}
	result := updates[1]["params"].(map[string]any)["update"].(map[string]any)["toolResult"].(map[string]any)
	assert.Equal(t, "call_1", result["toolCallId"])
	assert.Contains(t, result["result"], "The plan outlines")
	require.Len(t, host.ToolCalls(), 1)

	// The template agent's conversation is never used by ACP sessions.
	assert.Zero(t, a.Session.Len())
}

func TestACPResourceLinkBecomesReference(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.Text("Summary."))
	a, _ := newTestAgent(t, &config.Config{}, client)
	c := startServer(t, a)
	sid := c.newSession()

	resp, _ := c.call("session/prompt", map[string]any{
		"sessionId": sid,
		"prompt": []any{
			map[string]any{"type": "text", "text": "Summarize"},
			map[string]any{"type": "resource_link", "uri": "docs://documents/report.pdf", "name": "report"},
		},
	})

	assert.Equal(t, StopEndTurn, stopReason(t, resp))
	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0][0].Text(), `<document id="report.pdf">`)
	assert.Contains(t, calls[0][0].Text(), "condenser tower")
}

func TestACPRejectedPrompts(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.Text("never"))
	a, _ := newTestAgent(t, &config.Config{}, client)
	c := startServer(t, a)
	sid := c.newSession()

	testCases := []struct {
		name   string
		params map[string]any
	}{
		{"UnknownCommand", textPrompt(sid, "/frobnicate plan.md")},
		{"UnknownResource", textPrompt(sid, "tell me about @missing.md")},
		{"EmptyPrompt", textPrompt(sid, "   ")},
		{"UnknownSession", textPrompt("no-such-session", "hello")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, updates := c.call("session/prompt", tc.params)
			assert.Equal(t, float64(codeInvalidParams), errorCode(t, resp))
			assert.Empty(t, updates)
		})
	}
	assert.Empty(t, client.Calls())
}

func TestACPMaxTurnRequests(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.ToolUse(agenttest.ReadDoc("call_1", "plan.md")))
	a, _ := newTestAgent(t, &config.Config{MaxToolRounds: 2}, client)
	c := startServer(t, a)
	sid := c.newSession()

	resp, _ := c.call("session/prompt", textPrompt(sid, "loop forever"))

	assert.Equal(t, StopMaxTurnRequests, stopReason(t, resp))
	assert.Len(t, client.Calls(), 2)
}

func TestACPCancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	client := llm.NewScriptedLLMClient(agenttest.Text("too late"))
	client.Hook = func(ctx context.Context, call int) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	a, _ := newTestAgent(t, &config.Config{}, client)
	c := startServer(t, a)
	sid := c.newSession()

	id := c.send("session/prompt", textPrompt(sid, "take your time"))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("prompt never reached the LLM client")
	}
	c.notify("session/cancel", map[string]any{"sessionId": sid})

	resp, updates := c.await(id)
	assert.Equal(t, StopCancelled, stopReason(t, resp))
	assert.Empty(t, updates)
}

func TestACPSessionsKeepSeparateHistories(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.Text("Hello."))
	a, _ := newTestAgent(t, &config.Config{}, client)
	c := startServer(t, a)
	first := c.newSession()
	second := c.newSession()
	require.NotEqual(t, first, second)

	resp, _ := c.call("session/prompt", textPrompt(first, "one"))
	assert.Equal(t, StopEndTurn, stopReason(t, resp))
	resp, _ = c.call("session/prompt", textPrompt(first, "two"))
	assert.Equal(t, StopEndTurn, stopReason(t, resp))
	resp, _ = c.call("session/prompt", textPrompt(second, "three"))
	assert.Equal(t, StopEndTurn, stopReason(t, resp))

	calls := client.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[1], 3)
	assert.Len(t, calls[2], 1)
	assert.Equal(t, "three", calls[2][0].Text())
}

func TestExtractUserText(t *testing.T) {
	testCases := []struct {
		name   string
		blocks []contentBlock
		want   string
	}{
		{
			name:   "TextOnly",
			blocks: []contentBlock{{Type: "text", Text: "Hello"}, {Type: "text", Text: " World "}},
			want:   "Hello World",
		},
		{
			name: "DocumentLink",
			blocks: []contentBlock{
				{Type: "text", Text: "/summarize"},
				{Type: "resource_link", URI: "docs://documents/plan.md", Name: "Plan"},
			},
			want: "/summarize @plan.md",
		},
		{
			name:   "OtherLinkUsesName",
			blocks: []contentBlock{{Type: "resource_link", URI: "file:///tmp/notes.txt", Name: "notes.txt"}},
			want:   "@notes.txt",
		},
		{
			name:   "UnsupportedBlocksIgnored",
			blocks: []contentBlock{{Type: "image"}, {Type: "text", Text: "hi"}},
			want:   "hi",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractUserText(tc.blocks))
		})
	}
}
