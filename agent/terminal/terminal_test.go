package terminal

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/m4xw311/docchat/agent"
	"github.com/m4xw311/docchat/agent/agenttest"
	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/llm"
	"github.com/m4xw311/docchat/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInput replays fixed lines and then reports EOF.
type scriptedInput struct {
	lines   []string
	prompts []string
	history []string
	closed  bool
}

func (s *scriptedInput) Prompt(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) AppendHistory(item string) { s.history = append(s.history, item) }

func (s *scriptedInput) Close() error {
	s.closed = true
	return nil
}

func newTestTerminal(t *testing.T, mode agent.Mode, verbosity agent.ToolVerbosity, client llm.LLMClient, lines ...string) (*Terminal, *scriptedInput, *bytes.Buffer, *agenttest.FakeHost) {
	t.Helper()
	host := agenttest.NewFakeHost()
	a, err := agent.New(&config.Config{}, host.NewSession(), mode, client, host, verbosity)
	require.NoError(t, err)
	in := &scriptedInput{lines: lines}
	out := &bytes.Buffer{}
	return NewWithIO(a, in, out), in, out, host
}

func TestTerminalNew(t *testing.T) {
	host := agenttest.NewFakeHost()
	testAgent, err := agent.New(&config.Config{}, session.New(nil), agent.ModeAuto, &llm.MockLLMClient{}, host, agent.ToolVerbosityNone)
	require.NoError(t, err)

	term := NewWithIO(testAgent, &scriptedInput{}, io.Discard)
	require.NotNil(t, term)
	assert.Same(t, testAgent, term.agent)
	assert.Nil(t, term.renderer)
}

func TestTerminalRun(t *testing.T) {
	client := llm.NewScriptedLLMClient(
		agenttest.Text("First answer."),
		agenttest.Text("Second answer."),
	)
	term, in, out, _ := newTestTerminal(t, agent.ModeAuto, agent.ToolVerbosityNone, client, "", "  next question  ")

	require.NoError(t, term.Run(context.Background(), "initial question"))

	assert.Contains(t, out.String(), "First answer.")
	assert.Contains(t, out.String(), "Second answer.")
	assert.Equal(t, []string{"next question"}, in.history)
	assert.True(t, in.closed)
	assert.Equal(t, 4, term.agent.Session.Len())
}

func TestTerminalBuiltins(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.Text("never"))
	term, _, out, _ := newTestTerminal(t, agent.ModeAuto, agent.ToolVerbosityNone, client, "/help", "/quit", "not reached")

	require.NoError(t, term.Run(context.Background(), ""))

	assert.Contains(t, out.String(), "/summarize <doc_id>")
	assert.Contains(t, out.String(), "/rewrite_markdown <doc_id>")
	assert.Empty(t, client.Calls())
	assert.Zero(t, term.agent.Session.Len())
}

func TestTerminalReportsRejectedInputAndContinues(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.Text("A summary."))
	term, _, out, _ := newTestTerminal(t, agent.ModeAuto, agent.ToolVerbosityNone, client, "/frobnicate doc.md", "/summarize @plan.md")

	require.NoError(t, term.Run(context.Background(), ""))

	assert.Contains(t, out.String(), "unknown command")
	assert.Contains(t, out.String(), "A summary.")
	assert.Equal(t, 2, term.agent.Session.Len())
}

func TestTerminalCallbacks(t *testing.T) {
	testCases := []struct {
		name         string
		mode         agent.Mode
		verbosity    agent.ToolVerbosity
		answers      []string
		wantCalled   bool
		wantInOut    []string
		wantNotInOut []string
	}{
		{"AutoModeNoVerbosity", agent.ModeAuto, agent.ToolVerbosityNone, nil, true, nil, []string{"wants to call"}},
		{"AutoModeInfoVerbosity", agent.ModeAuto, agent.ToolVerbosityInfo, nil, true, []string{"wants to call tool `read_doc_contents`"}, []string{"output:"}},
		{"AutoModeAllVerbosity", agent.ModeAuto, agent.ToolVerbosityAll, nil, true, []string{"with args", "output: The plan outlines"}, nil},
		{"PromptModeApproved", agent.ModePrompt, agent.ToolVerbosityNone, []string{"y"}, true, nil, nil},
		{"PromptModeDeclined", agent.ModePrompt, agent.ToolVerbosityAll, []string{"n"}, false, []string{"error: declined by user"}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := llm.NewScriptedLLMClient(
				agenttest.ToolUse(agenttest.ReadDoc("call_1", "plan.md")),
				agenttest.Text("Done."),
			)
			term, in, out, host := newTestTerminal(t, tc.mode, tc.verbosity, client, tc.answers...)

			require.NoError(t, term.processTurn(context.Background(), "read the plan"))

			assert.Equal(t, tc.wantCalled, len(host.ToolCalls()) == 1)
			for _, s := range tc.wantInOut {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tc.wantNotInOut {
				assert.NotContains(t, out.String(), s)
			}
			if tc.mode == agent.ModePrompt {
				require.Len(t, in.prompts, 1)
				assert.Contains(t, in.prompts[0], "Allow tool `read_doc_contents`")
			}
			assert.Contains(t, out.String(), "Done.")
		})
	}
}

func TestTerminalReportsLoopLimit(t *testing.T) {
	client := llm.NewScriptedLLMClient(agenttest.ToolUse(agenttest.ReadDoc("call_1", "plan.md")))
	host := agenttest.NewFakeHost()
	a, err := agent.New(&config.Config{MaxToolRounds: 2}, host.NewSession(), agent.ModeAuto, client, host, agent.ToolVerbosityNone)
	require.NoError(t, err)
	out := &bytes.Buffer{}
	term := NewWithIO(a, &scriptedInput{}, out)

	err = term.processTurn(context.Background(), "loop")
	require.Error(t, err)
	assert.Contains(t, out.String(), "gave up after 2 tool rounds")
}
