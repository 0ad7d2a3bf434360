package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/docchat/agent"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/peterh/liner"
)

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// LineReader reads one line of user input. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent    *agent.Agent
	in       LineReader
	out      io.Writer
	renderer *glamour.TermRenderer
	history  string
}

// New creates a Terminal reading from a line editor on stdin and writing to
// stdout. Input history is kept in ~/.docchat/history.
func New(a *agent.Agent) *Terminal {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	t := NewWithIO(a, line, os.Stdout)
	if home, err := os.UserHomeDir(); err == nil {
		t.history = filepath.Join(home, ".docchat", "history")
		if f, err := os.Open(t.history); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	return t
}

// NewWithIO creates a Terminal over the given input and output.
func NewWithIO(a *agent.Agent, in LineReader, out io.Writer) *Terminal {
	t := &Terminal{agent: a, in: in, out: out}
	if a.Config.RenderMarkdown {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		); err == nil {
			t.renderer = r
		}
	}
	return t
}

// Run starts the interactive terminal session. It returns when the user
// quits or input ends.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	defer t.close()

	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			t.printError(err)
		}
	}

	for {
		input, err := t.in.Prompt(promptStyle.Render("You: "))
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(t.out)
				return nil
			}
			return errors.Wrapf(err, "failed to read input")
		}

		userInput := strings.TrimSpace(input)
		if userInput == "" {
			continue
		}
		t.in.AppendHistory(userInput)

		switch userInput {
		case "/quit", "/exit":
			return nil
		case "/help":
			t.printHelp()
			continue
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			t.printError(err)
		}
	}
}

func (t *Terminal) close() {
	if t.history != "" {
		if err := os.MkdirAll(filepath.Dir(t.history), 0755); err == nil {
			if f, err := os.OpenFile(t.history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
				if h, ok := t.in.(interface {
					WriteHistory(io.Writer) (int, error)
				}); ok {
					_, _ = h.WriteHistory(f)
				}
				f.Close()
			}
		}
	}
	_ = t.in.Close()
}

func (t *Terminal) printHelp() {
	fmt.Fprintln(t.out, "Ask a question, mention documents with @id, or use a command:")
	for _, name := range t.agent.Commands() {
		fmt.Fprintf(t.out, "  /%s <doc_id>\n", name)
	}
	fmt.Fprintln(t.out, "  /help\n  /quit, /exit")
}

func (t *Terminal) printError(err error) {
	fmt.Fprintf(t.out, "%s %v\n", errorStyle.Render("Error:"), err)
}

func (t *Terminal) render(message string) string {
	if t.renderer == nil {
		return message
	}
	rendered, err := t.renderer.Render(message)
	if err != nil {
		return message
	}
	return rendered
}

// processTurn handles a single user input turn. Ctrl+C while the turn runs
// cancels it; the session stays usable.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			fmt.Fprintf(t.out, "%s %s\n", assistantStyle.Render("docchat:"), t.render(message))
		},
		OnToolCall: func(call session.ToolUseBlock) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintln(t.out, toolStyle.Render(fmt.Sprintf("docchat wants to call tool `%s` with args: %v", call.Name, call.Arguments)))
			case agent.ToolVerbosityInfo:
				fmt.Fprintln(t.out, toolStyle.Render(fmt.Sprintf("docchat wants to call tool `%s`", call.Name)))
			}
		},
		OnToolResult: func(call session.ToolUseBlock, result session.ToolResultBlock) {
			if t.agent.Verbosity != agent.ToolVerbosityAll {
				return
			}
			label := "output"
			if result.IsError {
				label = "error"
			}
			fmt.Fprintln(t.out, toolStyle.Render(fmt.Sprintf("Tool `%s` %s: %s", call.Name, label, result.Content)))
		},
		ShouldExecuteTool: func(call session.ToolUseBlock) bool {
			if t.agent.Mode != agent.ModePrompt {
				return true
			}
			answer, err := t.in.Prompt(fmt.Sprintf("Allow tool `%s` with args %v? (y/n): ", call.Name, call.Arguments))
			if err != nil {
				return false
			}
			return strings.TrimSpace(strings.ToLower(answer)) == "y"
		},
		OnWarning: func(warning string) {
			fmt.Fprintf(t.out, "%s %s\n", warningStyle.Render("Warning:"), warning)
		},
	}

	result, err := t.agent.ProcessUserInput(turnCtx, userInput, callbacks)
	if err != nil && result != nil {
		switch result.Termination {
		case agent.TerminationMaxRounds:
			fmt.Fprintf(t.out, "%s gave up after %d tool rounds\n", warningStyle.Render("Warning:"), result.Rounds)
		case agent.TerminationCancelled:
			fmt.Fprintln(t.out, warningStyle.Render("[Cancelled]"))
			return nil
		}
	}
	return err
}
