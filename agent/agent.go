package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/llm"
	"github.com/m4xw311/docchat/session"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// ToolVerbosity controls how much front ends print about tool calls.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ParseMode validates a mode name. An empty name selects ModePrompt.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModePrompt, nil
	case ModeAuto, ModePrompt:
		return Mode(s), nil
	}
	return "", errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", s)
}

// ParseToolVerbosity validates a verbosity level. An empty level selects ToolVerbosityNone.
func ParseToolVerbosity(s string) (ToolVerbosity, error) {
	switch ToolVerbosity(s) {
	case "":
		return ToolVerbosityNone, nil
	case ToolVerbosityNone, ToolVerbosityInfo, ToolVerbosityAll:
		return ToolVerbosity(s), nil
	}
	return "", errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", s)
}

// Termination tells why ProcessUserInput returned.
type Termination string

const (
	TerminationComplete  Termination = "complete"
	TerminationMaxRounds Termination = "max_rounds"
	TerminationCancelled Termination = "cancelled"
	TerminationError     Termination = "error"
)

// Result is the outcome of one user turn.
type Result struct {
	// Output is the text of the last assistant message. For turns that did
	// not complete it is the partial answer, possibly empty.
	Output      string
	Rounds      int
	Termination Termination
}

// ToolHost is everything the agent needs from the tool host.
type ToolHost interface {
	ListResourceIDs(ctx context.Context) ([]string, error)
	ReadResource(ctx context.Context, id string) (string, error)
	InvokeTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
	RenderPrompt(ctx context.Context, name string, args map[string]string) (string, error)
}

// ProcessCallbacks let a front end observe and steer one user turn. All
// callbacks run on the goroutine that called ProcessUserInput; nil callbacks
// are skipped.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(call session.ToolUseBlock)
	OnToolResult       func(call session.ToolUseBlock, result session.ToolResultBlock)
	// ShouldExecuteTool approves a tool call. A nil callback approves everything.
	ShouldExecuteTool func(call session.ToolUseBlock) bool
	OnWarning         func(warning string)
}

type Agent struct {
	Config    *config.Config
	Session   *session.Session
	LLMClient llm.LLMClient
	Host      ToolHost
	Mode      Mode
	Verbosity ToolVerbosity
	Logger    *slog.Logger

	router *CommandRouter
}

func New(cfg *config.Config, sess *session.Session, mode Mode, client llm.LLMClient, host ToolHost, verbosity ToolVerbosity) (*Agent, error) {
	if cfg == nil || sess == nil || client == nil || host == nil {
		return nil, errors.New("agent needs a config, a session, an LLM client and a tool host")
	}
	cfg.ApplyDefaults()
	return &Agent{
		Config:    cfg,
		Session:   sess,
		LLMClient: client,
		Host:      host,
		Mode:      mode,
		Verbosity: verbosity,
		Logger:    slog.Default(),
		router:    NewCommandRouter(cfg.Commands),
	}, nil
}

// WithSession returns an agent sharing everything but the conversation.
func (a *Agent) WithSession(sess *session.Session) *Agent {
	clone := *a
	clone.Session = sess
	return &clone
}

// Commands lists the slash-commands the agent understands.
func (a *Agent) Commands() []string {
	cmds := a.router.Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	return names
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// ProcessUserInput runs one user turn: slash-commands are rendered through
// the tool host, other input has its @references resolved, and the prepared
// message then drives the tool-call loop.
//
// Rejected input (unknown command or resource) returns a nil Result and
// leaves the history untouched. Loop failures return a Result carrying the
// partial answer together with the error.
func (a *Agent) ProcessUserInput(ctx context.Context, input string, cb ProcessCallbacks) (*Result, error) {
	text, err := a.prepare(ctx, input, cb)
	if err != nil {
		return nil, err
	}
	a.Session.AddMessage(session.NewUserMessage(text))
	return a.runLoop(ctx, cb)
}

func (a *Agent) prepare(ctx context.Context, input string, cb ProcessCallbacks) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty input")
	}

	text, matched, err := a.router.Route(ctx, a.Host, input)
	if err != nil {
		return "", err
	}
	if matched {
		a.logger().Debug("rendered command", "session", a.Session.ID, "input", input)
		return text, nil
	}

	res, err := ResolveReferences(ctx, a.Host, input)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve references")
	}
	if len(res.Unresolved) > 0 {
		if a.Config.UnresolvedReferences != config.ReferencesKeep {
			return "", errors.Wrapf(errors.ErrUnknownResource, "'%s'", strings.Join(res.Unresolved, "', '"))
		}
		warn(cb, fmt.Sprintf("unresolved references sent as error markers: %s", strings.Join(res.Unresolved, ", ")))
	}
	if len(res.Resolved) > 0 {
		a.logger().Debug("resolved references", "session", a.Session.ID, "resources", res.Resolved)
	}
	return res.Text, nil
}

// runLoop alternates completion calls and tool batches until a reply has no
// tool requests. A round is one completion call plus the tools it requested.
func (a *Agent) runLoop(ctx context.Context, cb ProcessCallbacks) (*Result, error) {
	result := &Result{}
	for {
		if ctx.Err() != nil {
			result.Termination = TerminationCancelled
			return result, errors.Wrapf(errors.ErrCancelled, "stopped after %d rounds", result.Rounds)
		}
		if result.Rounds >= a.Config.MaxToolRounds {
			result.Termination = TerminationMaxRounds
			a.logger().Warn("tool loop exceeded", "session", a.Session.ID, "rounds", result.Rounds)
			return result, errors.Wrapf(errors.ErrToolLoopExceeded, "limit is %d", a.Config.MaxToolRounds)
		}

		reply, err := a.complete(ctx)
		if err != nil {
			if ctx.Err() != nil {
				result.Termination = TerminationCancelled
				return result, errors.Wrapf(errors.Join(errors.ErrCancelled, err), "completion interrupted")
			}
			result.Termination = TerminationError
			return result, errors.Wrapf(errors.Join(errors.ErrCompletionService, err), "completion call failed")
		}

		a.Session.AddMessage(*reply)
		result.Output = reply.Text()
		if result.Output != "" && cb.OnAssistantMessage != nil {
			cb.OnAssistantMessage(result.Output)
		}

		uses := reply.ToolUses()
		if len(uses) == 0 {
			result.Termination = TerminationComplete
			return result, nil
		}

		results := a.executeTools(ctx, uses, cb)
		a.Session.AddMessage(session.NewToolResultMessage(results...))
		result.Rounds++
	}
}

func (a *Agent) complete(ctx context.Context) (*session.Message, error) {
	cctx, cancel := context.WithTimeout(ctx, a.Config.CompletionTimeout)
	defer cancel()

	start := time.Now()
	reply, err := a.LLMClient.Chat(cctx, a.Session.Messages(), a.Session.Tools())
	if err != nil {
		a.logger().Error("completion failed", "session", a.Session.ID, "error", err)
		return nil, err
	}
	if reply == nil {
		empty := session.NewAssistantMessage()
		reply = &empty
	}
	reply.Role = session.RoleAssistant
	a.logger().Debug("completion", "session", a.Session.ID, "duration", time.Since(start), "tool_uses", len(reply.ToolUses()))
	return reply, nil
}

// executeTools answers every tool use of one reply, in request order.
// Approval happens first for the whole batch; approved calls then run
// sequentially or, with parallel_tools, concurrently. Calls not started
// before ctx is cancelled get a "cancelled" error result.
func (a *Agent) executeTools(ctx context.Context, uses []session.ToolUseBlock, cb ProcessCallbacks) []session.ToolResultBlock {
	results := make([]session.ToolResultBlock, len(uses))
	approved := make([]bool, len(uses))
	for i, use := range uses {
		if cb.OnToolCall != nil {
			cb.OnToolCall(use)
		}
		approved[i] = cb.ShouldExecuteTool == nil || cb.ShouldExecuteTool(use)
		if !approved[i] {
			results[i] = errorResult(use, "declined by user")
		}
	}

	var wg sync.WaitGroup
	for i, use := range uses {
		if !approved[i] {
			continue
		}
		if ctx.Err() != nil {
			results[i] = errorResult(use, "cancelled")
			continue
		}
		if a.Config.ParallelTools && len(uses) > 1 {
			wg.Add(1)
			go func(idx int, call session.ToolUseBlock) {
				defer wg.Done()
				results[idx] = a.executeTool(ctx, call)
			}(i, use)
			continue
		}
		results[i] = a.executeTool(ctx, use)
	}
	wg.Wait()

	if cb.OnToolResult != nil {
		for i, use := range uses {
			cb.OnToolResult(use, results[i])
		}
	}
	return results
}

// executeTool runs one call. A started call is not interrupted by
// cancellation of ctx; only the tool timeout bounds it.
func (a *Agent) executeTool(ctx context.Context, use session.ToolUseBlock) session.ToolResultBlock {
	if !a.declared(use.Name) {
		return errorResult(use, fmt.Sprintf("unknown tool '%s'", use.Name))
	}

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.ToolTimeout)
	defer cancel()

	start := time.Now()
	out, err := a.Host.InvokeTool(execCtx, use.Name, use.Arguments)
	logger := a.logger().With("session", a.Session.ID, "tool", use.Name, "duration", time.Since(start))
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			logger.Warn("tool timed out")
			return errorResult(use, fmt.Sprintf("tool '%s' timed out after %s", use.Name, a.Config.ToolTimeout))
		}
		logger.Warn("tool failed", "error", err)
		return errorResult(use, err.Error())
	}
	logger.Debug("tool finished")
	return session.ToolResultBlock{ToolUseID: use.ID, Content: out}
}

func (a *Agent) declared(name string) bool {
	for _, t := range a.Session.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func errorResult(use session.ToolUseBlock, msg string) session.ToolResultBlock {
	return session.ToolResultBlock{ToolUseID: use.ID, Content: msg, IsError: true}
}

func warn(cb ProcessCallbacks, msg string) {
	if cb.OnWarning != nil {
		cb.OnWarning(msg)
	}
}
