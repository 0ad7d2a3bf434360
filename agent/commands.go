package agent

import (
	"context"
	"strings"

	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
)

// PromptSource is the part of the tool host the command router needs.
type PromptSource interface {
	ListResourceIDs(ctx context.Context) ([]string, error)
	RenderPrompt(ctx context.Context, name string, args map[string]string) (string, error)
}

// CommandRouter maps "/name argument" input to prompt templates on the tool host.
type CommandRouter struct {
	commands map[string]config.Command
	order    []string
}

func NewCommandRouter(cmds []config.Command) *CommandRouter {
	r := &CommandRouter{commands: make(map[string]config.Command)}
	for _, c := range cmds {
		if _, ok := r.commands[c.Name]; !ok {
			r.order = append(r.order, c.Name)
		}
		r.commands[c.Name] = c
	}
	return r
}

// Commands returns the configured commands in configuration order.
func (r *CommandRouter) Commands() []config.Command {
	out := make([]config.Command, len(r.order))
	for i, name := range r.order {
		out[i] = r.commands[name]
	}
	return out
}

// ParseCommand splits "/name argument" into its parts. The argument is
// trimmed and a leading "@" is removed, so "/summarize @a.md" and
// "/summarize a.md" are the same. ok is false when input is not a command.
func ParseCommand(input string) (name, argument string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	rest := input[1:]
	if i := strings.IndexFunc(rest, isSpace); i >= 0 {
		name, argument = rest[:i], strings.TrimSpace(rest[i:])
	} else {
		name = rest
	}
	argument = strings.TrimPrefix(argument, "@")
	return name, argument, true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Route renders the prompt a slash-command stands for. matched is false for
// input that is not a command; the caller then treats it as a plain query.
// Nothing is appended to any conversation here.
func (r *CommandRouter) Route(ctx context.Context, host PromptSource, input string) (text string, matched bool, err error) {
	name, argument, ok := ParseCommand(input)
	if !ok {
		return "", false, nil
	}
	cmd, ok := r.commands[name]
	if !ok {
		return "", true, errors.Wrapf(errors.ErrUnknownCommand, "/%s", name)
	}

	if cmd.NeedsResource() {
		if argument == "" {
			return "", true, errors.Wrapf(errors.ErrUnknownResource, "/%s needs a document id", name)
		}
		ids, err := host.ListResourceIDs(ctx)
		if err != nil {
			return "", true, errors.Wrapf(err, "could not list resources for /%s", name)
		}
		found := false
		for _, id := range ids {
			if id == argument {
				found = true
				break
			}
		}
		if !found {
			return "", true, errors.Wrapf(errors.ErrUnknownResource, "'%s'", argument)
		}
	}

	text, err = host.RenderPrompt(ctx, cmd.Prompt, map[string]string{cmd.Argument: argument})
	if err != nil {
		return "", true, errors.Wrapf(err, "/%s", name)
	}
	return text, true, nil
}
