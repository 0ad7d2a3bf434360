// Package terminal implements the command-line interface (CLI) mode for the docchat agent.
//
// Users type questions, mention documents with "@id" and run prompt commands
// such as "/summarize report.pdf". Input is read with a line editor that keeps
// history across runs; answers can be rendered as markdown.
//
// # Usage
//
//	agent, err := agent.New(cfg, session, mode, llmClient, toolHost, verbosity)
//	if err != nil {
//	    // handle error
//	}
//
//	term := terminal.New(agent)
//	err = term.Run(ctx, initialPrompt)
//
// # Built-in commands
//
//   - /help lists the prompt commands
//   - /quit and /exit end the session
//
// Ctrl+C while a turn runs cancels the turn; at the prompt it ends the session.
//
// # Modes
//
//   - Auto mode: Tools are executed automatically without user confirmation
//   - Prompt mode: User is prompted for confirmation before each tool execution
//
// # Verbosity Levels
//
//   - None: No tool execution information is displayed
//   - Info: Tool names are displayed when called
//   - All: Tool names, arguments, and results are displayed
package terminal
