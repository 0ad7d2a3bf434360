// Package agent provides the core agent functionality for docchat.
//
// This package contains the code shared between the interaction modes
// (terminal, ACP server and WebSocket bridge). It defines the Agent type, the
// command router, the resource reference resolver and the tool-call loop.
//
// # Architecture
//
//   - Command router (commands.go): turns "/summarize report.pdf" into the text
//     of the "summarize" prompt rendered by the tool host
//   - Reference resolver (resolver.go): inlines documents mentioned as
//     "@report.pdf" into a free-form query
//   - Tool-call loop (agent.go): asks the model, runs the tools it requests
//     through the tool host and feeds the results back until the model answers
//     without tool requests
//
// The front ends live in subpackages:
//
//   - agent/terminal: interactive CLI
//   - agent/acp: Agent Client Protocol server for IDE integration
//   - agent/bridge: WebSocket server
//
// # Usage
//
//	agent, err := agent.New(cfg, session, mode, llmClient, toolHost, verbosity)
//	if err != nil {
//	    // handle error
//	}
//
//	callbacks := agent.ProcessCallbacks{
//	    OnAssistantMessage: func(message string) {
//	        // Handle assistant responses
//	    },
//	    OnToolCall: func(call session.ToolUseBlock) {
//	        // Handle tool execution requests
//	    },
//	    OnToolResult: func(call session.ToolUseBlock, result session.ToolResultBlock) {
//	        // Handle tool execution results
//	    },
//	    ShouldExecuteTool: func(call session.ToolUseBlock) bool {
//	        // Determine if a tool should be executed (for prompt mode)
//	        return true
//	    },
//	    OnWarning: func(warning string) {
//	        // Handle non-fatal warnings
//	    },
//	}
//
//	result, err := agent.ProcessUserInput(ctx, "What does @plan.md say?", callbacks)
//
// # Errors
//
// Input that names an unknown command or resource is rejected with
// errors.ErrUnknownCommand or errors.ErrUnknownResource before anything is
// added to the session. Failing tools never abort a turn: their results are
// marked as errors and handed back to the model. A turn ends early with
// errors.ErrToolLoopExceeded, errors.ErrCompletionService or
// errors.ErrCancelled; the session stays usable in every case.
//
// # Modes
//
//   - ModeAuto: Tools are executed automatically without confirmation
//   - ModePrompt: Tool execution requires confirmation (handled via callbacks)
//
// # Tool Verbosity
//
//   - ToolVerbosityNone: No tool execution details are shown
//   - ToolVerbosityInfo: Tool names are shown
//   - ToolVerbosityAll: Tool names, arguments and results are shown
package agent
