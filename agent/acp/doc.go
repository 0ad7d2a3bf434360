// Package acp implements the Agent Client Protocol (ACP) front end for docchat.
// Editors such as Zed drive the agent with JSON-RPC 2.0 messages over stdio,
// one JSON object per line.
//
// Supported methods:
//   - initialize: returns protocol version 1 and the agent capabilities
//   - session/new: starts a conversation and returns its id
//   - session/prompt: runs one user turn and returns its stop reason
//   - session/cancel (notification): aborts the running turn of a session
//
// While a prompt runs the server sends session/update notifications with
// agent_message_chunk, tool_call and tool_result updates. Stop reasons are
// end_turn, max_turn_requests and cancelled. Prompts naming an unknown command
// or document fail with error -32602. Sessions are kept in memory only, so
// session/load is answered with "Method not found".
//
// A resource_link block in a prompt is treated as an @reference to the linked
// document.
package acp
