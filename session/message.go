package session

import "strings"

// Role tags a message in the conversation history.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool"
)

// Block is one piece of message content. The set of block types is closed:
// TextBlock, ToolUseBlock and ToolResultBlock.
type Block interface {
	isBlock()
}

// TextBlock is plain text written by the user or the model.
type TextBlock struct {
	Text string `json:"text"`
}

// ToolUseBlock is a request from the model to run the named tool.
type ToolUseBlock struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResultBlock answers the ToolUseBlock with the same ID.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

func (TextBlock) isBlock()       {}
func (ToolUseBlock) isBlock()    {}
func (ToolResultBlock) isBlock() {}

// Message is a single role-tagged turn of the conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// NewUserMessage returns a user message holding a single text block.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock{Text: text}}}
}

// NewAssistantMessage returns an assistant message with the given blocks.
func NewAssistantMessage(blocks ...Block) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// NewToolResultMessage returns the message answering one batch of tool uses.
func NewToolResultMessage(results ...ToolResultBlock) Message {
	blocks := make([]Block, len(results))
	for i, r := range results {
		blocks[i] = r
	}
	return Message{Role: RoleToolResult, Content: blocks}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool-use blocks of the message in order.
func (m Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, b := range m.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// ToolResults returns the tool-result blocks of the message in order.
func (m Message) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, b := range m.Content {
		if tr, ok := b.(ToolResultBlock); ok {
			results = append(results, tr)
		}
	}
	return results
}
