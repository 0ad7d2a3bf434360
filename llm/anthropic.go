package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
	opts   Options
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string, opts Options) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	if modelName == "" {
		return nil, errors.New("no model configured for the Anthropic client (set 'model' or CLAUDE_MODEL)")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
		opts:   opts,
	}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.opts.maxTokens(),
		Messages:  convertMessagesToAnthropicMessages(messages),
	}

	if a.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: a.opts.SystemPrompt},
		}
	}
	anthropicTools := convertToolsToAnthropicTools(availableTools)
	params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
	for i, toolParam := range anthropicTools {
		params.Tools[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
// Tool results travel back to the model as a user turn.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam

	for _, msg := range messages {
		var contentItems []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch b := block.(type) {
			case session.TextBlock:
				if b.Text == "" {
					continue
				}
				contentItems = append(contentItems, anthropic.NewTextBlock(b.Text))
			case session.ToolUseBlock:
				input := b.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: input,
					},
				})
			case session.ToolResultBlock:
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: nonEmpty(b.Content)},
						}},
					},
				})
			}
		}
		if len(contentItems) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == session.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
			Role:    role,
			Content: contentItems,
		})
	}

	return anthropicMessages
}

// convertToolsToAnthropicTools converts tool declarations to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Declaration) []anthropic.ToolParam {
	if len(ts) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Properties(),
				Required:   t.Required(),
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into our internal session.Message format.
func processAnthropicResponse(resp *anthropic.Message) (*session.Message, error) {
	reply := session.NewAssistantMessage()

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Content = append(reply.Content, session.TextBlock{Text: c.Text})
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
				}
			}
			if args == nil {
				args = map[string]interface{}{}
			}
			reply.Content = append(reply.Content, session.ToolUseBlock{
				ID:        c.ID,
				Name:      c.Name,
				Arguments: args,
			})
		}
	}

	return &reply, nil
}

// nonEmpty keeps providers that reject empty text blocks happy.
func nonEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}
