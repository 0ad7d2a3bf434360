package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
	opts   Options
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string, opts Options) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, dn not replace and just use c
	return &OpenAILLMClient{client: &c, model: modelName, opts: opts}, nil
}

// Chat sends a chat request to OpenAI and converts the response into our internal session.Message format.
func (o *OpenAILLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error) {
	chatMessages, err := convertMessagesToOpenaiContent(o.opts.SystemPrompt, messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            chatMessages,
		Tools:               convertToolsToOpenAITools(availableTools),
		MaxCompletionTokens: openai.Int(o.opts.maxTokens()),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts an OpenAI API response into our internal session.Message format.
func processOpenaiResponse(resp *openai.ChatCompletion) (*session.Message, error) {
	reply := session.NewAssistantMessage()
	if len(resp.Choices) == 0 {
		return &reply, nil
	}

	choice := resp.Choices[0].Message
	if choice.Content != "" {
		reply.Content = append(reply.Content, session.TextBlock{Text: choice.Content})
	}
	for _, tc := range choice.ToolCalls {
		toolArgs := map[string]interface{}{}
		// Arguments are a JSON string; an empty string means no arguments.
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &toolArgs); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
			}
		}
		reply.Content = append(reply.Content, session.ToolUseBlock{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: toolArgs,
		})
	}
	return &reply, nil
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
// Every tool result becomes its own "tool" message.
func convertMessagesToOpenaiContent(systemPrompt string, messages []session.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolUses() {
				argsBytes, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, errors.Wrapf(err, "could not marshal tool call arguments for %s", tc.Name)
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleToolResult:
			for _, tr := range msg.ToolResults() {
				content := tr.Content
				if tr.IsError {
					content = "Error: " + content
				}
				chatMessages = append(chatMessages, openai.ToolMessage(nonEmpty(content), tr.ToolUseID))
			}
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Text()))
		}
	}
	return chatMessages, nil
}

// convertToolsToOpenAITools converts tool declarations to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []tools.Declaration) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": t.Properties(),
		}
		if required := t.Required(); len(required) > 0 {
			params["required"] = required
		}

		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  params,
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}
