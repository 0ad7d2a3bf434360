package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
	opts    Options
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string, opts Options) (*BedrockLLMClient, error) {
	var loadOpts []func(*config.LoadOptions) error
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	// A custom endpoint is useful for testing against a local stub.
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockLLMClient{
		client:  client,
		modelID: modelID,
		region:  cfg.Region,
		opts:    opts,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error) {
	anthropicMessages := convertMessagesToAnthropicFormat(messages)

	requestBody, err := createAnthropicRequest(anthropicMessages, b.opts.SystemPrompt, b.opts.maxTokens(), availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model %s in %s", b.modelID, b.region)
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts our internal message format to the
// raw Anthropic messages format Bedrock expects.
func convertMessagesToAnthropicFormat(messages []session.Message) []map[string]interface{} {
	var anthropicMessages []map[string]interface{}

	for _, msg := range messages {
		var content []map[string]interface{}
		for _, block := range msg.Content {
			switch b := block.(type) {
			case session.TextBlock:
				if b.Text == "" {
					continue
				}
				content = append(content, map[string]interface{}{
					"type": "text",
					"text": b.Text,
				})
			case session.ToolUseBlock:
				input := b.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    b.ID,
					"name":  b.Name,
					"input": input,
				})
			case session.ToolResultBlock:
				content = append(content, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": b.ToolUseID,
					"content":     nonEmpty(b.Content),
					"is_error":    b.IsError,
				})
			}
		}
		if len(content) == 0 {
			continue
		}

		// Tool results go back to the model as a user turn.
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "assistant"
		}
		anthropicMessages = append(anthropicMessages, map[string]interface{}{
			"role":    role,
			"content": content,
		})
	}

	return anthropicMessages
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string, maxTokens int64, availableTools []tools.Declaration) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(availableTools) > 0 {
		var toolDefs []map[string]interface{}
		for _, tool := range availableTools {
			schema := map[string]interface{}{
				"type":       "object",
				"properties": tool.Properties(),
			}
			if required := tool.Required(); len(required) > 0 {
				schema["required"] = required
			}
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":         tool.Name,
				"description":  tool.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into our internal session.Message format.
func processBedrockResponse(body []byte) (*session.Message, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	reply := session.NewAssistantMessage()
	content, ok := response["content"]
	if !ok {
		return &reply, nil
	}

	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	toolCallIDCounter := 0
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		itemType, ok := itemMap["type"].(string)
		if !ok {
			continue
		}

		switch itemType {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				reply.Content = append(reply.Content, session.TextBlock{Text: text})
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, _ := itemMap["input"].(map[string]interface{})
			if input == nil {
				input = map[string]interface{}{}
			}
			id := fmt.Sprintf("call_%d_%s", toolCallIDCounter, name)
			if toolID, ok := itemMap["id"].(string); ok && toolID != "" {
				id = toolID
			}
			reply.Content = append(reply.Content, session.ToolUseBlock{
				ID:        id,
				Name:      name,
				Arguments: input,
			})
			toolCallIDCounter++
		}
	}

	return &reply, nil
}
