package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client    *genai.Client
	modelName string
	opts      Options
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string, opts Options) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{
		client:    client,
		modelName: modelName,
		opts:      opts,
	}, nil
}

// Chat sends a chat request to the Gemini API. A fresh GenerativeModel is
// configured per call so concurrent sessions do not share tool settings.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Declaration) (*session.Message, error) {
	history := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return nil, errors.New("cannot send an empty conversation to Gemini")
	}

	model := g.client.GenerativeModel(g.modelName)
	model.Tools = convertToolsToGeminiTools(availableTools)
	model.SetMaxOutputTokens(int32(g.opts.maxTokens()))
	if g.opts.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(g.opts.SystemPrompt)}}
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
// Gemini matches function responses by name, so tool-use ids are mapped back
// to the names of the calls they answer.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	callNames := make(map[string]string)
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		var parts []genai.Part
		for _, block := range msg.Content {
			switch b := block.(type) {
			case session.TextBlock:
				if b.Text != "" {
					parts = append(parts, genai.Text(b.Text))
				}
			case session.ToolUseBlock:
				callNames[b.ID] = b.Name
				parts = append(parts, genai.FunctionCall{Name: b.Name, Args: b.Arguments})
			case session.ToolResultBlock:
				response := map[string]any{"content": b.Content}
				if b.IsError {
					response = map[string]any{"error": b.Content}
				}
				parts = append(parts, genai.FunctionResponse{
					Name:     callNames[b.ToolUseID],
					Response: response,
				})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGeminiTools converts tool declarations to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(ts []tools.Declaration) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, tool := range ts {
		fd := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
		// Gemini rejects object schemas without properties.
		if len(tool.Properties()) > 0 {
			fd.Parameters = jsonSchemaToGenai(tool.InputSchema)
		}
		funcDecls = append(funcDecls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// jsonSchemaToGenai translates the subset of JSON schema Gemini understands.
func jsonSchemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	switch schema["type"] {
	case "string":
		out.Type = genai.TypeString
		if enum, ok := schema["enum"].([]interface{}); ok {
			for _, e := range enum {
				if s, ok := e.(string); ok {
					out.Enum = append(out.Enum, s)
				}
			}
		}
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if items, ok := schema["items"].(map[string]interface{}); ok {
			out.Items = jsonSchemaToGenai(items)
		}
	default:
		out.Type = genai.TypeObject
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			out.Properties = make(map[string]*genai.Schema, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]interface{}); ok {
					out.Properties[name] = jsonSchemaToGenai(pm)
				}
			}
		}
		out.Required = tools.Declaration{InputSchema: schema}.Required()
	}
	return out
}

// processGeminiResponse converts a Gemini API response into our internal session.Message format.
// Gemini does not assign call ids, so one is generated per function call.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*session.Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	reply := session.NewAssistantMessage()
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			reply.Content = append(reply.Content, session.TextBlock{Text: string(v)})
		case genai.FunctionCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			reply.Content = append(reply.Content, session.ToolUseBlock{
				ID:        "call_" + uuid.NewString(),
				Name:      v.Name,
				Arguments: args,
			})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}

	return &reply, nil
}
