package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpSession is the part of *mcpsdk.ClientSession the adapter needs.
type mcpSession interface {
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	ReadResource(ctx context.Context, params *mcpsdk.ReadResourceParams) (*mcpsdk.ReadResourceResult, error)
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	GetPrompt(ctx context.Context, params *mcpsdk.GetPromptParams) (*mcpsdk.GetPromptResult, error)
	Close() error
}

// Client is a stateless facade over an MCP session with the tool host.
// Besides the connection itself it only remembers the tool names it has
// listed, so that requests for tools the host never offered fail locally.
type Client struct {
	Name        string
	cmd         *exec.Cmd
	conn        mcpSession
	resourceURI string
	logger      *slog.Logger

	mu    sync.RWMutex
	known map[string]bool
}

// Connect starts the tool host subprocess and opens an MCP session with it.
func Connect(ctx context.Context, hostCfg config.ToolHost, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(hostCfg.Command, hostCfg.Args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "docchat", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to tool host '%s'", hostCfg.Command)
	}
	c := newClient(hostCfg.Command, conn, hostCfg.ResourceURI, logger)
	c.cmd = cmd
	c.logger.Info("connected to tool host", "command", hostCfg.Command, "args", hostCfg.Args)
	return c, nil
}

func newClient(name string, conn mcpSession, resourceURI string, logger *slog.Logger) *Client {
	if resourceURI == "" {
		resourceURI = config.DefaultResourceURI
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Name:        name,
		conn:        conn,
		resourceURI: strings.TrimSuffix(resourceURI, "/"),
		logger:      logger.With("component", "host", "host", name),
	}
}

// ListTools returns every tool the host provides, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]tools.Declaration, error) {
	var decls []tools.Declaration
	known := make(map[string]bool)
	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := c.conn.ListTools(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list tools from tool host '%s'", c.Name)
		}
		for _, t := range toolList.Tools {
			decls = append(decls, tools.Declaration{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schemaToMap(t.InputSchema),
			})
			known[t.Name] = true
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	c.mu.Lock()
	c.known = known
	c.mu.Unlock()

	c.logger.Info("listed tools", "count", len(decls))
	return decls, nil
}

// ListResourceIDs reads the host's resource index, a JSON array of ids.
func (c *Client) ListResourceIDs(ctx context.Context) ([]string, error) {
	text, err := c.readURI(ctx, c.resourceURI)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list resources")
	}
	var ids []string
	if err := json.Unmarshal([]byte(text), &ids); err != nil {
		return nil, errors.Wrapf(err, "resource index %s is not a JSON list of ids", c.resourceURI)
	}
	return ids, nil
}

// ReadResource returns the text content of the resource with the given id.
func (c *Client) ReadResource(ctx context.Context, id string) (string, error) {
	text, err := c.readURI(ctx, c.resourceURI+"/"+id)
	if err != nil {
		return "", errors.Wrapf(errors.Join(errors.ErrResourceNotFound, err), "reading resource '%s'", id)
	}
	return text, nil
}

func (c *Client) readURI(ctx context.Context, uri string) (string, error) {
	result, err := c.conn.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, rc := range result.Contents {
		if rc == nil {
			continue
		}
		sb.WriteString(rc.Text)
	}
	return sb.String(), nil
}

// InvokeTool calls the named tool and returns its text output. A tool the
// host did not list, a transport failure and a tool-reported error all fail
// with ErrToolExecution.
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.mu.RLock()
	known := c.known
	c.mu.RUnlock()
	if known != nil && !known[name] {
		return "", errors.Wrapf(errors.ErrToolExecution, "tool '%s' is not provided by the tool host", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	c.logger.Debug("calling tool", "tool", name)
	result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(errors.Join(errors.ErrToolExecution, err), "failed to call tool '%s'", name)
	}
	out := contentText(result.Content)
	if result.IsError {
		return "", errors.Wrapf(errors.ErrToolExecution, "tool '%s' reported: %s", name, out)
	}
	return out, nil
}

// RenderPrompt renders a prompt template and returns the concatenated text
// of its messages.
func (c *Client) RenderPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	result, err := c.conn.GetPrompt(ctx, &mcpsdk.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(errors.Join(errors.ErrPromptNotFound, err), "rendering prompt '%s'", name)
	}
	var parts []string
	for _, msg := range result.Messages {
		if msg == nil {
			continue
		}
		if text := contentText([]mcpsdk.Content{msg.Content}); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// Close ends the MCP session and terminates the tool host subprocess.
func (c *Client) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil {
		c.logger.Info("terminating tool host")
		_ = c.cmd.Process.Kill()
	}
	return err
}

func contentText(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, ct := range content {
		if tc, ok := ct.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// schemaToMap converts the host's JSON schema into a plain map so the LLM
// backends can pass it on without knowing the schema type.
func schemaToMap(schema any) map[string]interface{} {
	out := map[string]interface{}{}
	if schema != nil {
		if data, err := json.Marshal(schema); err == nil {
			var decoded map[string]interface{}
			if json.Unmarshal(data, &decoded) == nil && decoded != nil {
				out = decoded
			}
		}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]interface{}{}
	}
	return out
}
