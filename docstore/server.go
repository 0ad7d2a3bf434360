package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ServerName    = "DocumentMCP"
	ServerVersion = "0.1.0"

	// DocumentURITemplate addresses one document; the index lives at
	// config.DefaultResourceURI.
	DocumentURITemplate = config.DefaultResourceURI + "/{doc_id}"
)

const (
	summarizeTemplate       = "Please provide a concise summary of the following document:\n\n%s"
	rewriteMarkdownTemplate = "Please rewrite the following document in proper markdown format:\n\n%s"
)

// NewServer builds the document MCP server: three tools, the document index
// resource with its per-document template, and two prompts.
func NewServer(store *Store, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{store: store, logger: logger.With("component", "docstore")}

	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(mcp.NewTool("read_doc_contents",
		mcp.WithDescription("Read the contents of a document and return it as a string."),
		mcp.WithString("doc_id", mcp.Required(), mcp.Description("Id of the document to read")),
	), h.readDocContents)
	s.AddTool(mcp.NewTool("edit_document",
		mcp.WithDescription("Edit a document by replacing a string in the documents content with a new string."),
		mcp.WithString("doc_id", mcp.Required(), mcp.Description("Id of the document that will be edited")),
		mcp.WithString("old_str", mcp.Required(), mcp.Description("The text to replace. Must match exactly, including whitespace.")),
		mcp.WithString("new_str", mcp.Required(), mcp.Description("The new text to insert in place of the old text.")),
	), h.editDocument)
	s.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("Get a list of all available document IDs"),
	), h.listDocuments)

	// Resources
	s.AddResource(mcp.NewResource(config.DefaultResourceURI, "documents",
		mcp.WithResourceDescription("JSON list of all available document IDs"),
		mcp.WithMIMEType("application/json"),
	), h.readIndex)
	s.AddResourceTemplate(mcp.NewResourceTemplate(DocumentURITemplate, "document",
		mcp.WithTemplateDescription("The contents of a specific document"),
		mcp.WithTemplateMIMEType("text/plain"),
	), h.readDocument)

	// Prompts
	s.AddPrompt(mcp.NewPrompt("rewrite_markdown",
		mcp.WithPromptDescription("Rewrite a document in proper markdown format"),
		mcp.WithArgument("doc_id", mcp.ArgumentDescription("ID of the document to rewrite in markdown"), mcp.RequiredArgument()),
	), h.documentPrompt("Rewrite a document in markdown format", rewriteMarkdownTemplate))
	s.AddPrompt(mcp.NewPrompt("summarize",
		mcp.WithPromptDescription("Generate a summary of a document"),
		mcp.WithArgument("doc_id", mcp.ArgumentDescription("ID of the document to summarize"), mcp.RequiredArgument()),
	), h.documentPrompt("Generate a summary of a document", summarizeTemplate))

	return s
}

type handlers struct {
	store  *Store
	logger *slog.Logger
}

func (h *handlers) readDocContents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("doc_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := h.store.Get(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Doc with id %s not found", id)), nil
	}
	h.logger.Debug("read document", "id", id)
	return mcp.NewToolResultText(content), nil
}

func (h *handlers) editDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("doc_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	oldStr, err := req.RequireString("old_str")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newStr, err := req.RequireString("new_str")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	n, err := h.store.Edit(id, oldStr, newStr)
	if err != nil {
		if errors.Is(err, errors.ErrResourceNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Doc with id %s not found", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	h.logger.Info("edited document", "id", id, "replacements", n)
	return mcp.NewToolResultText(fmt.Sprintf("Replaced %d occurrence(s) in %s", n, id)), nil
}

func (h *handlers) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(h.store.IDs())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode document ids")
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handlers) readIndex(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(h.store.IDs())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode document ids")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (h *handlers) readDocument(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := documentID(req.Params.URI)
	content, err := h.store.Get(id)
	if err != nil {
		return nil, errors.Wrapf(err, "Document with id '%s' not found", id)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: content},
	}, nil
}

// documentPrompt renders template with the content of the document named
// by the doc_id argument.
func (h *handlers) documentPrompt(description, template string) server.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		id := req.Params.Arguments["doc_id"]
		if id == "" {
			return nil, errors.New("missing required argument doc_id")
		}
		content, err := h.store.Get(id)
		if err != nil {
			return nil, errors.Wrapf(err, "Document with id '%s' not found", id)
		}
		return mcp.NewGetPromptResult(description, []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(fmt.Sprintf(template, content))),
		}), nil
	}
}

func documentID(uri string) string {
	return strings.TrimPrefix(uri, config.DefaultResourceURI+"/")
}
