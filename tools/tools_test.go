package tools

import (
	"testing"

	"github.com/m4xw311/docchat/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostTools() []Declaration {
	return []Declaration{
		{Name: "read_doc_contents", Description: "Read the contents of a document"},
		{Name: "edit_document", Description: "Edit a document"},
		{Name: "list_documents", Description: "List document ids"},
	}
}

func names(decls []Declaration) []string {
	out := make([]string, len(decls))
	for i, d := range decls {
		out[i] = d.Name
	}
	return out
}

func TestGetActiveTools(t *testing.T) {
	registry := NewToolRegistry(hostTools())

	tests := []struct {
		name    string
		toolset *config.Toolset
		want    []string
		wantErr bool
	}{
		{
			name:    "nil toolset selects everything",
			toolset: nil,
			want:    []string{"read_doc_contents", "edit_document", "list_documents"},
		},
		{
			name:    "literal names keep toolset order",
			toolset: &config.Toolset{Name: "ro", Tools: []string{"list_documents", "read_doc_contents"}},
			want:    []string{"list_documents", "read_doc_contents"},
		},
		{
			name:    "wildcard",
			toolset: &config.Toolset{Name: "default", Tools: []string{"*"}},
			want:    []string{"read_doc_contents", "edit_document", "list_documents"},
		},
		{
			name:    "overlapping patterns do not duplicate",
			toolset: &config.Toolset{Name: "docs", Tools: []string{"*_document*", "list_*"}},
			want:    []string{"edit_document", "list_documents"},
		},
		{
			name:    "pattern without match is tolerated",
			toolset: &config.Toolset{Name: "none", Tools: []string{"git_*"}},
			want:    nil,
		},
		{
			name:    "unknown literal tool",
			toolset: &config.Toolset{Name: "bad", Tools: []string{"delete_document"}},
			wantErr: true,
		},
		{
			name:    "invalid pattern",
			toolset: &config.Toolset{Name: "bad", Tools: []string{"read_[doc"}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := registry.GetActiveTools(tc.toolset)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, names(got))
		})
	}
}

func TestRegisterReplacesInPlace(t *testing.T) {
	registry := NewToolRegistry(hostTools())
	registry.Register(Declaration{Name: "edit_document", Description: "v2"})

	d, ok := registry.GetTool("edit_document")
	require.True(t, ok)
	assert.Equal(t, "v2", d.Description)
	assert.Equal(t, []string{"read_doc_contents", "edit_document", "list_documents"}, names(registry.All()))
}

func TestDeclarationSchemaHelpers(t *testing.T) {
	d := Declaration{
		Name: "read_doc_contents",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"doc_id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"doc_id"},
		},
	}

	assert.Contains(t, d.Properties(), "doc_id")
	assert.Equal(t, []string{"doc_id"}, d.Required())

	empty := Declaration{Name: "list_documents"}
	assert.Empty(t, empty.Properties())
	assert.Nil(t, empty.Required())
}
