package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkhuynh/docsearch/internal/retrieval"
)

// NewMCPServer exposes the document index to MCP clients over stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"docsearch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docsearch — semantic search over a local directory of manuals and documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_docs",
			mcp.WithDescription("Semantically search the indexed documents and return the most relevant text chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocs(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the documents in the source directory."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("collection_stats",
			mcp.WithDescription("Report the size, embedding model, and sources of the published index."),
		),
		mcpCollectionStats(deps),
	)

	return s
}

func mcpSearchDocs(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		k := req.GetInt("k", 0)

		results, err := deps.Searcher.Search(ctx, query, k)
		if err != nil {
			var verr *retrieval.ValidationError
			if errors.As(err, &verr) {
				return mcpError(verr.Msg), nil
			}
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("No matching chunks found. The index may be empty; build it first."), nil
		}

		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files, err := deps.Source.List()
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents: %v", err)), nil
		}
		if len(files) == 0 {
			return mcpText("The source directory is empty."), nil
		}

		out := make([]map[string]any, len(files))
		for i, f := range files {
			out[i] = map[string]any{
				"filename":  f.Filename,
				"size":      f.Size,
				"extension": f.Extension,
			}
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCollectionStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats := deps.Collection.Stats()
		b, err := json.MarshalIndent(map[string]any{
			"total_chunks":    stats.TotalChunks,
			"collection_name": stats.CollectionName,
			"embedding_model": stats.EmbeddingModel,
			"sources":         stats.Sources,
		}, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
