package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ragdocs/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *pipeline.Service
	Version string
}

// NewMCPServer creates an MCP server with the document tools and the
// pipeline status resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ragdocs",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ragdocs: ingest documents into the retrieval index and follow their processing."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("scan_documents",
			mcp.WithDescription("Scan the input directory and index any new files in the background."),
		),
		mcpScanDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("insert_text",
			mcp.WithDescription("Submit a piece of text for indexing."),
			mcp.WithString("text", mcp.Description("The text content to index"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Optional source name recorded as the document's file path")),
		),
		mcpInsertText(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_status",
			mcp.WithDescription("Show the current pipeline job, progress counters and recent messages."),
		),
		mcpPipelineStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("track_status",
			mcp.WithDescription("List the documents submitted under a track ID and their processing status."),
			mcp.WithString("track_id", mcp.Description("Track ID returned by an upload, insert or scan"), mcp.Required()),
		),
		mcpTrackStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List documents page by page, optionally filtered by status."),
			mcp.WithString("status", mcp.Description("pending, processing, preprocessed, processed or failed")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Documents per page, 10 to 200 (default 50)")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("cancel_pipeline",
			mcp.WithDescription("Ask the running pipeline job to stop before its next document."),
		),
		mcpCancelPipeline(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_documents",
			mcp.WithDescription("Delete documents by ID in the background."),
			mcp.WithArray("doc_ids", mcp.Description("Document IDs to delete"), mcp.Required(), mcp.WithStringItems()),
			mcp.WithBoolean("delete_file", mcp.Description("Also delete the source files from the input directory")),
			mcp.WithBoolean("delete_llm_cache", mcp.Description("Also delete cached LLM results for these documents")),
		),
		mcpDeleteDocuments(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"pipeline://status",
			"Pipeline Status",
			mcp.WithResourceDescription("Current pipeline status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpScanDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Service.Scan())
	}
}

func mcpInsertText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		source := req.GetString("source", "")

		resp, err := deps.Service.InsertText(ctx, text, source)
		if err != nil {
			return mcpServiceError("insert failed", err), nil
		}
		return mcpJSON(resp)
	}
}

func mcpPipelineStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, err := deps.Service.PipelineStatus(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading pipeline status: %v", err)), nil
		}
		return mcpJSON(newPipelineStatusResponse(v))
	}
}

func mcpTrackStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		trackID, err := req.RequireString("track_id")
		if err != nil {
			return mcpError("track_id is required"), nil
		}

		ts, err := deps.Service.TrackStatus(ctx, trackID)
		if err != nil {
			return mcpServiceError("reading track status", err), nil
		}
		return mcpJSON(ts)
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		page, err := deps.Service.Documents(ctx, pipeline.PageRequest{
			StatusFilter: req.GetString("status", ""),
			Page:         req.GetInt("page", 1),
			PageSize:     req.GetInt("page_size", 50),
		})
		if err != nil {
			return mcpServiceError("listing documents", err), nil
		}
		return mcpJSON(page)
	}
}

func mcpCancelPipeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := deps.Service.Cancel(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("cancel failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpDeleteDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := req.RequireStringSlice("doc_ids")
		if err != nil {
			return mcpError("doc_ids is required"), nil
		}

		resp, err := deps.Service.DeleteDocuments(ctx, ids,
			req.GetBool("delete_file", false), req.GetBool("delete_llm_cache", false))
		if err != nil {
			return mcpServiceError("delete failed", err), nil
		}
		return mcpJSON(resp)
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		v, err := deps.Service.PipelineStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read pipeline status: %w", err)
		}

		b, err := json.Marshal(newPipelineStatusResponse(v))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pipeline status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpServiceError(what string, err error) *mcp.CallToolResult {
	var ie *pipeline.InputError
	if errors.As(err, &ie) {
		return mcpError(ie.Msg)
	}
	return mcpError(fmt.Sprintf("%s: %v", what, err))
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
