package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/ops"
)

// Handlers holds the dependencies for MCP tool handlers.
type Handlers struct {
	env ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env ops.Env) *Handlers {
	return &Handlers{env: env}
}

// FetchRequest represents the arguments for nci_fetch.
type FetchRequest struct {
	Locator string `json:"locator"`
	Offline bool   `json:"offline"`
}

// SearchRequest represents the arguments for nci_search.
type SearchRequest struct {
	Source  string `json:"source"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
	Offline bool   `json:"offline"`
}

// ListIndexesRequest represents the arguments for nci_list_indexes.
type ListIndexesRequest struct {
	Author  string `json:"author"`
	Limit   int    `json:"limit"`
	Offline bool   `json:"offline"`
}

// HandleFetch handles the nci_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(ctx, h.env, ops.FetchInput{
		Locator: input.Locator,
		Offline: input.Offline,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSearch handles the nci_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.env, ops.SearchInput{
		Source:  input.Source,
		Query:   input.Query,
		Limit:   input.Limit,
		Offline: input.Offline,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListIndexes handles the nci_list_indexes tool call.
func (h *Handlers) HandleListIndexes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListIndexesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListIndexes(ctx, h.env, ops.ListIndexesInput{
		Author:  input.Author,
		Limit:   input.Limit,
		Offline: input.Offline,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed; they may carry paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if nciErr, ok := err.(*errors.NciError); ok {
		errorObj := map[string]any{
			"code":    nciErr.Code,
			"message": nciErr.Message,
		}
		if nciErr.Code != errors.ErrInternal && nciErr.Details != nil {
			errorObj["details"] = nciErr.Details
		}
		if nciErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
