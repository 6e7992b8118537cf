package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/paperdex/internal/searcher"
)

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Search ingested papers with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query text",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Only return documents of this category (finding, method, relationship, comprehensive or a custom label)",
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Drop results whose cosine similarity is below this value",
					"minimum":     -1.0,
					"maximum":     1.0,
				},
				"group_by_category": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, group results by category",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// ingestDirectoryTool returns the tool definition for ingest_directory
func ingestDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_directory",
		Description: "Ingest every supported document under a directory into the store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a directory of .txt, .md or .pdf files",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "segment stores sentence chunks; extract stores LLM summaries",
					"enum":        []string{modeSegment, modeExtract},
					"default":     modeSegment,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report document counts, categories and store health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
