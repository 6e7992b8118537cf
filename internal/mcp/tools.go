package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/paperdex/internal/indexer"
	"github.com/dshills/paperdex/internal/searcher"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeIngestInProgress = -32002 // Another ingestion run is already running
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeNotConfigured    = -32005 // A required component is unavailable
)

// Ingestion modes
const (
	modeSegment = "segment"
	modeExtract = "extract"
)

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
	if topK < 1 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	req := searcher.SearchRequest{
		Query:    query,
		TopK:     topK,
		Category: getStringDefault(args, "category", ""),
		UseCache: true,
	}
	if v, ok := args["min_similarity"].(float64); ok {
		req.MinSimilarity = &v
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		if errors.Is(err, types.ErrInvalidParameter) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid search request", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":         resp.Query,
		"total_results": resp.TotalResults,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	if getBoolDefault(args, "group_by_category", false) {
		groups := make([]map[string]interface{}, 0)
		for _, g := range searcher.GroupByCategory(resp.Results) {
			groups = append(groups, map[string]interface{}{
				"category":        g.Category,
				"best_similarity": g.BestSimilarity,
				"results":         formatResults(g.Results),
			})
		}
		response["groups"] = groups
	} else {
		response["results"] = formatResults(resp.Results)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIngestDirectory handles the ingest_directory tool invocation
func (s *Server) handleIngestDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	mode := getStringDefault(args, "mode", modeSegment)
	if mode != modeSegment && mode != modeExtract {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{modeSegment, modeExtract},
		})
	}

	if s.pipeline.Running() {
		return nil, newMCPError(ErrorCodeIngestInProgress, "an ingestion run is already in progress", nil)
	}

	sources, err := source.Discover(path, s.sources)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "failed to discover sources", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.logger.Info("ingest requested", slog.String("path", path), slog.String("mode", mode), slog.Int("sources", len(sources)))

	var stats *indexer.Statistics
	if mode == modeExtract {
		stats, err = s.pipeline.Extract(ctx, sources)
	} else {
		stats, err = s.pipeline.Ingest(ctx, sources)
	}
	if err != nil {
		switch {
		case errors.Is(err, indexer.ErrRunInProgress):
			return nil, newMCPError(ErrorCodeIngestInProgress, "an ingestion run is already in progress", nil)
		case errors.Is(err, types.ErrConfiguration):
			return nil, newMCPError(ErrorCodeNotConfigured, "ingestion is not configured", map[string]interface{}{
				"error": err.Error(),
			})
		case stats == nil:
			return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	// Searches must not serve results cached before this run
	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"mode":            mode,
		"sources":         stats.Total(),
		"succeeded":       stats.Succeeded,
		"failed":          stats.Failed,
		"skipped":         stats.Skipped,
		"pending":         stats.Pending,
		"chunks_inserted": stats.ChunksInserted,
		"duration_ms":     stats.Duration.Milliseconds(),
	}
	if err != nil {
		response["interrupted"] = err.Error()
	}

	var failures []string
	for _, r := range stats.Sources {
		if r.State == indexer.StateFailed {
			failures = append(failures, fmt.Sprintf("%s: %v", r.Name, r.Err))
		}
	}
	if len(failures) > 5 {
		response["errors"] = failures[:5]
		response["error_count"] = len(failures)
	} else if len(failures) > 0 {
		response["errors"] = failures
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"documents":     status.Documents,
			"fingerprints":  status.Fingerprints,
			"sources":       status.Sources,
			"categories":    status.Categories,
			"dimension":     status.Dimension,
			"store_size_mb": fmt.Sprintf("%.2f", status.SizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"consistent":          status.Health.Consistent,
		},
		"ingest_running": s.pipeline.Running(),
	}
	if !status.LastInsertAt.IsZero() {
		response["last_insert_at"] = status.LastInsertAt.Format("2006-01-02T15:04:05Z07:00")
	}

	if s.progress != nil {
		entries, err := s.progress.Entries(ctx)
		if err != nil {
			s.logger.Warn("failed to read progress ledger", slog.Any("error", err))
		} else {
			response["ledger_entries"] = len(entries)
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func formatResults(results []types.SearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		item := map[string]interface{}{
			"rank":       r.Rank,
			"id":         r.ID,
			"similarity": r.Similarity,
			"content":    r.Content,
			"source":     r.Source,
			"category":   r.Category,
		}
		if r.Annotation != "" {
			item["annotation"] = r.Annotation
		}
		out[i] = item
	}
	return out
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
