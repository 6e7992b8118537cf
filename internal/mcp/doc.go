// Package mcp implements the Model Context Protocol (MCP) server for paperdex.
//
// The server exposes three tools to MCP clients:
//   - search_documents: Query ingested papers with natural language
//   - ingest_directory: Ingest a directory of papers into the store
//   - get_status: Report store statistics and health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The server is started with the serve command:
//
//	paperdex serve --db papers.db
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {
//	    "query": "groundwater recharge after drought",
//	    "top_k": 5,
//	    "category": "finding",
//	    "min_similarity": 0.3
//	  }
//	}
//
//	Response:
//	{
//	  "query": "groundwater recharge after drought",
//	  "total_results": 5,
//	  "cache_hit": false,
//	  "results": [
//	    {"rank": 1, "similarity": 0.82, "source": "smith2021.pdf", "category": "finding", ...}
//	  ]
//	}
//
// Setting group_by_category replaces results with groups, ordered by the
// best similarity in each group.
//
// # Tool: ingest_directory
//
// Runs the ingestion pipeline over every .txt, .md and .pdf file in an
// absolute directory path. mode is "segment" (default) or "extract". Only
// one run may be active; a second request fails with
// ErrorCodeIngestInProgress.
//
// # Tool: get_status
//
// Returns document, fingerprint, source and category counts, the
// fingerprint dimension, store health and the number of progress ledger
// entries.
//
// # Error Handling
//
// Failures are returned as *MCPError with JSON-RPC codes:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32002: Ingestion already in progress
//   - -32004: Empty query
//   - -32005: Component not configured
package mcp
