package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/paperdex/internal/indexer"
	"github.com/dshills/paperdex/internal/searcher"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "paperdex"
)

// StatusProvider reports store statistics
type StatusProvider interface {
	Status(ctx context.Context) (*storage.Status, error)
}

// ProgressLister lists ledger entries
type ProgressLister interface {
	Entries(ctx context.Context) (map[string]int, error)
}

// Deps are the components the server exposes
type Deps struct {
	Store    StatusProvider
	Searcher *searcher.Searcher
	Pipeline *indexer.Pipeline
	Progress ProgressLister
	Sources  source.Options
	Version  string
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    StatusProvider
	searcher *searcher.Searcher
	pipeline *indexer.Pipeline
	progress ProgressLister
	sources  source.Options
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Searcher == nil || deps.Pipeline == nil {
		return nil, goerr.Wrap(types.ErrConfiguration, "mcp server requires a store, a searcher and a pipeline")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version),
		store:    deps.Store,
		searcher: deps.Searcher,
		pipeline: deps.Pipeline,
		progress: deps.Progress,
		sources:  deps.Sources,
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the server on stdio until the client disconnects
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(ingestDirectoryTool(), s.handleIngestDirectory)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
