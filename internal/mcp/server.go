// Package mcp exposes memoryd to MCP clients. Agents that manage their own
// conversation can search scoped memory, store facts through consolidation
// and trigger index reconciliation without going through the chat endpoint.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/fyrsmithlabs/memoryd/internal/orchestrator"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Memory is the part of the orchestrator the tools call.
type Memory interface {
	Search(ctx context.Context, query, scope string, topK int) ([]retrieval.Scored, error)
	Remember(ctx context.Context, scope string, facts []string) (*orchestrator.Remembered, error)
}

// Reconciler rebuilds the vector index from the record store.
type Reconciler interface {
	Reconcile(ctx context.Context) (indexsync.Stats, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "memoryd")
	Name string

	// Version is the implementation version (default: "dev")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{Name: "memoryd", Version: "dev", Logger: zap.NewNop()}
}

// Server is an MCP server over memoryd's memory operations.
type Server struct {
	mcp        *mcp.Server
	memory     Memory
	reconciler Reconciler
	metrics    *Metrics
	logger     *zap.Logger
}

// NewServer creates a server and registers its tools.
func NewServer(cfg *Config, memory Memory, reconciler Reconciler) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if memory == nil {
		return nil, errors.New("memory service is required")
	}
	if reconciler == nil {
		return nil, errors.New("reconciler is required")
	}

	s := &Server{
		mcp:        mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, &mcp.ServerOptions{}),
		memory:     memory,
		reconciler: reconciler,
		metrics:    NewMetrics(cfg.Logger),
		logger:     cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Handler serves MCP over streamable HTTP. Each request is handled
// statelessly.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}

// Connect serves a single session on t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
