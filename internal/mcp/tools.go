package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	searchToolName    = "memory_search"
	rememberToolName  = "memory_remember"
	reconcileToolName = "memory_reconcile"
)

type searchInput struct {
	Query   string `json:"query" jsonschema:"what to look for in memory"`
	ScopeID string `json:"scope_id,omitempty" jsonschema:"conversation scope, defaults to the configured default scope"`
	TopK    int    `json:"top_k,omitempty" jsonschema:"maximum number of memories to return"`
}

type memoryHit struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
	Score     float64 `json:"score"`
}

type searchOutput struct {
	Query   string      `json:"query"`
	Results []memoryHit `json:"results"`
	Count   int         `json:"count"`
}

type rememberInput struct {
	Facts   []string `json:"facts" jsonschema:"short self-contained facts to store"`
	ScopeID string   `json:"scope_id,omitempty" jsonschema:"conversation scope, defaults to the configured default scope"`
}

type rememberOutput struct {
	Scope    string   `json:"scope"`
	Created  []string `json:"created"`
	Deleted  []string `json:"deleted"`
	Fallback bool     `json:"fallback"`
}

type reconcileInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        searchToolName,
		Description: "Search the long-term memory of a conversation scope. Returns facts, past turns and the rolling summary ranked by relevance and recency.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        rememberToolName,
		Description: "Store facts in long-term memory. New facts are reconciled with what is already known: duplicates are dropped and contradicted memories are replaced.",
	}, s.handleRemember)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        reconcileToolName,
		Description: "Bring the vector index in line with the record files after they were edited by hand.",
	}, s.handleReconcile)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
	done := s.metrics.track(ctx, searchToolName)
	hits, err := s.memory.Search(ctx, args.Query, args.ScopeID, args.TopK)
	done(err)
	if err != nil {
		return toolError("Search failed: %v", err), searchOutput{}, nil
	}

	out := searchOutput{Query: args.Query, Results: make([]memoryHit, 0, len(hits)), Count: len(hits)}
	var text strings.Builder
	fmt.Fprintf(&text, "Found %d memories", len(hits))
	for _, h := range hits {
		out.Results = append(out.Results, memoryHit{
			ID:        h.Record.ID,
			Kind:      string(h.Record.Kind),
			Content:   h.Record.Content,
			CreatedAt: h.Record.CreatedAt.Format(time.RFC3339Nano),
			Score:     h.Score,
		})
		fmt.Fprintf(&text, "\n- [%s] %s", h.Record.Kind, h.Record.Content)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text.String()}},
	}, out, nil
}

func (s *Server) handleRemember(ctx context.Context, _ *mcp.CallToolRequest, args rememberInput) (*mcp.CallToolResult, rememberOutput, error) {
	done := s.metrics.track(ctx, rememberToolName)
	got, err := s.memory.Remember(ctx, args.ScopeID, args.Facts)
	done(err)
	if err != nil {
		return toolError("Remember failed: %v", err), rememberOutput{}, nil
	}

	out := rememberOutput{
		Scope:    got.Scope,
		Created:  make([]string, 0, len(got.Created)),
		Deleted:  append([]string{}, got.Deleted...),
		Fallback: got.Fallback,
	}
	for _, rec := range got.Created {
		out.Created = append(out.Created, rec.ID)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(
			"Stored %d memories in %s, replaced %d", len(out.Created), out.Scope, len(out.Deleted))}},
	}, out, nil
}

func (s *Server) handleReconcile(ctx context.Context, _ *mcp.CallToolRequest, _ reconcileInput) (*mcp.CallToolResult, indexsync.Stats, error) {
	done := s.metrics.track(ctx, reconcileToolName)
	stats, err := s.reconciler.Reconcile(ctx)
	done(err)
	if err != nil {
		s.logger.Error("reconcile failed", zap.String("operation", "reconcile"), zap.Error(err))
		return toolError("Reconcile failed: %v", err), indexsync.Stats{}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(
			"added=%d updated=%d deleted=%d unchanged=%d",
			stats.Added, stats.Updated, stats.Deleted, stats.Unchanged)}},
	}, stats, nil
}
