// Package mcpserver exposes the xtmscope message router as MCP tools over
// stdio, so an assistant can scan text against the cached platform entities.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sw33tLie/xtmscope/pkg/router"
)

// Dispatcher is the message router behind the tools.
type Dispatcher interface {
	Dispatch(ctx context.Context, req router.Request) router.Envelope
}

// Server wraps the MCP server with the xtmscope tools.
type Server struct {
	mcp    *server.MCPServer
	router Dispatcher
}

// New creates an MCP server with every tool registered.
func New(r Dispatcher, version string) *Server {
	s := &Server{router: r}

	s.mcp = server.NewMCPServer(
		"xtmscope",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("scan_page",
		mcp.WithDescription("Scan text for observables, CVEs and known OpenCTI entities (names and aliases)."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text or HTML to scan")),
		mcp.WithString("url", mcp.Description("Source URL, echoed back in the result")),
		mcp.WithBoolean("html", mcp.Description("Treat content as an HTML document and scan its visible text")),
	), s.scan(router.ScanPage))

	s.mcp.AddTool(mcp.NewTool("scan_all",
		mcp.WithDescription("Scan text against every configured platform family at once."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text or HTML to scan")),
		mcp.WithString("url", mcp.Description("Source URL, echoed back in the result")),
		mcp.WithBoolean("html", mcp.Description("Treat content as an HTML document and scan its visible text")),
		mcp.WithBoolean("include_attack_patterns", mcp.Description("Also report attack patterns such as T1566")),
	), s.scan(router.ScanAll))

	s.mcp.AddTool(mcp.NewTool("scan_openaev",
		mcp.WithDescription("Scan text for known OpenAEV assets, teams, players and scenarios."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text or HTML to scan")),
		mcp.WithBoolean("html", mcp.Description("Treat content as an HTML document and scan its visible text")),
		mcp.WithBoolean("include_attack_patterns", mcp.Description("Also report attack patterns")),
	), s.scan(router.ScanOtherPlatform))

	s.mcp.AddTool(mcp.NewTool("cache_stats",
		mcp.WithDescription("Entity counts and cache age per configured platform."),
	), s.cacheStats)

	s.mcp.AddTool(mcp.NewTool("refresh_cache",
		mcp.WithDescription("Force a refresh of every platform cache and return the new stats."),
	), s.refreshCache)

	s.mcp.AddTool(mcp.NewTool("clear_cache",
		mcp.WithDescription("Drop the cached entities of one platform, or of a whole family when platform_id is empty."),
		mcp.WithString("platform_type", mcp.Required(), mcp.Enum("opencti", "openaev")),
		mcp.WithString("platform_id", mcp.Description("Platform id; empty clears the family")),
	), s.clearCache)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Check that a configured platform is reachable and the token is accepted."),
		mcp.WithString("platform_id", mcp.Required()),
	), s.testConnection)

	s.mcp.AddTool(mcp.NewTool("get_cached_entity",
		mcp.WithDescription("Look up one cached entity by id."),
		mcp.WithString("platform_type", mcp.Required(), mcp.Enum("opencti", "openaev")),
		mcp.WithString("platform_id", mcp.Required()),
		mcp.WithString("entity_id", mcp.Required()),
	), s.cachedEntity)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// call dispatches one message and renders the envelope as a tool result.
func (s *Server) call(ctx context.Context, typ router.MessageType, payload interface{}) (*mcp.CallToolResult, error) {
	req := router.Request{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		req.Payload = raw
	}
	env := s.router.Dispatch(ctx, req)
	if !env.Success {
		return mcp.NewToolResultError(env.Error), nil
	}
	out, err := json.MarshalIndent(env.Data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) scan(typ router.MessageType) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.call(ctx, typ, router.ScanPayload{
			Content:               content,
			URL:                   req.GetString("url", ""),
			HTML:                  req.GetBool("html", false),
			IncludeAttackPatterns: req.GetBool("include_attack_patterns", false),
		})
	}
}

func (s *Server) cacheStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.call(ctx, router.GetCacheStats, nil)
}

func (s *Server) refreshCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.call(ctx, router.RefreshCache, nil)
}

func (s *Server) clearCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	family, err := req.RequireString("platform_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.call(ctx, router.ClearPlatformCache, router.ClearPayload{
		PlatformType: family,
		PlatformID:   req.GetString("platform_id", ""),
	})
}

func (s *Server) testConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("platform_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.call(ctx, router.TestPlatformConnection, router.ConnectionPayload{PlatformID: id})
}

func (s *Server) cachedEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	family, err := req.RequireString("platform_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pid, err := req.RequireString("platform_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	eid, err := req.RequireString("entity_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.call(ctx, router.GetCachedEntity, router.EntityPayload{
		PlatformType: family,
		PlatformID:   pid,
		EntityID:     eid,
	})
}
