// Package mcp exposes the session as Model Context Protocol tools.
package mcp

import (
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/gepdash/internal/config"
	"github.com/hpungsan/gepdash/internal/session"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"gene_list": {
		def:     geneListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGeneList },
	},
	"gene_get": {
		def:     geneGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGeneGet },
	},
	"gene_create": {
		def:     geneCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGeneCreate },
	},
	"gene_update": {
		def:     geneUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGeneUpdate },
	},
	"gene_delete": {
		def:     geneDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGeneDelete },
	},
	"capsule_list": {
		def:     capsuleListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleList },
	},
	"capsule_get": {
		def:     capsuleGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleGet },
	},
	"capsule_create": {
		def:     capsuleCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleCreate },
	},
	"capsule_delete": {
		def:     capsuleDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleDelete },
	},
	"event_list": {
		def:     eventListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEventList },
	},
	"event_create": {
		def:     eventCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEventCreate },
	},
	"dashboard_stats": {
		def:     dashboardStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDashboardStats },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with every tool not listed in
// cfg.DisabledTools registered.
func NewServer(sess *session.Session, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"gepdash",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(sess)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the tools over stdio until stdin closes.
func Run(sess *session.Session, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(sess, cfg, version))
}
