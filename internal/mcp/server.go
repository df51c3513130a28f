package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/nci/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"nci_fetch": {
		def:     fetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"nci_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"nci_list_indexes": {
		def:     listIndexesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListIndexes },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
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

// enabledTools returns the registered tool names minus the disabled ones.
func enabledTools(disabledNames []string) []string {
	disabled := make(map[string]bool, len(disabledNames))
	for _, name := range disabledNames {
		disabled[name] = true
	}
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		if !disabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// NewServer creates a new MCP server with the nci tools registered.
// Tools listed in the config's DisabledTools are excluded from registration.
func NewServer(env ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"nci",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)

	var disabled []string
	if env.Config != nil {
		disabled = env.Config.DisabledTools
	}
	for _, name := range enabledTools(disabled) {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env ops.Env, version string) error {
	return server.ServeStdio(NewServer(env, version))
}
