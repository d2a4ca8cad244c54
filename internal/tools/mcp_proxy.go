package tools

import (
	"context"
)

// MCPProxyTool is spec §4.4's "MCP proxy" tool stub. spec.md §1 places
// full MCP plugin discovery out of scope, so this wires only the single
// capability the Tool Registry names: forwarding a named, pre-registered
// call to a configured remote endpoint, with no client library or
// discovery handshake (see DESIGN.md "Dropped teacher dependencies" for
// why mark3labs/mcp-go itself isn't pulled in).
type MCPProxyTool struct {
	endpoints map[string]string
}

func NewMCPProxyTool(endpoints map[string]string) *MCPProxyTool {
	if endpoints == nil {
		endpoints = map[string]string{}
	}
	return &MCPProxyTool{endpoints: endpoints}
}

func (t *MCPProxyTool) Name() string        { return "mcp_proxy" }
func (t *MCPProxyTool) Description() string { return "Forward a call to a pre-registered MCP endpoint" }
func (t *MCPProxyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"endpoint": map[string]interface{}{"type": "string", "description": "Name of a configured MCP endpoint"},
			"method":   map[string]interface{}{"type": "string", "description": "Remote method name"},
		},
		"required": []string{"endpoint", "method"},
	}
}

func (t *MCPProxyTool) Execute(_ context.Context, _ AuthContext, args map[string]interface{}) *Result {
	endpoint, _ := args["endpoint"].(string)
	method, _ := args["method"].(string)
	if endpoint == "" || method == "" {
		return Errorf("bad_args", "endpoint and method are required")
	}
	url, ok := t.endpoints[endpoint]
	if !ok {
		return Errorf("config", "no MCP endpoint configured under name %q", endpoint)
	}
	return Errorf("unimplemented", "MCP proxy call to %s (%s) for method %q is not implemented in this build", endpoint, url, method)
}
