package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/store"
	"github.com/nescampos/coralmultichannel/pkg/tools"
)

// Manager maintains the client sessions to remote capability servers
// and mirrors their tools into the shared registry under
// "<server>_<tool>" names.
type Manager struct {
	registry *tools.Registry
	impl     *sdk.Implementation

	mu       sync.Mutex
	sessions map[string]*sdk.ClientSession
}

func NewManager(registry *tools.Registry) *Manager {
	return &Manager{
		registry: registry,
		impl:     &sdk.Implementation{Name: "coralmultichannel", Version: "1.0.0"},
		sessions: map[string]*sdk.ClientSession{},
	}
}

// ConnectAll connects every enabled server. A failure on one server is
// logged and skipped so the rest still come up; the joined error is
// returned for reporting.
func (m *Manager) ConnectAll(ctx context.Context, servers []store.MCPServer) error {
	var errs []error
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		if err := m.Connect(ctx, srv); err != nil {
			logger.WarnCF("mcp", "Capability server unavailable",
				map[string]interface{}{"server": srv.Name, "url": srv.URL, "error": err.Error()})
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Connect dials one server, lists its tools and registers them.
func (m *Manager) Connect(ctx context.Context, srv store.MCPServer) error {
	client := sdk.NewClient(m.impl, nil)
	session, err := client.Connect(ctx, &sdk.StreamableClientTransport{Endpoint: srv.URL}, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	m.mu.Lock()
	if old, ok := m.sessions[srv.Name]; ok {
		old.Close()
	}
	m.sessions[srv.Name] = session
	m.mu.Unlock()

	for _, t := range listed.Tools {
		m.registry.Register(&remoteTool{
			manager: m,
			server:  srv.Name,
			remote:  t.Name,
			name:    srv.Name + "_" + t.Name,
			desc:    t.Description,
			params:  schemaToMap(t.InputSchema),
		})
	}
	logger.InfoCF("mcp", "Connected to capability server",
		map[string]interface{}{"server": srv.Name, "tools": len(listed.Tools)})
	return nil
}

// Reconnect drops the server's session and registered tools, then
// connects again. Other servers are untouched.
func (m *Manager) Reconnect(ctx context.Context, srv store.MCPServer) error {
	m.Disconnect(srv.Name)
	if !srv.Enabled {
		return nil
	}
	return m.Connect(ctx, srv)
}

// Disconnect closes one server's session and removes only its tools.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	session, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	if ok {
		session.Close()
	}
	if removed := m.registry.UnregisterPrefix(name + "_"); removed > 0 {
		logger.InfoCF("mcp", "Dropped capability server tools",
			map[string]interface{}{"server": name, "tools": removed})
	}
}

// DisconnectAll closes every session, collecting failures.
func (m *Manager) DisconnectAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		m.mu.Lock()
		session, ok := m.sessions[name]
		delete(m.sessions, name)
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		m.registry.UnregisterPrefix(name + "_")
	}
	return errors.Join(errs...)
}

func (m *Manager) session(name string) (*sdk.ClientSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// remoteTool proxies one capability-server tool through the registry.
type remoteTool struct {
	manager *Manager
	server  string
	remote  string
	name    string
	desc    string
	params  map[string]interface{}
}

func (t *remoteTool) Name() string                       { return t.name }
func (t *remoteTool) Description() string                { return t.desc }
func (t *remoteTool) Parameters() map[string]interface{} { return t.params }

func (t *remoteTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	session, ok := t.manager.session(t.server)
	if !ok {
		return "", fmt.Errorf("capability server %s is not connected", t.server)
	}

	res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: t.remote, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", t.name, err)
	}
	text := FlattenContent(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s failed: %s", t.name, text)
	}
	return text, nil
}

// FlattenContent renders mixed MCP result content as one text block.
func FlattenContent(content []sdk.Content) string {
	out := ""
	for i, c := range content {
		if i > 0 {
			out += "\n"
		}
		switch v := c.(type) {
		case *sdk.TextContent:
			out += v.Text
		case *sdk.ImageContent:
			out += fmt.Sprintf("[image data: %s]", v.MIMEType)
		case *sdk.AudioContent:
			out += fmt.Sprintf("[audio data: %s]", v.MIMEType)
		case *sdk.ResourceLink:
			out += fmt.Sprintf("[Resource Link: %s]", v.URI)
		case *sdk.EmbeddedResource:
			uri := ""
			if v.Resource != nil {
				uri = v.Resource.URI
			}
			out += fmt.Sprintf("[Resource: %s]", uri)
		default:
			out += "[unsupported content]"
		}
	}
	return out
}

// schemaToMap converts the SDK's JSON-schema value into the plain map
// the providers expect.
func schemaToMap(schema any) map[string]interface{} {
	fallback := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return fallback
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
