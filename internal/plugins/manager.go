package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/loom/internal/tools"
)

// ServerConfig describes how to launch and identify an MCP server subprocess.
type ServerConfig struct {
	Name    string        `yaml:"name" json:"name"`
	Command string        `yaml:"command" json:"command"`
	Args    []string      `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

type managedServer struct {
	config    ServerConfig
	client    *client.Client
	toolNames []string
	status    string // starting, healthy, unhealthy, crashed, stopped
	errCount  int
	lastErr   string
	cancel    context.CancelFunc
}

// Manager runs MCP server subprocesses and surfaces their tools through the
// tool registry, so agent steps can call them like any built-in tool.
type Manager struct {
	registry *tools.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	servers map[string]*managedServer
}

// NewManager creates a Manager registering discovered tools into registry.
func NewManager(registry *tools.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		logger:   logger.With(slog.String("component", "plugins")),
		servers:  make(map[string]*managedServer),
	}
}

// Load starts an MCP server, performs the initialize handshake, discovers its
// tools and registers them as "<server>.<tool>".
func (m *Manager) Load(ctx context.Context, config ServerConfig) error {
	if config.Name == "" || config.Command == "" {
		return fmt.Errorf("mcp server name and command are required")
	}

	m.mu.Lock()
	if _, exists := m.servers[config.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("mcp server %q already loaded", config.Name)
	}
	m.mu.Unlock()

	mcpClient, err := client.NewStdioMCPClient(config.Command, config.Env, config.Args...)
	if err != nil {
		return fmt.Errorf("create mcp client for %q: %w", config.Name, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)

	if err := mcpClient.Start(serverCtx); err != nil {
		cancel()
		_ = mcpClient.Close()
		return fmt.Errorf("start mcp server %q: %w", config.Name, err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "loom",
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(serverCtx, initReq); err != nil {
		cancel()
		_ = mcpClient.Close()
		return fmt.Errorf("initialize mcp server %q: %w", config.Name, err)
	}

	ms := &managedServer{
		config: config,
		client: mcpClient,
		status: "starting",
		cancel: cancel,
	}

	if err := m.discoverTools(serverCtx, ms); err != nil {
		cancel()
		_ = mcpClient.Close()
		return fmt.Errorf("discover tools on %q: %w", config.Name, err)
	}

	ms.status = "healthy"

	m.mu.Lock()
	m.servers[config.Name] = ms
	m.mu.Unlock()

	go m.healthLoop(serverCtx, ms)

	m.logger.Info("mcp server loaded",
		slog.String("server", config.Name),
		slog.Int("tools", len(ms.toolNames)))
	return nil
}

// discoverTools lists the server's tools and registers adapters for them.
func (m *Manager) discoverTools(ctx context.Context, ms *managedServer) error {
	result, err := ms.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	for _, remote := range result.Tools {
		adapter := &mcpTool{
			name:        ms.config.Name + "." + remote.Name,
			remoteName:  remote.Name,
			description: remote.Description,
			caller:      ms.client,
			timeout:     ms.config.Timeout,
		}
		if err := m.registry.Register(adapter); err != nil {
			m.rollbackTools(ms)
			return err
		}
		ms.toolNames = append(ms.toolNames, adapter.name)
	}
	return nil
}

func (m *Manager) rollbackTools(ms *managedServer) {
	for _, name := range ms.toolNames {
		_ = m.registry.Remove(name)
	}
	ms.toolNames = nil
}

// healthLoop pings the server every 30s; after 3 consecutive failures the
// server is restarted with exponential backoff.
func (m *Manager) healthLoop(ctx context.Context, ms *managedServer) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ms.client.Ping(ctx); err != nil {
				m.mu.Lock()
				ms.errCount++
				ms.lastErr = err.Error()
				failures := ms.errCount
				if failures >= 3 {
					ms.status = "unhealthy"
				}
				m.mu.Unlock()

				if failures >= 3 {
					m.logger.Warn("mcp server unhealthy, restarting",
						slog.String("server", ms.config.Name),
						slog.Int("consecutive_errors", failures))
					m.restart(ctx, ms)
					return
				}
			} else {
				m.mu.Lock()
				ms.errCount = 0
				ms.status = "healthy"
				m.mu.Unlock()
			}
		}
	}
}

// restart tears the server down and loads it again with exponential backoff.
func (m *Manager) restart(ctx context.Context, ms *managedServer) {
	m.mu.Lock()
	errCount := ms.errCount
	ms.status = "crashed"
	m.mu.Unlock()

	// min(1s * 2^errCount, 60s)
	delay := time.Duration(math.Min(
		float64(time.Second)*math.Pow(2, float64(errCount)),
		float64(60*time.Second),
	))

	m.logger.Info("restarting mcp server",
		slog.String("server", ms.config.Name),
		slog.Duration("backoff", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	m.teardown(ms)

	if err := m.Load(ctx, ms.config); err != nil {
		m.logger.Error("failed to restart mcp server",
			slog.String("server", ms.config.Name),
			slog.Any("error", err))
	}
}

// teardown unregisters the server's tools and closes its client.
func (m *Manager) teardown(ms *managedServer) {
	m.mu.Lock()
	delete(m.servers, ms.config.Name)
	names := ms.toolNames
	ms.toolNames = nil
	m.mu.Unlock()

	for _, name := range names {
		_ = m.registry.Remove(name)
	}

	ms.cancel()
	_ = ms.client.Close()
}

// Unload stops a server and removes its tools.
func (m *Manager) Unload(name string) error {
	m.mu.RLock()
	ms, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mcp server %q not found", name)
	}

	m.teardown(ms)
	ms.status = "stopped"
	m.logger.Info("mcp server stopped", slog.String("server", name))
	return nil
}

// StopAll stops every managed server.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var lastErr error
	for _, name := range names {
		if err := m.Unload(name); err != nil {
			lastErr = err
			m.logger.Error("failed to stop mcp server",
				slog.String("server", name),
				slog.Any("error", err))
		}
	}
	return lastErr
}

// Status reports the state of all managed servers.
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.servers))
	for name, ms := range m.servers {
		result[name] = ms.status
	}
	return result
}

// Tools lists the qualified tool names contributed by one server.
func (m *Manager) Tools(serverName string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.servers[serverName]
	if !ok {
		return nil
	}
	out := make([]string, len(ms.toolNames))
	copy(out, ms.toolNames)
	return out
}
