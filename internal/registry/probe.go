package registry

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harrison/agentd/internal/models"
)

// probeTimeout bounds the whole handshake including process startup.
const probeTimeout = 15 * time.Second

// Probe starts the server, performs the MCP handshake over stdio, and lists
// its tools. It verifies a registered command actually speaks MCP before
// tasks start depending on it.
func Probe(ctx context.Context, server models.MCPServer) ([]string, error) {
	if server.Command == "" {
		return nil, fmt.Errorf("mcp server %s has no command; only stdio servers can be probed", server.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "agentd",
		Version: "1.0.0",
	}, nil)

	cmd := exec.CommandContext(ctx, server.Command, server.Args...)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: handshake failed: %w", server.Name, err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: list tools failed: %w", server.Name, err)
	}

	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}
