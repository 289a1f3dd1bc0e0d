// Package mcptool connects to external MCP tool-server processes over stdio
// and exposes their remote tools as gogentic tools. The MCP protocol itself
// is handled entirely by the client library; this package only spawns the
// configured command and adapts the tool surface.
package mcptool

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gogentic/chatmodel"
	"github.com/effective-security/gogentic/pkg/llmutils"
	"github.com/effective-security/gogentic/pkg/schema"
	"github.com/effective-security/gogentic/tools"
	"github.com/effective-security/secorch/internal/config"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
	mcpgolang "github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport/stdio"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/secorch", "mcptool")

// toolCaller is the slice of the MCP client used by remote tools.
type toolCaller interface {
	CallTool(ctx context.Context, name string, arguments any) (*mcpgolang.ToolResponse, error)
}

// Conn is a live connection to one MCP tool-server process. It is opened
// once per process lifetime and shared read-only across all queries.
type Conn struct {
	name   string
	cmd    *exec.Cmd
	client *mcpgolang.Client
	tools  []tools.ITool
}

// Open spawns the configured tool-server command, initializes the MCP
// session over its stdio, and lists the remote tools.
func Open(ctx context.Context, cfg config.ServerConfig) (*Conn, error) {
	if cfg.Command == "" {
		return nil, errors.Newf("mcp server %q: command is required", cfg.Name)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start mcp server %q", cfg.Name)
	}

	conn := &Conn{
		name:   cfg.Name,
		cmd:    cmd,
		client: mcpgolang.NewClient(stdio.NewStdioServerTransportWithIO(stdout, stdin)),
	}
	if _, err := conn.client.Initialize(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "failed to initialize mcp server %q", cfg.Name)
	}
	if err := conn.loadTools(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.KV(xlog.INFO,
		"status", "mcp_server_started",
		"server", cfg.Name,
		"command", cfg.Command,
		"tools", len(conn.tools),
	)
	return conn, nil
}

func (c *Conn) loadTools(ctx context.Context) error {
	var cursor *string
	for {
		resp, err := c.client.ListTools(ctx, cursor)
		if err != nil {
			return errors.Wrapf(err, "failed to list tools on %q", c.name)
		}
		for _, t := range resp.Tools {
			var description string
			if t.Description != nil {
				description = *t.Description
			}
			params, err := schema.FromAny(t.InputSchema)
			if err != nil {
				return errors.Wrapf(err, "failed to parse input schema of tool %s on %q", t.Name, c.name)
			}
			c.tools = append(c.tools, &remoteTool{
				caller:      c.client,
				server:      c.name,
				name:        t.Name,
				description: description,
				params:      params,
			})
		}
		if resp.NextCursor == nil {
			return nil
		}
		cursor = resp.NextCursor
	}
}

// Name returns the configured server name.
func (c *Conn) Name() string {
	return c.name
}

// Tools returns the remote tools as gogentic tools.
func (c *Conn) Tools() []tools.ITool {
	return c.tools
}

// Close terminates the tool-server process.
func (c *Conn) Close() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil {
		return errors.Wrapf(err, "failed to stop mcp server %q", c.name)
	}
	_ = c.cmd.Wait()
	logger.KV(xlog.INFO, "status", "mcp_server_stopped", "server", c.name)
	return nil
}

// remoteTool forwards tool calls to the MCP server and flattens the text
// content of the response.
type remoteTool struct {
	caller      toolCaller
	server      string
	name        string
	description string
	params      *jsonschema.Schema
}

var _ tools.ITool = (*remoteTool)(nil)

func (t *remoteTool) Name() string {
	return t.name
}

func (t *remoteTool) Description() string {
	return t.description
}

func (t *remoteTool) Parameters() *jsonschema.Schema {
	return t.params
}

func (t *remoteTool) Call(ctx context.Context, input string) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &args); err != nil {
			return "", errors.WithMessagef(chatmodel.ErrFailedUnmarshalInput, "tool %s: %s", t.name, err.Error())
		}
	}

	resp, err := t.caller.CallTool(ctx, t.name, args)
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool %s on %q", t.name, t.server)
	}

	var buf strings.Builder
	for _, content := range resp.Content {
		if content.TextContent == nil || content.TextContent.Text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(content.TextContent.Text)
	}
	return buf.String(), nil
}
