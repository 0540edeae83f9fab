package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/arashpx/seekly/config"
	"github.com/arashpx/seekly/internal/fragment"
)

// ConnectorSession is one live stdio MCP connection plus the tools it
// advertises. Sessions are opened per request and must be closed when the
// request finishes.
type ConnectorSession struct {
	name   string
	client *mcpclient.Client
	tools  []Tool
}

func (s *ConnectorSession) Name() string  { return s.name }
func (s *ConnectorSession) Tools() []Tool { return s.tools }

func (s *ConnectorSession) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ConnectSessions opens every configured connector concurrently and returns
// the sessions that came up. A connector that fails to start is logged and
// skipped; one broken connector must not take the request down.
func ConnectSessions(ctx context.Context, configs []config.ConnectorConfig, logger *log.Logger) []*ConnectorSession {
	if len(configs) == 0 {
		return nil
	}
	var (
		mu       sync.Mutex
		sessions []*ConnectorSession
		wg       sync.WaitGroup
	)
	for _, cc := range configs {
		wg.Add(1)
		go func(cc config.ConnectorConfig) {
			defer wg.Done()
			sess, err := connect(ctx, cc)
			if err != nil {
				logger.Printf("connector %s unavailable: %v", cc.Name, err)
				return
			}
			mu.Lock()
			sessions = append(sessions, sess)
			mu.Unlock()
		}(cc)
	}
	wg.Wait()
	return sessions
}

func connect(ctx context.Context, cc config.ConnectorConfig) (*ConnectorSession, error) {
	c, err := mcpclient.NewStdioMCPClient(cc.Command, cc.Env, cc.Args...)
	if err != nil {
		return nil, fmt.Errorf("starting connector: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "seekly", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	sess := &ConnectorSession{name: cc.Name, client: c}
	for _, t := range listed.Tools {
		sess.tools = append(sess.tools, &connectorTool{
			connector:   cc.Name,
			name:        cc.Name + "_" + t.Name,
			remoteName:  t.Name,
			description: t.Description,
			client:      c,
		})
	}
	return sess, nil
}

// connectorTool adapts one remote MCP tool to the local Tool interface. The
// tool name is prefixed with the connector name so two connectors exporting
// the same tool cannot collide in the registry.
type connectorTool struct {
	connector   string
	name        string
	remoteName  string
	description string
	client      *mcpclient.Client
}

func (t *connectorTool) Name() string { return t.name }

func (t *connectorTool) Description() string {
	if t.description != "" {
		return t.description
	}
	return fmt.Sprintf("external tool %s provided by the %s connector", t.remoteName, t.connector)
}

func (t *connectorTool) Execute(ctx context.Context, params Params, caller CallerContext) Result {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = map[string]interface{}(params)

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return Errorf("connector %s tool %s failed: %v", t.connector, t.remoteName, err)
	}

	text := textContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error with no detail"
		}
		return Errorf("connector %s tool %s: %s", t.connector, t.remoteName, text)
	}
	return decodePayload(t.connector, text)
}

func textContent(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// connectorPayload is the structured shape well-behaved connectors return.
type connectorPayload struct {
	Result   string              `json:"result"`
	Contexts []fragment.Fragment `json:"contexts"`
	Error    string              `json:"error"`
}

// decodePayload maps connector output to a Result. Structured payloads are
// decoded; anything else is passed through as plain result text so a
// malformed payload degrades rather than failing the call.
func decodePayload(connector, text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Errorf("connector %s returned an empty payload", connector)
	}
	if strings.HasPrefix(trimmed, "{") {
		var payload connectorPayload
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if payload.Error != "" {
				return Result{Error: payload.Error}
			}
			if payload.Result != "" || len(payload.Contexts) > 0 {
				frags := payload.Contexts
				for i := range frags {
					if frags[i].ID == "" {
						frags[i].ID = fmt.Sprintf("%s:%s", connector, frags[i].Source.DocID)
					}
				}
				return Result{Result: payload.Result, Fragments: frags}
			}
		}
	}
	return Result{Result: trimmed}
}
