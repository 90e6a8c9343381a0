package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/client"
	"github.com/gate4ai/mcpcore/internal/capability"
	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoCapability mirrors the transport package's test capability, kept
// package-local since internal/transport's is unexported test-only code.
type echoCapability struct{}

func (echoCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"test/echo": func(msg *shared.Message) (interface{}, error) {
			return map[string]string{"status": "ok"}, nil
		},
	}
}
func (echoCapability) SetCapabilities(s *schema.ServerCapabilities) {}

func stringPtr(s string) *string { return &s }

func startTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "client-test-server"
	cfg.ServerVersionValue = "9.9.9"

	manager, err := session.NewManager(logger, cfg, nil, nil)
	require.NoError(t, err)
	manager.AddCapability(capability.NewBase(logger, manager), echoCapability{})

	tools := capability.NewToolsCapability(manager, nil, logger)
	require.NoError(t, tools.AddTool(schema.Tool{Name: "greet"}, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, schema.NewTextContent("hello"), nil, nil
	}))

	samplingRequester := capability.NewSamplingRequester(logger)
	require.NoError(t, tools.AddTool(schema.Tool{Name: "ask"}, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		result, err := samplingRequester.RequestSampling(context.Background(), msg.Session, schema.CreateMessageRequestParams{
			Messages:  []schema.SamplingMessage{{Role: schema.RoleUser, Content: schema.Content{Type: "text", Text: stringPtr("what is 2+2?")}}},
			MaxTokens: 32,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sampling round trip failed: %w", err)
		}
		return nil, []schema.Content{result.Content}, nil, nil
	}))
	manager.AddCapability(tools)

	tp, err := transport.New(manager, logger, cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	tp.RegisterMCPHandlers(mux)
	server := httptest.NewServer(mux)
	return server, func() {
		server.Close()
		manager.CloseAllSessions()
	}
}

// Test_Initialize_Handshake drives a real client session through initialize
// against a real in-process server, end to end over HTTP.
func Test_Initialize_Handshake(t *testing.T) {
	server, cleanup := startTestServer(t)
	defer cleanup()

	backend, err := client.NewBackend("test", server.URL+transport.MCP_PATH, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess := backend.NewSession(ctx)
	defer sess.Close()

	result, err := sess.Initialize(ctx, schema.Implementation{Name: "client-test", Version: "1.0"})
	require.NoError(t, err)
	require.Equal(t, schema.PROTOCOL_VERSION, result.ProtocolVersion)
	require.Equal(t, "client-test-server", result.ServerInfo.Name)
	require.NotEmpty(t, sess.GetID())
	require.Equal(t, shared.StatusActive, sess.GetStatus())
}

// Test_CallTool_AfterInitialize exercises a buffered tools/call round trip.
func Test_CallTool_AfterInitialize(t *testing.T) {
	server, cleanup := startTestServer(t)
	defer cleanup()

	backend, err := client.NewBackend("test", server.URL+transport.MCP_PATH, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess := backend.NewSession(ctx)
	defer sess.Close()

	_, err = sess.Initialize(ctx, schema.Implementation{Name: "client-test", Version: "1.0"})
	require.NoError(t, err)

	result, err := sess.CallTool("greet", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
}

// Test_Sampling_RoundTrip exercises the server -> client -> server loop: a
// tool handler on the server issues sampling/createMessage against the
// connected client session, and the client's SamplingCapability answers it.
func Test_Sampling_RoundTrip(t *testing.T) {
	server, cleanup := startTestServer(t)
	defer cleanup()

	backend, err := client.NewBackend("test", server.URL+transport.MCP_PATH, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess := backend.NewSession(ctx)
	defer sess.Close()

	sess.SamplingCapability.Subscribe(func(params schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
		return &schema.CreateMessageResult{
			Role:    schema.RoleAssistant,
			Content: schema.Content{Type: "text", Text: stringPtr("4")},
			Model:   "test-model",
		}, nil
	})

	_, err = sess.Initialize(ctx, schema.Implementation{Name: "client-test", Version: "1.0"})
	require.NoError(t, err)

	result, err := sess.CallTool("ask", nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	require.Equal(t, "4", *result.Content[0].Text)
}
