package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/internal/capability"
	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Test_Stdio_InitializeAndEcho drives the stdio transport with a piped
// reader/writer: three newline-delimited JSON-RPC frames in (two requests and
// one notification), two JSON-RPC lines out, no Mcp-Session-Id anywhere (the "no sessions" stdio
// contract).
func Test_Stdio_InitializeAndEcho(t *testing.T) {
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "stdio-test"

	manager, err := session.NewManager(logger, cfg, nil, nil)
	require.NoError(t, err)
	manager.AddCapability(capability.NewBase(logger, manager), echoCapability{})

	initReq := createJsonRpcRequestBody(1, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "stdio-client", Version: "1.0"},
	})
	initializedNotif := createJsonRpcNotificationBody("notifications/initialized", nil)
	echoReq := createJsonRpcRequestBody(2, "test/echo", nil)

	in := strings.NewReader(initReq + "\n" + initializedNotif + "\n" + echoReq + "\n")
	var out bytes.Buffer

	stdio := transport.NewStdio(manager, logger, in, &out)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- stdio.Serve(ctx) }()

	time.Sleep(200 * time.Millisecond) // let the three queued frames dispatch and write their responses
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stdio.Serve did not return after context cancellation")
	}

	scanner := bufio.NewScanner(&out)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.GreaterOrEqual(t, len(lines), 1, "expected at least the initialize response on stdout")

	var initResp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &initResp))
	require.Contains(t, initResp, "result")
}
