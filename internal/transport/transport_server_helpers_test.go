package transport_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/internal/capability"
	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoCapability is a minimal capability used only by these transport tests:
// a throwaway method that lets them exercise dispatch without pulling in the
// full tool/resource registries.
type echoCapability struct{}

func (echoCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"test/echo": func(msg *shared.Message) (interface{}, error) {
			return map[string]string{"status": "ok"}, nil
		},
	}
}
func (echoCapability) SetCapabilities(s *schema.ServerCapabilities) {}

// MockAuthenticator implements transport.AuthenticationManager for tests.
type MockAuthenticator struct {
	Users       map[string]string // authKey -> userID
	AllowAnon   bool
	ReturnError error
}

func (a *MockAuthenticator) Authenticate(authKey string, remoteAddr string) (string, *sync.Map, error) {
	if a.ReturnError != nil {
		return "", nil, a.ReturnError
	}
	if userID, ok := a.Users[authKey]; ok && authKey != "" {
		return userID, &sync.Map{}, nil
	}
	if a.AllowAnon && authKey == "" {
		return "anonymous_user", &sync.Map{}, nil
	}
	return "", nil, fmt.Errorf("unauthorized")
}

// setupServerTest wires a real session.Manager (in-memory storage/events)
// behind a real Transport, the way server/builder.go does for production,
// scaled down to what these tests need.
func setupServerTest(t *testing.T) (*transport.Transport, *session.Manager, *config.InternalConfig, *httptest.Server, func()) {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "TestServer"
	cfg.ServerVersionValue = "1.2.3"

	manager, err := session.NewManager(logger, cfg, nil, nil)
	require.NoError(t, err)
	manager.AddCapability(capability.NewBase(logger, manager), echoCapability{})

	tp, err := transport.New(manager, logger, cfg)
	require.NoError(t, err)
	tp.SetAuthManager(&MockAuthenticator{
		Users: map[string]string{
			"valid-key": "test-user",
			"key1":      "user1",
		},
		AllowAnon: true,
	})

	mux := http.NewServeMux()
	tp.RegisterMCPHandlers(mux)
	server := httptest.NewServer(mux)

	cleanup := func() {
		server.Close()
		manager.CloseAllSessions()
	}

	return tp, manager, cfg, server, cleanup
}

// --- Client interaction helpers ---

func makeSseGetRequest(t *testing.T, url string, headers map[string]string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 3 * time.Second}
	return client.Do(req)
}

func makePostRequest(t *testing.T, url string, body string, headers map[string]string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest("POST", url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 3 * time.Second}
	return client.Do(req)
}

func makeDeleteRequest(t *testing.T, url string, headers map[string]string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest("DELETE", url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 3 * time.Second}
	return client.Do(req)
}

// readNextSseEvent reads the next complete SSE event from reader, handling
// multi-line data and `:`-prefixed comments (keepalives).
func readNextSseEvent(t *testing.T, reader *bufio.Reader) (event, data, id string, err error) {
	t.Helper()
	var dataBuilder strings.Builder
	event = "message"

	for {
		lineBytes, isPrefix, readErr := reader.ReadLine()
		if readErr != nil {
			if readErr == io.EOF && dataBuilder.Len() > 0 {
				return event, dataBuilder.String(), id, nil
			}
			return event, dataBuilder.String(), id, readErr
		}
		line := string(lineBytes)
		if isPrefix {
			continue
		}
		if line == "" {
			if dataBuilder.Len() > 0 {
				return event, dataBuilder.String(), id, nil
			}
			event = "message"
			id = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // keepalive comment
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		field := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch field {
		case "event":
			event = value
		case "data":
			if dataBuilder.Len() > 0 {
				dataBuilder.WriteString("\n")
			}
			dataBuilder.WriteString(value)
		case "id":
			id = value
		}
	}
}

func createJsonRpcRequestBody(id interface{}, method string, params interface{}) string {
	var rawParams *json.RawMessage
	if params != nil {
		pBytes, err := json.Marshal(params)
		if err == nil {
			raw := json.RawMessage(pBytes)
			rawParams = &raw
		}
	}
	req := shared.JSONRPCMessage{
		JSONRPC: shared.JSONRPCVersion,
		ID:      &schema.RequestID{Value: id},
		Method:  &method,
		Params:  rawParams,
	}
	reqBytes, _ := json.Marshal(req)
	return string(reqBytes)
}

func createJsonRpcNotificationBody(method string, params interface{}) string {
	var rawParams *json.RawMessage
	if params != nil {
		pBytes, err := json.Marshal(params)
		if err == nil {
			raw := json.RawMessage(pBytes)
			rawParams = &raw
		}
	}
	req := shared.JSONRPCNotification{
		JSONRPC: shared.JSONRPCVersion,
		Method:  &method,
		Params:  rawParams,
	}
	reqBytes, _ := json.Marshal(req)
	return string(reqBytes)
}

func createJsonRpcBatchRequestBody(messages ...string) string {
	rawMessages := make([]json.RawMessage, len(messages))
	for i, msg := range messages {
		rawMessages[i] = json.RawMessage(msg)
	}
	batchBytes, _ := json.Marshal(rawMessages)
	return string(batchBytes)
}

func assertJsonRpcError(t *testing.T, body io.Reader, expectedCode int, expectedMessagePart string) {
	t.Helper()
	bodyBytes, err := io.ReadAll(body)
	require.NoError(t, err)

	var errResp shared.JSONRPCErrorResponse
	err = json.Unmarshal(bodyBytes, &errResp)
	require.NoError(t, err, "response body is not a valid JSON-RPC error response: %s", string(bodyBytes))
	require.NotNil(t, errResp.Error, "JSON-RPC response does not contain an error object")
	require.Equal(t, expectedCode, errResp.Error.Code, "JSON-RPC error code mismatch")
	if expectedMessagePart != "" {
		require.Contains(t, errResp.Error.Message, expectedMessagePart)
	}
}

func assertJsonRpcSuccess(t *testing.T, body io.Reader, expectedID interface{}) json.RawMessage {
	t.Helper()
	bodyBytes, err := io.ReadAll(body)
	require.NoError(t, err)

	var resp shared.JSONRPCResponse
	err = json.Unmarshal(bodyBytes, &resp)
	require.NoError(t, err, "response body is not a valid JSON-RPC success response: %s", string(bodyBytes))
	require.NotNil(t, resp.Result, "expected success result to have a 'result' field")
	if expectedID != nil {
		require.NotNil(t, resp.ID)
		require.Equal(t, expectedID, resp.ID.Value)
	}
	return *resp.Result
}
