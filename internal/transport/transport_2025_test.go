package transport_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_SRV_25_HTTP_POS_01 verifies the single /mcp endpoint answers an OPTIONS
// preflight with 204 and lists both GET and POST in its Allow header.
func Test_SRV_25_HTTP_POS_01_ProvidesSingleEndpointForPostGet(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	req, _ := http.NewRequest("OPTIONS", server.URL+transport.MCP_PATH, nil)
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), "GET")
	assert.Contains(t, resp.Header.Get("Allow"), "POST")
}

// initializeSession performs the initialize + notifications/initialized
// handshake and returns the session id the server
// minted, plus the initialize result.
func initializeSession(t *testing.T, baseURL string) (string, schema.InitializeResult) {
	t.Helper()
	body := createJsonRpcRequestBody(1, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		Capabilities:    schema.ClientCapabilities{},
		ClientInfo:      schema.Implementation{Name: "test-client", Version: "1.0"},
	})
	resp, err := makePostRequest(t, baseURL+transport.MCP_PATH, body, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessionID := resp.Header.Get(transport.MCP_SESSION_HEADER)
	require.NotEmpty(t, sessionID, "server must assign Mcp-Session-Id on initialize")

	raw := assertJsonRpcSuccess(t, resp.Body, float64(1))
	var result schema.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))

	initNotif := createJsonRpcNotificationBody("notifications/initialized", nil)
	resp2, err := makePostRequest(t, baseURL+transport.MCP_PATH, initNotif, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)

	return sessionID, result
}

// S1: happy-path initialize.
func Test_S1_InitializeHandshake(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	sessionID, result := initializeSession(t, server.URL)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, schema.PROTOCOL_VERSION, result.ProtocolVersion)
	if result.Capabilities.Resources != nil {
		assert.False(t, result.Capabilities.Resources.Subscribe, "resources.subscribe must be false: no subscribe handler is registered")
	}
}

// S2: lifecycle violation — a method other than initialize/ping/initialized
// dispatched before the session reaches Active must fail with -32031.
func Test_S2_LifecycleViolation(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	initBody := createJsonRpcRequestBody(1, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "c", Version: "1"},
	})
	resp, err := makePostRequest(t, server.URL+transport.MCP_PATH, initBody, nil)
	require.NoError(t, err)
	sessionID := resp.Header.Get(transport.MCP_SESSION_HEADER)
	resp.Body.Close()
	require.NotEmpty(t, sessionID)

	// Skip notifications/initialized: session stays Initializing, not Active.
	toolsBody := createJsonRpcRequestBody(2, "test/echo", nil)
	resp2, err := makePostRequest(t, server.URL+transport.MCP_PATH, toolsBody, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	defer resp2.Body.Close()
	assertJsonRpcError(t, resp2.Body, shared.JSONRPCErrorNotInitialized, "")
}

// Second initialize on an Active session must fail as AlreadyInitialized.
func Test_AlreadyInitialized(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	sessionID, _ := initializeSession(t, server.URL)

	again := createJsonRpcRequestBody(9, "initialize", schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      schema.Implementation{Name: "c", Version: "1"},
	})
	resp, err := makePostRequest(t, server.URL+transport.MCP_PATH, again, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assertJsonRpcError(t, resp.Body, shared.JSONRPCErrorAlreadyInitialized, "")
}

// Unknown session id on a non-initialize request yields HTTP 404.
func Test_UnknownSessionID(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	body := createJsonRpcRequestBody(1, "test/echo", nil)
	resp, err := makePostRequest(t, server.URL+transport.MCP_PATH, body, map[string]string{
		transport.MCP_SESSION_HEADER: "00000000-0000-7000-8000-000000000000",
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// A buffered POST against an Active session returns a single JSON object for
// a registered method.
func Test_BufferedToolCall(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	sessionID, _ := initializeSession(t, server.URL)

	body := createJsonRpcRequestBody(2, "test/echo", nil)
	resp, err := makePostRequest(t, server.URL+transport.MCP_PATH, body, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	raw := assertJsonRpcSuccess(t, resp.Body, float64(2))
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ok", decoded["status"])
}

// GET /mcp opens a resumable SSE stream for an Active session and honors
// Last-Event-ID replay.
func Test_GetStream_Resume(t *testing.T) {
	_, manager, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	sessionID, _ := initializeSession(t, server.URL)

	resp, err := makeSseGetRequest(t, server.URL+transport.MCP_PATH, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	resp.Body.Close()
	time.Sleep(50 * time.Millisecond) // let the server observe the client disconnect

	manager.NotifyEligibleSessions("notifications/progress", map[string]any{"progress": 50})

	resp2, err := makeSseGetRequest(t, server.URL+transport.MCP_PATH, map[string]string{
		transport.MCP_SESSION_HEADER:   sessionID,
		transport.LAST_EVENT_ID_HEADER: "1",
	})
	require.NoError(t, err)
	defer resp2.Body.Close()
	reader := bufio.NewReader(resp2.Body)
	event, data, id, err := readNextSseEvent(t, reader)
	require.NoError(t, err)
	assert.Equal(t, "message", event)
	assert.NotEmpty(t, id)
	assert.Contains(t, data, "notifications/progress")
}

// Two concurrently open GET streams are independent broadcast subscribers:
// every session event reaches both of them.
func Test_GetStream_MultipleSubscribers(t *testing.T) {
	_, manager, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	sessionID, _ := initializeSession(t, server.URL)
	headers := map[string]string{transport.MCP_SESSION_HEADER: sessionID}

	resp1, err := makeSseGetRequest(t, server.URL+transport.MCP_PATH, headers)
	require.NoError(t, err)
	defer resp1.Body.Close()
	require.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err := makeSseGetRequest(t, server.URL+transport.MCP_PATH, headers)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	time.Sleep(50 * time.Millisecond) // let both streams attach their subscriptions
	manager.NotifyEligibleSessions("notifications/progress", map[string]any{"progress": 75})

	for _, resp := range []*http.Response{resp1, resp2} {
		reader := bufio.NewReader(resp.Body)
		event, data, _, err := readNextSseEvent(t, reader)
		require.NoError(t, err)
		assert.Equal(t, "message", event)
		assert.Contains(t, data, "notifications/progress")
	}
}

// DELETE terminates the session; subsequent requests against it 404.
func Test_DeleteSession(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()

	sessionID, _ := initializeSession(t, server.URL)

	resp, err := makeDeleteRequest(t, server.URL+transport.MCP_PATH, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	body := createJsonRpcRequestBody(1, "test/echo", nil)
	resp2, err := makePostRequest(t, server.URL+transport.MCP_PATH, body, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

// Batched requests return a JSON array with one response per request, in the
// order the responses complete.
func Test_BatchRequest(t *testing.T) {
	_, _, _, server, cleanup := setupServerTest(t)
	defer cleanup()
	sessionID, _ := initializeSession(t, server.URL)

	batch := createJsonRpcBatchRequestBody(
		createJsonRpcRequestBody(10, "test/echo", nil),
		createJsonRpcRequestBody(11, "test/echo", nil),
	)
	resp, err := makePostRequest(t, server.URL+transport.MCP_PATH, batch, map[string]string{
		transport.MCP_SESSION_HEADER: sessionID,
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Len(t, decoded, 2)
}
