package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/task"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// ToolHandler is the body of a tool invocation. It runs synchronously and
// returns its structured result directly; a tool that needs task mode
// implements TaskToolHandler instead.
type ToolHandler func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error)

// TaskToolHandler is the body of a tool invocation that runs under the task
// runtime: it receives a cancellable context and an Input handle for
// InputRequired round-trips, and returns the task's terminal
// result rather than an immediate one.
type TaskToolHandler func(msg *shared.Message, arguments schema.Arguments, in task.Input) (schema.TaskResult, error)

var _ shared.IServerCapability = (*ToolsCapability)(nil)

// ToolsCapability handles tool registration, listing, and invocation,
// including the optional hand-off to the task runtime for tools declared
// with taskSupport "optional" or "required".
type ToolsCapability struct {
	manager  session.ISessionManager
	runtime  *task.Runtime
	logger   *zap.Logger
	mu       sync.RWMutex
	tools    map[string]*Tool
	handlers map[string]func(*shared.Message) (interface{}, error)

	// defaultTaskTTL/defaultPollInterval seed every task spawned by this
	// capability; a future per-tool override is not yet exposed.
	defaultTaskTTL      time.Duration
	defaultPollInterval time.Duration
}

// Tool is a registered tool: its wire definition plus exactly one of the two
// handler kinds, selected by Execution.TaskSupport.
type Tool struct {
	schema.Tool
	Handler     ToolHandler
	TaskHandler TaskToolHandler
	schema      *jsonschema.Schema
	outSchema   *jsonschema.Schema
}

// NewToolsCapability creates a new ToolsCapability. runtime may be nil, in
// which case every tool must declare taskSupport "forbidden" (or leave it
// unset); AddTool rejects "optional"/"required" tools otherwise, so a
// misconfigured tool fails at build time, not at first call.
func NewToolsCapability(manager session.ISessionManager, runtime *task.Runtime, logger *zap.Logger) *ToolsCapability {
	tc := &ToolsCapability{
		manager:             manager,
		runtime:             runtime,
		logger:              logger.Named("tools-capability"),
		tools:               make(map[string]*Tool),
		defaultTaskTTL:      1 * time.Hour,
		defaultPollInterval: 2 * time.Second,
	}
	tc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"tools/list": tc.handleToolsList,
		"tools/call": tc.handleToolsCall,
	}
	return tc
}

func (tc *ToolsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return tc.handlers
}

// SetCapabilities advertises Tools only once at least one tool is
// registered, keeping the advertisement truthful.
func (tc *ToolsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if len(tc.tools) > 0 {
		s.Tools = &schema.Capability{ListChanged: true}
	}
}

// compileSchema builds a validator for the tool's inputSchema, or nil if the
// tool declared none: marshal to a generic document, add it as
// a compiler resource, compile, keep the *jsonschema.Schema for reuse.
func compileSchema(name string, input *schema.JSONSchemaProperty) (*jsonschema.Schema, error) {
	if input == nil {
		return nil, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal inputSchema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal inputSchema: %w", err)
	}
	resourceName := "tool:" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add inputSchema resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile inputSchema: %w", err)
	}
	return compiled, nil
}

// AddTool registers a synchronous tool.
func (tc *ToolsCapability) AddTool(def schema.Tool, handler ToolHandler) error {
	return tc.addTool(def, handler, nil)
}

// AddTaskTool registers a tool that executes under the task runtime. def's
// Execution.TaskSupport must be "optional" or "required".
func (tc *ToolsCapability) AddTaskTool(def schema.Tool, handler TaskToolHandler) error {
	support := schema.TaskSupportOptional
	if def.Execution != nil && def.Execution.TaskSupport != "" {
		support = def.Execution.TaskSupport
	}
	if support == schema.TaskSupportForbidden {
		return fmt.Errorf("tool %q: AddTaskTool requires taskSupport optional or required, got forbidden", def.Name)
	}
	if def.Execution == nil {
		def.Execution = &schema.ToolExecution{}
	}
	def.Execution.TaskSupport = support
	return tc.addTool(def, nil, handler)
}

func (tc *ToolsCapability) addTool(def schema.Tool, handler ToolHandler, taskHandler TaskToolHandler) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.tools[def.Name]; exists {
		return fmt.Errorf("tool with name %q already exists", def.Name)
	}
	if handler == nil && taskHandler == nil {
		return fmt.Errorf("tool %q: handler cannot be nil", def.Name)
	}
	support := schema.TaskSupport("")
	if def.Execution != nil {
		support = def.Execution.TaskSupport
	}
	if (support == schema.TaskSupportOptional || support == schema.TaskSupportRequired) && tc.runtime == nil {
		return fmt.Errorf("tool %q declares taskSupport %q but no task runtime is attached", def.Name, support)
	}
	if support == schema.TaskSupportRequired && taskHandler == nil {
		return fmt.Errorf("tool %q declares taskSupport required but was registered with AddTool, not AddTaskTool", def.Name)
	}

	compiled, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: %w", def.Name, err)
	}
	compiledOut, err := compileSchema(def.Name+":output", def.OutputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: %w", def.Name, err)
	}

	tc.tools[def.Name] = &Tool{Tool: def, Handler: handler, TaskHandler: taskHandler, schema: compiled, outSchema: compiledOut}
	tc.logger.Info("added tool", zap.String("name", def.Name), zap.String("taskSupport", string(support)))
	go tc.broadcastToolsChanged()
	return nil
}

// DeleteTool removes a tool by name.
func (tc *ToolsCapability) DeleteTool(name string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, exists := tc.tools[name]; !exists {
		return fmt.Errorf("tool with name %q does not exist", name)
	}
	delete(tc.tools, name)
	tc.logger.Info("deleted tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

func (tc *ToolsCapability) broadcastToolsChanged() {
	tc.manager.NotifyEligibleSessions("notifications/tools/list_changed", nil)
}

// handleToolsList handles "tools/list", paginating the registry by tool name
// (the shared cursor/limit contract).
func (tc *ToolsCapability) handleToolsList(msg *shared.Message) (interface{}, error) {
	var params schema.ListToolsRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
		}
	}

	tc.mu.RLock()
	names := make([]string, 0, len(tc.tools))
	for name := range tc.tools {
		names = append(names, name)
	}
	page, next, hasMore, err := paginateByName(names, params.Cursor, params.Limit)
	if err != nil {
		tc.mu.RUnlock()
		return nil, err
	}
	toolsList := make([]schema.Tool, 0, len(page))
	for _, name := range page {
		toolsList = append(toolsList, tc.tools[name].Tool)
	}
	total := len(names)
	tc.mu.RUnlock()

	nextCursor, meta := paginationResult(next, total, hasMore)
	return schema.ListToolsResult{
		PaginatedResult: schema.PaginatedResult{NextCursor: nextCursor},
		Meta:            meta,
		Tools:           toolsList,
	}, nil
}

// handleToolsCall handles "tools/call": validates arguments against the
// tool's inputSchema, then either runs the tool synchronously or spawns it
// on the task runtime per its declared taskSupport.
func (tc *ToolsCapability) handleToolsCall(msg *shared.Message) (interface{}, error) {
	logger := tc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "tools/call"))

	var params schema.CallToolRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	logger = logger.With(zap.String("toolName", params.Name))

	tc.mu.RLock()
	tool, exists := tc.tools[params.Name]
	tc.mu.RUnlock()
	if !exists {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("tool not found: %s", params.Name)})
	}

	if tool.schema != nil {
		if err := tool.schema.Validate(map[string]any(params.Arguments)); err != nil {
			logger.Warn("tool arguments failed schema validation", zap.Error(err))
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("arguments do not match inputSchema: %v", err)})
		}
	}

	support := schema.TaskSupport("")
	if tool.Execution != nil {
		support = tool.Execution.TaskSupport
	}

	if support == schema.TaskSupportRequired || (support == schema.TaskSupportOptional && tool.TaskHandler != nil) {
		return tc.callAsTask(msg, tool, params.Arguments, logger)
	}
	return tc.callSync(msg, tool, params.Arguments, logger)
}

func (tc *ToolsCapability) callSync(msg *shared.Message, tool *Tool, args schema.Arguments, logger *zap.Logger) (interface{}, error) {
	start := time.Now()
	meta, content, structured, err := tool.Handler(msg, args)
	duration := time.Since(start)

	result := schema.CallToolResult{
		Meta:              meta,
		Content:           content,
		StructuredContent: structured,
		IsError:           err != nil,
	}
	if err != nil {
		logger.Error("tool handler returned an error", zap.Error(err), zap.Duration("duration", duration))
		if result.Content == nil {
			errText := err.Error()
			result.Content = []schema.Content{{Type: "text", Text: &errText}}
		}
		// The Go error is folded into IsError/Content rather than returned as
		// a JSON-RPC error: the call itself succeeded, the tool body failed.
		return result, nil
	}
	logger.Debug("tool call successful", zap.Duration("duration", duration))
	tc.shapeOutput(tool, &result, logger)
	return result, nil
}

// shapeOutput applies the outputSchema-driven dual emission: with a declared
// outputSchema the return value goes out both as a text content block (stable
// JSON rendering) and as structuredContent, with scalars wrapped under the
// tool's outputField ("result" when unset); without one, only content is
// emitted. Schema violations are logged, never rejected.
func (tc *ToolsCapability) shapeOutput(tool *Tool, result *schema.CallToolResult, logger *zap.Logger) {
	if tool.OutputSchema == nil {
		result.StructuredContent = nil
		return
	}
	raw := result.StructuredContent
	if raw == nil {
		return
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		logger.Warn("tool return value is not valid JSON", zap.Error(err))
		result.StructuredContent = nil
		return
	}
	if tool.outSchema != nil {
		if err := tool.outSchema.Validate(value); err != nil {
			logger.Warn("tool return value does not match outputSchema", zap.Error(err))
		}
	}

	if result.Content == nil {
		rendered := renderJSON(raw)
		result.Content = []schema.Content{{Type: "text", Text: &rendered}}
	}
	if _, isObject := value.(map[string]interface{}); !isObject {
		field := tool.OutputField
		if field == "" {
			field = "result"
		}
		wrapped, err := json.Marshal(map[string]json.RawMessage{field: raw})
		if err != nil {
			logger.Warn("failed to wrap scalar return value", zap.Error(err))
			return
		}
		result.StructuredContent = wrapped
	}
}

// renderJSON compacts raw JSON into the stable single-line form used for the
// text content mirror of structuredContent.
func renderJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (tc *ToolsCapability) callAsTask(msg *shared.Message, tool *Tool, args schema.Arguments, logger *zap.Logger) (interface{}, error) {
	if tool.TaskHandler == nil || tc.runtime == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("tool %q is misconfigured for task mode", tool.Name)})
	}
	sessionID := msg.Session.GetID()
	work := func(ctx context.Context, in task.Input) (schema.TaskResult, error) {
		return tool.TaskHandler(msg, args, in)
	}
	id, err := tc.runtime.Spawn(context.Background(), sessionID, tool.Name, tc.defaultTaskTTL, tc.defaultPollInterval, work)
	if err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("failed to start task: %v", err)})
	}
	logger.Info("spawned task for tool call", zap.String("taskID", id))
	return schema.CallToolResult{Task: &schema.TaskHandle{ID: id, Status: schema.TaskStatusWorking}}, nil
}
