package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gate4ai/mcpcore/internal/task"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

const defaultTaskListLimit = 50
const taskResultPollInterval = 200 * time.Millisecond

var _ shared.IServerCapability = (*TasksCapability)(nil)

// TasksCapability exposes the tasks/* method family
// against an already-running task.Runtime: listing, point lookups, blocking
// result retrieval, cancellation, and InputRequired resumption. The runtime
// itself is built and wired in by ToolsCapability (it owns the only code path
// that spawns a task); this capability only ever reads and mutates existing
// records.
type TasksCapability struct {
	logger  *zap.Logger
	runtime *task.Runtime
}

// NewTasksCapability creates a TasksCapability. runtime must not be nil: a
// server with no task runtime attached should not register this capability
// at all (its builder omits the registration rather than passing nil here).
func NewTasksCapability(runtime *task.Runtime, logger *zap.Logger) *TasksCapability {
	return &TasksCapability{runtime: runtime, logger: logger.Named("tasks-capability")}
}

func (tc *TasksCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"tasks/list":         tc.handleList,
		"tasks/get":          tc.handleGet,
		"tasks/result":       tc.handleResult,
		"tasks/cancel":       tc.handleCancel,
		"tasks/provideInput": tc.handleProvideInput,
	}
}

// SetCapabilities advertises Tasks truthfully: the runtime is only ever
// attached when at least one tool declared taskSupport optional/required, so
// its mere presence is the truthfulness signal.
func (tc *TasksCapability) SetCapabilities(s *schema.ServerCapabilities) {
	if tc.runtime != nil {
		s.Tasks = &schema.Capability{ListChanged: false}
	}
}

func (tc *TasksCapability) handleList(msg *shared.Message) (interface{}, error) {
	var params schema.ListTasksRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
		}
	}
	if rpcErr := shared.ValidateLimit(params.Limit); rpcErr != nil {
		return nil, rpcErr
	}
	limit := defaultTaskListLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	cursor := ""
	if params.Cursor != nil {
		cursor = string(*params.Cursor)
	}

	records, next, err := tc.runtime.Storage().ListTasksForSession(context.Background(), msg.Session.GetID(), cursor, limit)
	if err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("list tasks: %v", err)})
	}

	summaries := make([]schema.TaskSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	result := schema.ListTasksResult{Tasks: summaries}
	if next != "" {
		c := schema.Cursor(next)
		result.NextCursor = &c
		result.Meta = schema.PaginationMeta(c, nil, true)
	} else {
		result.Meta = schema.PaginationMeta("", nil, false)
	}
	return result, nil
}

func (tc *TasksCapability) handleGet(msg *shared.Message) (interface{}, error) {
	var params schema.GetTaskRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	rec, err := tc.runtime.Storage().GetTask(context.Background(), params.ID)
	if err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("task not found: %s", params.ID)})
	}
	return rec.Summary(), nil
}

// handleResult implements tasks/result: it blocks until the task reaches a
// terminal state or the client's timeout hint elapses, then resolves as a
// JSON-RPC result (Success) or JSON-RPC error (Error), preserving the
// original code/message/data.
func (tc *TasksCapability) handleResult(msg *shared.Message) (interface{}, error) {
	var params schema.TaskResultRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}

	timeout := 5 * time.Minute
	if params.TimeoutMs != nil {
		timeout = time.Duration(*params.TimeoutMs) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	logger := tc.logger.With(zap.String("taskID", params.ID))
	for {
		rec, err := tc.runtime.Storage().GetTask(context.Background(), params.ID)
		if err != nil {
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("task not found: %s", params.ID)})
		}
		if rec.Status.IsTerminal() {
			if rec.Result == nil {
				logger.Error("terminal task has no result recorded")
				return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "task reached a terminal state with no recorded result"})
			}
			if rec.Result.Error != nil {
				return nil, &shared.JSONRPCError{Code: rec.Result.Error.Code, Message: rec.Result.Error.Message, Data: rec.Result.Error.Data}
			}
			var value interface{} = rec.Result.Value
			return value, nil
		}
		if time.Now().After(deadline) {
			return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "timed out waiting for task result"})
		}
		time.Sleep(taskResultPollInterval)
	}
}

func (tc *TasksCapability) handleCancel(msg *shared.Message) (interface{}, error) {
	var params schema.CancelTaskRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	if err := tc.runtime.Cancel(context.Background(), params.ID, params.Reason); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("cancel task: %v", err)})
	}
	return map[string]interface{}{}, nil
}

// handleProvideInput answers a task paused in InputRequired status (the
// elicitation response channel).
func (tc *TasksCapability) handleProvideInput(msg *shared.Message) (interface{}, error) {
	var params schema.ProvideTaskInputRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	if err := tc.runtime.ProvideInput(context.Background(), params.ID, params.Content); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("provide input: %v", err)})
	}
	return map[string]interface{}{}, nil
}
