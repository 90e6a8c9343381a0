package schema

import "encoding/json"

// TaskStatus is the status field of a task record.
type TaskStatus string

const (
	TaskStatusWorking       TaskStatus = "working"
	TaskStatusInputRequired TaskStatus = "input_required"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// IsTerminal reports whether a task in this status can never transition again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskResult is the terminal outcome: exactly one of Value/Err is set.
type TaskResult struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error *TaskResultError `json:"error,omitempty"`
}

type TaskResultError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type ListTasksRequestParams struct {
	PaginatedRequestParams
}

type ListTasksRequest struct {
	Method string                  `json:"method"`
	Params ListTasksRequestParams `json:"params,omitempty"`
}

// TaskSummary is the shape returned from tasks/list/tasks/get.
type TaskSummary struct {
	ID             string      `json:"id"`
	Status         TaskStatus  `json:"status"`
	StatusMessage  string      `json:"statusMessage,omitempty"`
	CreatedAt      string      `json:"createdAt"`
	LastUpdatedAt  string      `json:"lastUpdatedAt"`
	TTLMillis      *int64      `json:"ttl,omitempty"`
	PollIntervalMs *int64      `json:"pollInterval,omitempty"`
	Result         *TaskResult `json:"result,omitempty"`
}

type ListTasksResult struct {
	PaginatedResult
	Meta  Meta          `json:"_meta,omitempty"`
	Tasks []TaskSummary `json:"tasks"`
}

type GetTaskRequestParams struct {
	ID string `json:"id"`
}

type GetTaskRequest struct {
	Method string               `json:"method"`
	Params GetTaskRequestParams `json:"params"`
}

// TaskResultRequest is tasks/result: blocks until the task is terminal (or
// the client's poll/ttl hint expires) then resolves as success or error.
type TaskResultRequestParams struct {
	ID        string `json:"id"`
	TimeoutMs *int64 `json:"timeoutMs,omitempty"`
}

type TaskResultRequest struct {
	Method string                  `json:"method"`
	Params TaskResultRequestParams `json:"params"`
}

type CancelTaskRequestParams struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type CancelTaskRequest struct {
	Method string                  `json:"method"`
	Params CancelTaskRequestParams `json:"params"`
}

// ProvideTaskInputRequestParams answers a task paused in InputRequired status
// (the elicitation response channel MCP does not yet standardize).
type ProvideTaskInputRequestParams struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
}

type ProvideTaskInputRequest struct {
	Method string                        `json:"method"`
	Params ProvideTaskInputRequestParams `json:"params"`
}

// TaskStatusChangedNotification lets a subscriber observe a task without polling.
type TaskStatusChangedNotificationParams struct {
	ID            string     `json:"id"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
}

type TaskStatusChangedNotification struct {
	Method string                              `json:"method"`
	Params TaskStatusChangedNotificationParams `json:"params"`
}
