package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
)

// ListTasks fetches every page of tasks/list for this session.
func (s *Session) ListTasks() ([]schema.TaskSummary, error) {
	var tasks []schema.TaskSummary
	for msg := range s.SendRequestSync("tasks/list", &schema.ListTasksRequestParams{}) {
		if msg == nil {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("tasks/list: %w", msg.Error)
		}
		if msg.Result == nil {
			continue
		}
		var page schema.ListTasksResult
		if err := json.Unmarshal(*msg.Result, &page); err != nil {
			return nil, fmt.Errorf("decode tasks/list result: %w", err)
		}
		tasks = append(tasks, page.Tasks...)
	}
	return tasks, nil
}

// GetTask returns the current record of one task.
func (s *Session) GetTask(id string) (*schema.TaskSummary, error) {
	if id == "" {
		return nil, errors.New("task id cannot be empty")
	}
	msg, ok := <-s.SendRequestSync("tasks/get", &schema.GetTaskRequestParams{ID: id})
	if !ok || msg == nil {
		return nil, fmt.Errorf("tasks/get %q: session closed before a reply arrived", id)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("tasks/get %q: %w", id, msg.Error)
	}
	if msg.Result == nil {
		return nil, fmt.Errorf("tasks/get %q: empty result", id)
	}
	var summary schema.TaskSummary
	if err := json.Unmarshal(*msg.Result, &summary); err != nil {
		return nil, fmt.Errorf("decode tasks/get %q result: %w", id, err)
	}
	return &summary, nil
}

// TaskResult blocks until the task reaches a terminal state (server-side, per
// the optional timeout hint in milliseconds) and returns the raw success
// value. A task that failed comes back as the *shared.JSONRPCError the server
// preserved from the tool body, so the original code/message/data survive.
func (s *Session) TaskResult(id string, timeoutMs *int64) (json.RawMessage, error) {
	if id == "" {
		return nil, errors.New("task id cannot be empty")
	}
	msg, ok := <-s.SendRequestSync("tasks/result", &schema.TaskResultRequestParams{ID: id, TimeoutMs: timeoutMs})
	if !ok || msg == nil {
		return nil, fmt.Errorf("tasks/result %q: session closed before a reply arrived", id)
	}
	if msg.Error != nil {
		return nil, msg.Error
	}
	if msg.Result == nil {
		return nil, nil
	}
	return *msg.Result, nil
}

// CancelTask requests cancellation of a non-terminal task.
func (s *Session) CancelTask(id string, reason string) error {
	if id == "" {
		return errors.New("task id cannot be empty")
	}
	msg, ok := <-s.SendRequestSync("tasks/cancel", &schema.CancelTaskRequestParams{ID: id, Reason: reason})
	if !ok || msg == nil {
		return fmt.Errorf("tasks/cancel %q: session closed before a reply arrived", id)
	}
	if msg.Error != nil {
		return fmt.Errorf("tasks/cancel %q: %w", id, msg.Error)
	}
	return nil
}

// ProvideTaskInput answers a task paused in input_required status with the
// client's structured response.
func (s *Session) ProvideTaskInput(id string, content json.RawMessage) error {
	if id == "" {
		return errors.New("task id cannot be empty")
	}
	msg, ok := <-s.SendRequestSync("tasks/provideInput", &schema.ProvideTaskInputRequestParams{ID: id, Content: content})
	if !ok || msg == nil {
		return fmt.Errorf("tasks/provideInput %q: session closed before a reply arrived", id)
	}
	if msg.Error != nil {
		return fmt.Errorf("tasks/provideInput %q: %w", id, msg.Error)
	}
	return nil
}
