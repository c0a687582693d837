package dashscope

import "encoding/json"

// Task actions sent by the client.
const (
	actionRunTask      = "run-task"
	actionContinueTask = "continue-task"
	actionFinishTask   = "finish-task"
)

// Task events received from the server.
const (
	eventTaskStarted     = "task-started"
	eventResultGenerated = "result-generated"
	eventTaskFinished    = "task-finished"
	eventTaskFailed      = "task-failed"
)

type header struct {
	Action       string `json:"action,omitempty"`
	Event        string `json:"event,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type payload struct {
	TaskGroup  string          `json:"task_group,omitempty"`
	Task       string          `json:"task,omitempty"`
	Function   string          `json:"function,omitempty"`
	Model      string          `json:"model,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Input      map[string]any  `json:"input"`
	Output     json.RawMessage `json:"output,omitempty"`
}

type envelope struct {
	Header  header  `json:"header"`
	Payload payload `json:"payload"`
}

// sentence is the recognition output fragment carried inside
// result-generated payloads.
type sentence struct {
	Text        string `json:"text"`
	BeginTime   int64  `json:"begin_time"`
	EndTime     *int64 `json:"end_time"`
	SentenceEnd bool   `json:"sentence_end"`
}

type recognitionOutput struct {
	Sentence sentence `json:"sentence"`
}
