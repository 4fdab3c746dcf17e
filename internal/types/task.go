package types

// PriorityState 优先级状态
type PriorityState string

const (
	PriorityLow    PriorityState = "low"
	PriorityMedium PriorityState = "medium"
	PriorityHigh   PriorityState = "high"
)

// StatusState 任务状态
type StatusState string

const (
	StatusTodo       StatusState = "todo"
	StatusInProgress StatusState = "in_progress"
	StatusDone       StatusState = "done"
	StatusArchived   StatusState = "archived"
)

// AllStatuses / AllPriorities 用于校验
var (
	AllStatuses   = []string{string(StatusTodo), string(StatusInProgress), string(StatusDone), string(StatusArchived)}
	AllPriorities = []string{string(PriorityLow), string(PriorityMedium), string(PriorityHigh)}
)

// TaskInput 创建任务的请求体
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DueAt       string `json:"due_at,omitempty"`
}

// UpdateTaskRequest 更新任务：client_version 必须等于服务器版本
type UpdateTaskRequest struct {
	TaskInput
	ClientVersion int64 `json:"client_version"`
}

// Defaults 填充默认状态和优先级
func (t *TaskInput) Defaults() {
	if t.Status == "" {
		t.Status = string(StatusTodo)
	}
	if t.Priority == "" {
		t.Priority = string(PriorityMedium)
	}
}
