// pkg/registry/schema.go
package registry

// TaskRegistry describes every queue task type the dispatch engine runs.
type TaskRegistry struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	Tasks       []Task `json:"tasks"`
}

type Task struct {
	ID            string                 `json:"id"`
	DisplayName   string                 `json:"displayName"`
	Description   string                 `json:"description"`
	Queue         string                 `json:"queue"`
	Version       string                 `json:"version"`
	PayloadSchema map[string]interface{} `json:"payloadSchema"`
	ErrorCodes    []string               `json:"errorCodes"`
	Timeout       string                 `json:"timeout"`
	Attempts      int                    `json:"attempts"`
	Backoff       BackoffSpec            `json:"backoff"`
	Tags          []string               `json:"tags"`
}

// BackoffSpec mirrors the retry policy stored on queued jobs.
type BackoffSpec struct {
	Type    string `json:"type"`
	DelayMs int    `json:"delayMs"`
}
