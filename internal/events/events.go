// Package events defines the NSQ payloads the pipeline emits and the
// control commands it accepts.
package events

// Publisher is satisfied by nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NoopPublisher drops every event. Used when eventing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, []byte) error { return nil }

// RunResult is published after every source run, success or not.
type RunResult struct {
	RunID          string `json:"run_id"`
	Source         string `json:"source"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsFailed    int    `json:"items_failed"`
	ItemsSkipped   int    `json:"items_skipped"`
	DocsStaged     int    `json:"docs_staged"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// RowFailed is published when a staged row exhausts its retry budget and
// becomes permanently failed.
type RowFailed struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Collection string `json:"collection"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error"`
}
