package config

const (
	// TopicRunResult carries per-run outcome events published by source runners.
	TopicRunResult = "pipeline.run.result"

	// TopicRowFailed carries terminal staged-row failures for operator attention.
	TopicRowFailed = "pipeline.row.failed"

	// TopicControl carries operator commands (e.g. forced resync of a source).
	TopicControl = "pipeline.control"
)
