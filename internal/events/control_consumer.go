package events

import (
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"
)

// SourceControl lets the control channel reach into the running source
// loops. ForceDue returns false for an unknown source name.
type SourceControl interface {
	ForceDue(source string) bool
}

// ControlConsumer handles operator commands from the control topic.
// Currently the only command is an on-demand resync of one source.
type ControlConsumer struct {
	control SourceControl
}

func NewControlConsumer(c SourceControl) *ControlConsumer {
	return &ControlConsumer{control: c}
}

func (h *ControlConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var cmd struct {
		Command string `json:"command"`
		Source  string `json:"source"`
	}
	if err := json.Unmarshal(m.Body, &cmd); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid control message", "error", err)
		return nil
	}

	switch cmd.Command {
	case "resync":
		if !h.control.ForceDue(cmd.Source) {
			slog.Warn("resync requested for unknown source", "source", cmd.Source)
			return nil
		}
		slog.Info("resync triggered", "source", cmd.Source)
	default:
		slog.Warn("unknown control command, dropping", "command", cmd.Command)
	}
	return nil
}
