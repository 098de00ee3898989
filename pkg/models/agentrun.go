package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return true
	}
	return false
}

// AgentRun is one supervised execution of the agent loop against a thread.
// Responses holds the serialized event log, written once at the terminal
// transition.
type AgentRun struct {
	ID          string          `json:"id"`
	ThreadID    string          `json:"thread_id"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Responses   json.RawMessage `json:"responses,omitempty"`
}
