// Package runlog records what happened during a pipeline run: overall
// status plus an ordered entry log the engine and node runtimes append to.
package runlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one log line of a run. Input/Output carry optional JSON
// snapshots of what a node consumed and produced.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     string    `gorm:"index" json:"-"`
	At        time.Time `json:"at"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Input     *string   `gorm:"type:text" json:"input,omitempty"`
	Output    *string   `gorm:"type:text" json:"output,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	PipelineVersion string    `json:"pipelineVersion"`
	SessionID       string    `gorm:"index" json:"sessionId"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	Entries         []Entry   `gorm:"foreignKey:RunID" json:"entries"`

	mu sync.Mutex `gorm:"-"`
}

// NewRun starts a run record in RUNNING state.
func NewRun(pipelineVersion, sessionID string) *Run {
	return &Run{
		ID:              uuid.New().String(),
		PipelineVersion: pipelineVersion,
		SessionID:       sessionID,
		Status:          StatusRunning,
		StartedAt:       time.Now(),
	}
}

// Append adds a log entry. Safe for concurrent node tasks.
func (slf *Run) Append(level Level, message string, input, output *string) {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	slf.Entries = append(slf.Entries, Entry{
		RunID:   slf.ID,
		At:      time.Now(),
		Level:   level,
		Message: message,
		Input:   input,
		Output:  output,
	})
}

// Finish stamps the terminal status.
func (slf *Run) Finish(status Status) {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	slf.Status = status
	now := time.Now()
	slf.FinishedAt = &now
}
