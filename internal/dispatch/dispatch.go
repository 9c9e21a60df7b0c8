// Package dispatch carries side-effect work out of a pipeline run. Nodes
// enqueue jobs fire-and-forget; workers consume them outside the engine.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "pipeline.effects."

// Dispatcher enqueues async side-effect jobs without blocking the run.
type Dispatcher interface {
	Dispatch(kind string, job any) error
}

// EmailJob is the payload of a send-email side effect.
type EmailJob struct {
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	IsHTML  bool     `json:"isHtml"`
}

// NATSDispatcher publishes jobs to pipeline.effects.<kind>.
type NATSDispatcher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func NewNATSDispatcher(natsURL string, logger zerolog.Logger) (*NATSDispatcher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSDispatcher{conn: nc, logger: logger}, nil
}

func (slf *NATSDispatcher) Dispatch(kind string, job any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal %s job: %w", kind, err)
	}
	if err := slf.conn.Publish(subjectPrefix+kind, data); err != nil {
		return fmt.Errorf("publish %s job: %w", kind, err)
	}
	slf.logger.Debug().Str("kind", kind).Msg("Dispatched side-effect job")
	return nil
}

// Close drains the NATS connection.
func (slf *NATSDispatcher) Close() {
	if err := slf.conn.Drain(); err != nil {
		slf.logger.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
}

// MemoryDispatcher records jobs in memory. Used by tests.
type MemoryDispatcher struct {
	mu   sync.Mutex
	jobs []RecordedJob
}

type RecordedJob struct {
	Kind string
	Job  any
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

func (slf *MemoryDispatcher) Dispatch(kind string, job any) error {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	slf.jobs = append(slf.jobs, RecordedJob{Kind: kind, Job: job})
	return nil
}

func (slf *MemoryDispatcher) Jobs() []RecordedJob {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	return append([]RecordedJob(nil), slf.jobs...)
}
