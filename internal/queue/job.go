// internal/queue/job.go
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is where a job sits in the queue lifecycle.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseDelayed   Phase = "delayed"
	PhaseActive    Phase = "active"
	PhaseFailed    Phase = "failed"
	PhaseCompleted Phase = "completed"
)

// Payload is the dispatch wire contract consumed by workers.
type Payload struct {
	BroadcastID   string                 `json:"broadcastId"`
	ContactID     string                 `json:"contactId"`
	Recipient     string                 `json:"recipient"`
	RecipientName string                 `json:"recipientName,omitempty"`
	TemplateID    string                 `json:"templateId,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Content       string                 `json:"content"`
	Metadata      *Metadata              `json:"metadata,omitempty"`
}

// State is either Active or Parked. Parked overlays a phase while the owning broadcast is paused.
type State interface {
	isJobState()
}

// Active is the normal, dispatchable state.
type Active struct{}

// Parked marks a job held back by a broadcast pause.
type Parked struct {
	PausedAt      time.Time
	FromPhase     Phase
	OriginalJobID string
}

func (Active) isJobState() {}
func (Parked) isJobState() {}

// Job is one durable unit of dispatch work.
type Job struct {
	ID          string
	Name        string
	Payload     Payload
	State       State
	Phase       Phase
	Priority    int
	Attempts    int
	MaxAttempts int
	Backoff     BackoffPolicy
	RunAt       time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	LastError   string
}

// IsParked returns the pause marker when the job carries one.
func (j Job) IsParked() (Parked, bool) {
	p, ok := j.State.(Parked)
	return p, ok
}

// Park converts j into its parked form. A job that is already parked keeps its original marker.
func Park(j Job, from Phase, at time.Time) Job {
	if _, ok := j.IsParked(); ok {
		return j
	}
	j.State = Parked{PausedAt: at.UTC(), FromPhase: from, OriginalJobID: j.ID}
	return j
}

// Unpark strips the pause marker.
func Unpark(j Job) Job {
	j.State = Active{}
	return j
}

// Options controls how a payload is enqueued.
type Options struct {
	JobID    string
	Delay    time.Duration
	Priority int
	Attempts int
	Backoff  *BackoffPolicy
}

// pauseMarker is the stored form of Parked.
type pauseMarker struct {
	Paused        bool   `json:"paused"`
	OriginalJobID string `json:"originalJobId"`
	PausedAt      string `json:"pausedAt"`
	OriginalPhase Phase  `json:"originalPhase"`
}

func encodeState(s State) string {
	p, ok := s.(Parked)
	if !ok {
		return ""
	}
	b, _ := json.Marshal(pauseMarker{
		Paused:        true,
		OriginalJobID: p.OriginalJobID,
		PausedAt:      p.PausedAt.Format(time.RFC3339Nano),
		OriginalPhase: p.FromPhase,
	})
	return string(b)
}

func decodeState(raw string) (State, error) {
	if raw == "" {
		return Active{}, nil
	}
	var m pauseMarker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode pause marker: %w", err)
	}
	if !m.Paused {
		return Active{}, nil
	}
	at, _ := time.Parse(time.RFC3339Nano, m.PausedAt)
	return Parked{PausedAt: at, FromPhase: m.OriginalPhase, OriginalJobID: m.OriginalJobID}, nil
}
